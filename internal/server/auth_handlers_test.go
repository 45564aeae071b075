package server

import (
	"context"
	"net/http"
	"testing"

	"huddle/internal/cache"
	"huddle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapTenant(t *testing.T) {
	_, app, _ := newTestServer(t)

	t.Run("creates tenant with admin", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/tenants", "", map[string]string{
			"tenant_name": "Acme",
			"slug":        "acme",
			"admin_name":  "Alice",
			"admin_email": "alice@acme.test",
			"password":    "password123",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.NotNil(t, body["tenant"])
		assert.NotNil(t, body["admin"])
	})

	t.Run("duplicate slug conflicts", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/tenants", "", map[string]string{
			"tenant_name": "Acme Again",
			"slug":        "acme",
			"admin_name":  "Bob",
			"admin_email": "bob@acme.test",
			"password":    "password123",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("short password rejected", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/tenants", "", map[string]string{
			"tenant_name": "Beta",
			"slug":        "beta",
			"admin_name":  "Bea",
			"admin_email": "bea@beta.test",
			"password":    "short",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestLogin(t *testing.T) {
	s, app, _ := newTestServer(t)
	bootstrapWorkspace(t, app, "acme")

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@acme.test",
			"password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("unknown email is indistinguishable from wrong password", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "nobody@acme.test",
			"password": "password123",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "Invalid email or password", body["error"])
	})

	t.Run("deactivated account is forbidden", func(t *testing.T) {
		var user models.User
		require.NoError(t, s.db.Where("email = ?", "alice@acme.test").First(&user).Error)
		require.NoError(t, s.db.Model(&user).Update("is_active", false).Error)
		cache.Invalidate(context.Background(), cache.UserKey(user.ID))

		resp := doJSON(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@acme.test",
			"password": "password123",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()

		require.NoError(t, s.db.Model(&user).Update("is_active", true).Error)
		cache.Invalidate(context.Background(), cache.UserKey(user.ID))
	})

	t.Run("login marks the user online", func(t *testing.T) {
		login(t, app, "alice@acme.test", "password123")

		var user models.User
		require.NoError(t, s.db.Where("email = ?", "alice@acme.test").First(&user).Error)
		assert.Equal(t, models.StatusOnline, user.OnlineStatus)
		assert.NotNil(t, user.LastSeenAt)
	})
}

func TestLogout(t *testing.T) {
	s, app, _ := newTestServer(t)
	token := bootstrapWorkspace(t, app, "acme")

	resp := doJSON(t, app, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	var user models.User
	require.NoError(t, s.db.Where("email = ?", "alice@acme.test").First(&user).Error)
	assert.Equal(t, models.StatusOffline, user.OnlineStatus)

	// Logout does not revoke the token; the session just went offline.
	resp = doJSON(t, app, http.MethodGet, "/api/users/me", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAuthRequired(t *testing.T) {
	s, app, _ := newTestServer(t)
	token := bootstrapWorkspace(t, app, "acme")

	t.Run("no header", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/api/users/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("garbage token", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/api/users/me", "not.a.token", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("valid token resolves identity", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/api/users/me", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "alice@acme.test", body["email"])
	})

	t.Run("deactivated account with valid token is forbidden", func(t *testing.T) {
		var user models.User
		require.NoError(t, s.db.Where("email = ?", "alice@acme.test").First(&user).Error)
		require.NoError(t, s.db.Model(&user).Update("is_active", false).Error)
		cache.Invalidate(context.Background(), cache.UserKey(user.ID))

		resp := doJSON(t, app, http.MethodGet, "/api/users/me", token, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestCreateUser(t *testing.T) {
	_, app, _ := newTestServer(t)
	adminToken := bootstrapWorkspace(t, app, "acme")

	t.Run("admin creates a member", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/users", adminToken, map[string]string{
			"display_name": "Bob",
			"email":        "bob@acme.test",
			"password":     "password123",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, string(models.RoleMember), body["role"])
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, "/api/users", adminToken, map[string]string{
			"display_name": "Bob Again",
			"email":        "bob@acme.test",
			"password":     "password123",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("member cannot create users", func(t *testing.T) {
		memberToken := login(t, app, "bob@acme.test", "password123")

		resp := doJSON(t, app, http.MethodPost, "/api/users", memberToken, map[string]string{
			"display_name": "Carol",
			"email":        "carol@acme.test",
			"password":     "password123",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestGetPresence(t *testing.T) {
	_, app, _ := newTestServer(t)
	adminToken := bootstrapWorkspace(t, app, "acme")
	createUser(t, app, adminToken, "Bob", "bob@acme.test")

	resp := doJSON(t, app, http.MethodGet, "/api/users/me", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decodeBody(t, resp)
	adminID := int(me["id"].(float64))

	t.Run("reports status and last seen", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/api/users/"+itoa(adminID)+"/presence", adminToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, string(models.StatusOnline), body["status"])
	})

	t.Run("other tenants see nothing", func(t *testing.T) {
		otherToken := bootstrapWorkspace(t, app, "globex")

		resp := doJSON(t, app, http.MethodGet, "/api/users/"+itoa(adminID)+"/presence", otherToken, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})
}
