// Package identity resolves bearer credentials into verified user identities.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"huddle/internal/config"
	"huddle/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	tokenTTL  = 24 * time.Hour
	ticketTTL = 30 * time.Second
)

// Identity is a verified principal attached to every authenticated request
// and realtime connection.
type Identity struct {
	UserID      uint        `json:"user_id"`
	TenantID    uint        `json:"tenant_id"`
	Role        models.Role `json:"role"`
	DisplayName string      `json:"display_name"`
}

// Claims is the JWT claim set issued for API and realtime access.
type Claims struct {
	TenantID uint        `json:"tid"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserSource loads users for identity resolution. Satisfied by the user repository.
type UserSource interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

// Resolver verifies tokens and tickets and resolves them to live identities.
type Resolver struct {
	cfg   *config.Config
	users UserSource
	rdb   *redis.Client
}

// NewResolver creates a Resolver backed by the given user source and Redis client.
// The Redis client may be nil when ticket support is not needed (tests).
func NewResolver(cfg *config.Config, users UserSource, rdb *redis.Client) *Resolver {
	return &Resolver{cfg: cfg, users: users, rdb: rdb}
}

// IssueToken signs a JWT for the given user.
func (r *Resolver) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: user.TenantID,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			Issuer:    r.cfg.JWTIssuer,
			Audience:  jwt.ClaimStrings{r.cfg.JWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", models.NewInternalError(fmt.Errorf("sign token: %w", err))
	}
	return signed, nil
}

// Resolve verifies a bearer token and returns the identity of a live, active user.
//
// A bad token (signature, expiry, issuer, audience, malformed subject) is an
// authentication error. A token that verifies but points at a missing or
// deactivated account is an authorization error: the credential was real, the
// account is no longer allowed in.
func (r *Resolver) Resolve(ctx context.Context, tokenString string) (*Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	},
		jwt.WithIssuer(r.cfg.JWTIssuer),
		jwt.WithAudience(r.cfg.JWTAudience),
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil || !token.Valid {
		return nil, models.NewAuthenticationError("invalid or expired token")
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil {
		return nil, models.NewAuthenticationError("invalid token subject")
	}

	return r.resolveUser(ctx, uint(userID), claims.TenantID)
}

func (r *Resolver) resolveUser(ctx context.Context, userID, tenantID uint) (*Identity, error) {
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		var appErr *models.AppError
		if errors.Is(err, gorm.ErrRecordNotFound) || (errors.As(err, &appErr) && appErr.Code == models.CodeNotFound) {
			return nil, models.NewAuthorizationError("account no longer exists")
		}
		return nil, models.NewInternalError(fmt.Errorf("load user: %w", err))
	}

	if !user.IsActive {
		return nil, models.NewAuthorizationError("account is deactivated")
	}
	if tenantID != 0 && user.TenantID != tenantID {
		return nil, models.NewAuthorizationError("tenant mismatch")
	}

	return &Identity{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Role:        user.Role,
		DisplayName: user.DisplayName,
	}, nil
}

type ticketPayload struct {
	UserID   uint `json:"user_id"`
	TenantID uint `json:"tenant_id"`
}

func ticketKey(ticket string) string {
	return "ws:ticket:" + ticket
}

// IssueTicket mints a short-lived single-use ticket for a WebSocket handshake,
// so tokens never travel in query strings.
func (r *Resolver) IssueTicket(ctx context.Context, ident *Identity) (string, error) {
	if r.rdb == nil {
		return "", models.NewInternalError(errors.New("ticket store unavailable"))
	}

	ticket := uuid.NewString()
	payload, err := json.Marshal(ticketPayload{UserID: ident.UserID, TenantID: ident.TenantID})
	if err != nil {
		return "", models.NewInternalError(fmt.Errorf("encode ticket: %w", err))
	}

	if err := r.rdb.Set(ctx, ticketKey(ticket), payload, ticketTTL).Err(); err != nil {
		return "", models.NewInternalError(fmt.Errorf("store ticket: %w", err))
	}
	return ticket, nil
}

// ResolveTicket redeems a handshake ticket. Tickets are single-use: redeeming
// deletes the ticket atomically, so a replayed ticket fails authentication.
func (r *Resolver) ResolveTicket(ctx context.Context, ticket string) (*Identity, error) {
	if r.rdb == nil {
		return nil, models.NewInternalError(errors.New("ticket store unavailable"))
	}

	raw, err := r.rdb.GetDel(ctx, ticketKey(ticket)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.NewAuthenticationError("invalid or expired ticket")
		}
		return nil, models.NewInternalError(fmt.Errorf("redeem ticket: %w", err))
	}

	var payload ticketPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, models.NewAuthenticationError("invalid ticket payload")
	}

	return r.resolveUser(ctx, payload.UserID, payload.TenantID)
}
