package server

import (
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/service"

	"github.com/gofiber/fiber/v2"
)

// AuthRequired returns middleware that resolves the Authorization header to a
// live identity. A bad credential is 401; a real credential pointing at a
// deactivated or vanished account is 403.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return respondError(c, models.NewAuthenticationError("Authorization required"))
		}

		ident, err := s.resolver.Resolve(c.Context(), token)
		if err != nil {
			return respondError(c, err)
		}

		c.Locals("identity", ident)
		c.Locals("userID", ident.UserID)
		c.Locals("tenantID", ident.TenantID)

		// Sync to UserContext for logging and downstream services
		ctx := observability.WithUser(c.UserContext(), ident.UserID, ident.TenantID)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// Login handles POST /api/auth/login.
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}
	if req.Email == "" || req.Password == "" {
		return respondError(c, models.NewValidationError("Email and password are required"))
	}

	token, user, err := s.authService.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

// Logout handles POST /api/auth/logout. The token stays valid until expiry;
// logout is a presence transition.
func (s *Server) Logout(c *fiber.Ctx) error {
	ident := currentIdentity(c)
	s.authService.Logout(c.Context(), ident)
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// BootstrapTenant handles POST /api/tenants: a new workspace with its first
// admin account, created atomically.
func (s *Server) BootstrapTenant(c *fiber.Ctx) error {
	var req struct {
		TenantName string `json:"tenant_name"`
		Slug       string `json:"slug"`
		AdminName  string `json:"admin_name"`
		AdminEmail string `json:"admin_email"`
		Password   string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	tenant, admin, err := s.authService.BootstrapTenant(c.Context(), service.BootstrapTenantInput{
		TenantName: req.TenantName,
		Slug:       req.Slug,
		AdminName:  req.AdminName,
		AdminEmail: req.AdminEmail,
		Password:   req.Password,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"tenant": tenant,
		"admin":  admin,
	})
}

// GetTenantBySlug handles GET /api/tenants/:slug.
func (s *Server) GetTenantBySlug(c *fiber.Ctx) error {
	tenant, err := s.tenantRepo.GetBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tenant)
}

// GetMe handles GET /api/users/me.
func (s *Server) GetMe(c *fiber.Ctx) error {
	ident := currentIdentity(c)
	user, err := s.userRepo.FindByID(c.Context(), ident.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// ListUsers handles GET /api/users, scoped to the caller's tenant.
func (s *Server) ListUsers(c *fiber.Ctx) error {
	ident := currentIdentity(c)
	p := parsePagination(c, 50)

	users, err := s.userRepo.ListByTenant(c.Context(), ident.TenantID, p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

// CreateUser handles POST /api/users. Admin only; the service enforces it.
func (s *Server) CreateUser(c *fiber.Ctx) error {
	var req struct {
		DisplayName string      `json:"display_name"`
		Email       string      `json:"email"`
		Password    string      `json:"password"`
		Role        models.Role `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	user, err := s.authService.CreateUser(c.Context(), currentIdentity(c), service.CreateUserInput{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// GetPresence handles GET /api/users/:id/presence.
func (s *Server) GetPresence(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	// Presence is tenant-scoped: the target must live in the caller's tenant.
	ident := currentIdentity(c)
	user, err := s.userRepo.FindByID(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	if user.TenantID != ident.TenantID {
		return respondError(c, models.NewNotFoundError("user", userID))
	}

	snap, err := s.presence.Get(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snap)
}
