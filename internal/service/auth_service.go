package service

import (
	"context"
	"time"

	"huddle/internal/identity"
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/repository"
	"huddle/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// PresenceStore is the presence surface the auth flow needs: login marks
// online, logout marks offline.
type PresenceStore interface {
	PresenceWriter
	MarkOffline(ctx context.Context, userID uint) (time.Time, error)
}

// PresenceAnnouncer fans a presence transition out to live connections.
// Satisfied by the realtime gateway.
type PresenceAnnouncer interface {
	AnnouncePresence(userID, tenantID uint, status models.PresenceStatus, stamp time.Time)
}

// AuthService handles login, logout, user creation and tenant bootstrap.
type AuthService struct {
	users     repository.UserRepository
	tenants   repository.TenantRepository
	resolver  *identity.Resolver
	presence  PresenceStore
	announcer PresenceAnnouncer
}

// NewAuthService returns a new AuthService. presence and announcer may be nil.
func NewAuthService(
	users repository.UserRepository,
	tenants repository.TenantRepository,
	resolver *identity.Resolver,
	presence PresenceStore,
	announcer PresenceAnnouncer,
) *AuthService {
	return &AuthService{
		users:     users,
		tenants:   tenants,
		resolver:  resolver,
		presence:  presence,
		announcer: announcer,
	}
}

// Login verifies credentials and returns a signed token. A wrong email and a
// wrong password are indistinguishable to the caller; a deactivated account
// is not, since deactivation is a legitimate admin action.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, models.NewAuthenticationError("Invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, models.NewAuthenticationError("Invalid email or password")
	}
	if !user.IsActive {
		return "", nil, models.NewAuthorizationError("Account is deactivated")
	}

	token, err := s.resolver.IssueToken(user)
	if err != nil {
		return "", nil, err
	}

	s.transition(ctx, user, models.StatusOnline)
	return token, user, nil
}

// Logout marks the user offline. The token stays valid until expiry; logout
// is a presence transition, not a revocation.
func (s *AuthService) Logout(ctx context.Context, ident *identity.Identity) {
	user := &models.User{ID: ident.UserID, TenantID: ident.TenantID}
	s.transitionOffline(ctx, user)
}

func (s *AuthService) transition(ctx context.Context, user *models.User, status models.PresenceStatus) {
	if s.presence == nil {
		return
	}
	stamp, err := s.presence.MarkOnline(ctx, user.ID)
	if err != nil {
		observability.Logger.WarnContext(ctx, "auth: presence transition failed", "error", err)
		return
	}
	if s.announcer != nil {
		s.announcer.AnnouncePresence(user.ID, user.TenantID, status, stamp)
	}
}

func (s *AuthService) transitionOffline(ctx context.Context, user *models.User) {
	if s.presence == nil {
		return
	}
	stamp, err := s.presence.MarkOffline(ctx, user.ID)
	if err != nil {
		observability.Logger.WarnContext(ctx, "auth: presence transition failed", "error", err)
		return
	}
	if s.announcer != nil {
		s.announcer.AnnouncePresence(user.ID, user.TenantID, models.StatusOffline, stamp)
	}
}

// CreateUserInput is the input for creating a user inside a tenant.
type CreateUserInput struct {
	DisplayName string
	Email       string
	Password    string
	Role        models.Role
}

// CreateUser creates an account in the caller's tenant. Admin only.
func (s *AuthService) CreateUser(ctx context.Context, ident *identity.Identity, in CreateUserInput) (*models.User, error) {
	if ident.Role != models.RoleAdmin {
		return nil, models.NewAuthorizationError("Only admins can create users")
	}
	if err := validation.ValidateDisplayName(in.DisplayName); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	role := in.Role
	if role == "" {
		role = models.RoleMember
	}
	user := &models.User{
		TenantID:    ident.TenantID,
		DisplayName: in.DisplayName,
		Email:       in.Email,
		Password:    string(hash),
		Role:        role,
		IsActive:    true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// BootstrapTenantInput is the input for creating a tenant with its first admin.
type BootstrapTenantInput struct {
	TenantName string
	Slug       string
	AdminName  string
	AdminEmail string
	Password   string
}

// BootstrapTenant atomically creates a tenant, its admin account and a
// default conversation. A duplicate slug or email rolls the whole thing back.
func (s *AuthService) BootstrapTenant(ctx context.Context, in BootstrapTenantInput) (*models.Tenant, *models.User, error) {
	if in.TenantName == "" {
		return nil, nil, models.NewValidationError("Tenant name is required")
	}
	if err := validation.ValidateSlug(in.Slug); err != nil {
		return nil, nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateEmail(in.AdminEmail); err != nil {
		return nil, nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, nil, models.NewValidationError(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, models.NewInternalError(err)
	}

	tenant := &models.Tenant{Name: in.TenantName, Slug: in.Slug}
	admin := &models.User{
		DisplayName: in.AdminName,
		Email:       in.AdminEmail,
		Password:    string(hash),
		IsActive:    true,
	}
	if err := s.tenants.Bootstrap(ctx, tenant, admin); err != nil {
		return nil, nil, err
	}
	return tenant, admin, nil
}
