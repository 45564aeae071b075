package repository

import (
	"context"
	"errors"

	"huddle/internal/models"

	"gorm.io/gorm"
)

// TenantRepository defines persistence operations for tenants.
type TenantRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	// Bootstrap creates a tenant together with its first admin user and a
	// default conversation in a single transaction. Either everything lands
	// or nothing does.
	Bootstrap(ctx context.Context, tenant *models.Tenant, admin *models.User) error
}

type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository returns a new TenantRepository implementation.
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) GetByID(ctx context.Context, id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Tenant", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &tenant, nil
}

func (r *tenantRepository) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Tenant", slug)
		}
		return nil, models.NewInternalError(err)
	}
	return &tenant, nil
}

func (r *tenantRepository) Bootstrap(ctx context.Context, tenant *models.Tenant, admin *models.User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tenant).Error; err != nil {
			return err
		}

		admin.TenantID = tenant.ID
		admin.Role = models.RoleAdmin
		if err := tx.Create(admin).Error; err != nil {
			return err
		}

		general := &models.Conversation{
			TenantID:  tenant.ID,
			Name:      "general",
			IsGroup:   true,
			CreatedBy: admin.ID,
		}
		if err := tx.Create(general).Error; err != nil {
			return err
		}

		participant := &models.ConversationParticipant{
			ConversationID: general.ID,
			UserID:         admin.ID,
			Role:           models.RoleAdmin,
		}
		return tx.Create(participant).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Tenant slug or admin email already taken")
		}
		return models.NewInternalError(err)
	}
	return nil
}
