package seed

import (
	"testing"

	"huddle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.MessageReaction{},
	))
	return db
}

func TestWorkspace(t *testing.T) {
	db := setupTestDB(t)
	s := NewSeeder(db)

	tenant, err := s.Workspace(Options{
		TenantName:  "Acme",
		Slug:        "acme",
		NumUsers:    6,
		NumChannels: 3,
		NumMessages: 40,
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.Slug)

	var userCount int64
	require.NoError(t, db.Model(&models.User{}).Where("tenant_id = ?", tenant.ID).Count(&userCount).Error)
	assert.Equal(t, int64(6), userCount)

	var admin models.User
	require.NoError(t, db.Where("tenant_id = ? AND role = ?", tenant.ID, models.RoleAdmin).First(&admin).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(DefaultPassword)))

	var channels []models.Conversation
	require.NoError(t, db.Where("tenant_id = ? AND is_group = ?", tenant.ID, true).Find(&channels).Error)
	assert.Len(t, channels, 3)

	// The first channel holds everyone.
	var participantCount int64
	require.NoError(t, db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", channels[0].ID).Count(&participantCount).Error)
	assert.Equal(t, int64(6), participantCount)

	var messageCount int64
	require.NoError(t, db.Model(&models.Message{}).Count(&messageCount).Error)
	assert.NotZero(t, messageCount)

	// Every message sender must be a participant of its conversation.
	var orphaned int64
	require.NoError(t, db.Model(&models.Message{}).
		Where("NOT EXISTS (SELECT 1 FROM conversation_participants cp WHERE cp.conversation_id = messages.conversation_id AND cp.user_id = messages.sender_id)").
		Count(&orphaned).Error)
	assert.Zero(t, orphaned)
}

func TestClearAll(t *testing.T) {
	db := setupTestDB(t)
	s := NewSeeder(db)

	_, err := s.Workspace(Options{TenantName: "Acme", Slug: "acme", NumUsers: 3})
	require.NoError(t, err)

	require.NoError(t, s.ClearAll())

	for _, table := range []interface{}{
		&models.Tenant{}, &models.User{}, &models.Conversation{},
		&models.Message{}, &models.MessageReaction{}, &models.MessageRead{},
	} {
		var count int64
		require.NoError(t, db.Model(table).Unscoped().Count(&count).Error)
		assert.Zero(t, count, "table %T not empty", table)
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "acme-corp", slugify("Acme Corp"))
	assert.Equal(t, "o-reilly-sons", slugify("O'Reilly & Sons"))
	assert.Equal(t, "a-b", slugify("--A  b--"))
}
