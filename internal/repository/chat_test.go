package repository

import (
	"context"
	"testing"

	"huddle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.MessageReaction{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func seedUsers(t *testing.T, db *gorm.DB) (*models.User, *models.User) {
	t.Helper()
	tenant := &models.Tenant{Name: "Acme", Slug: "acme"}
	require.NoError(t, db.Create(tenant).Error)

	user1 := &models.User{TenantID: tenant.ID, DisplayName: "User One", Email: "u1@acme.test", Password: "x", IsActive: true}
	user2 := &models.User{TenantID: tenant.ID, DisplayName: "User Two", Email: "u2@acme.test", Password: "x", IsActive: true}
	require.NoError(t, db.Create(user1).Error)
	require.NoError(t, db.Create(user2).Error)
	return user1, user2
}

func TestChatRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	user1, user2 := seedUsers(t, db)

	t.Run("CreateConversation", func(t *testing.T) {
		conv := &models.Conversation{
			TenantID:  user1.TenantID,
			CreatedBy: user1.ID,
			Name:      "Test Group",
			IsGroup:   true,
		}
		err := repo.CreateConversation(ctx, conv)
		assert.NoError(t, err)
		assert.NotZero(t, conv.ID)
	})

	t.Run("AddParticipant is idempotent", func(t *testing.T) {
		conv := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
		require.NoError(t, db.Create(conv).Error)

		assert.NoError(t, repo.AddParticipant(ctx, conv.ID, user1.ID, ""))
		assert.NoError(t, repo.AddParticipant(ctx, conv.ID, user2.ID, models.RoleModerator))
		assert.NoError(t, repo.AddParticipant(ctx, conv.ID, user1.ID, ""))

		fetched, err := repo.GetConversation(ctx, user1.TenantID, conv.ID)
		require.NoError(t, err)
		assert.Len(t, fetched.Participants, 2)
	})

	t.Run("IsParticipant", func(t *testing.T) {
		conv := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
		require.NoError(t, db.Create(conv).Error)
		require.NoError(t, repo.AddParticipant(ctx, conv.ID, user1.ID, ""))

		ok, err := repo.IsParticipant(ctx, conv.ID, user1.ID)
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.IsParticipant(ctx, conv.ID, user2.ID)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RemoveParticipant revokes membership", func(t *testing.T) {
		conv := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
		require.NoError(t, db.Create(conv).Error)
		require.NoError(t, repo.AddParticipant(ctx, conv.ID, user2.ID, ""))

		require.NoError(t, repo.RemoveParticipant(ctx, conv.ID, user2.ID))

		ok, err := repo.IsParticipant(ctx, conv.ID, user2.ID)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ParticipantConversationIDs", func(t *testing.T) {
		conv1 := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
		conv2 := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
		require.NoError(t, db.Create(conv1).Error)
		require.NoError(t, db.Create(conv2).Error)
		require.NoError(t, repo.AddParticipant(ctx, conv1.ID, user2.ID, ""))
		require.NoError(t, repo.AddParticipant(ctx, conv2.ID, user2.ID, ""))

		ids, err := repo.ParticipantConversationIDs(ctx, user2.ID)
		assert.NoError(t, err)
		assert.ElementsMatch(t, []uint{conv1.ID, conv2.ID}, ids)
	})

	t.Run("CreateMessage and GetMessages ordering", func(t *testing.T) {
		conv := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
		require.NoError(t, db.Create(conv).Error)
		require.NoError(t, repo.AddParticipant(ctx, conv.ID, user1.ID, ""))

		for _, content := range []string{"first", "second", "third"} {
			msg := &models.Message{ConversationID: conv.ID, SenderID: user1.ID, Content: content}
			require.NoError(t, repo.CreateMessage(ctx, msg))
			assert.NotZero(t, msg.ID)
		}

		msgs, err := repo.GetMessages(ctx, conv.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "first", msgs[0].Content)
		assert.Equal(t, "third", msgs[2].Content)
	})

	t.Run("DeleteMessage soft-deletes", func(t *testing.T) {
		conv := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
		require.NoError(t, db.Create(conv).Error)
		msg := &models.Message{ConversationID: conv.ID, SenderID: user1.ID, Content: "bye"}
		require.NoError(t, repo.CreateMessage(ctx, msg))

		require.NoError(t, repo.DeleteMessage(ctx, msg.ID))

		_, err := repo.GetMessage(ctx, msg.ID)
		require.Error(t, err)
		appErr, ok := err.(*models.AppError)
		require.True(t, ok)
		assert.Equal(t, models.CodeNotFound, appErr.Code)

		// Row survives the soft delete
		var count int64
		db.Unscoped().Model(&models.Message{}).Where("id = ?", msg.ID).Count(&count)
		assert.EqualValues(t, 1, count)
	})
}

func TestMarkMessagesRead(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	user1, user2 := seedUsers(t, db)
	conv := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
	require.NoError(t, db.Create(conv).Error)
	require.NoError(t, repo.AddParticipant(ctx, conv.ID, user1.ID, ""))
	require.NoError(t, repo.AddParticipant(ctx, conv.ID, user2.ID, ""))

	var fromOther []uint
	for i := 0; i < 3; i++ {
		msg := &models.Message{ConversationID: conv.ID, SenderID: user1.ID, Content: "hi"}
		require.NoError(t, repo.CreateMessage(ctx, msg))
		fromOther = append(fromOther, msg.ID)
	}
	own := &models.Message{ConversationID: conv.ID, SenderID: user2.ID, Content: "mine"}
	require.NoError(t, repo.CreateMessage(ctx, own))

	t.Run("marks all unread from others", func(t *testing.T) {
		marked, err := repo.MarkMessagesRead(ctx, conv.ID, user2.ID, nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, fromOther, marked)
	})

	t.Run("second call marks nothing", func(t *testing.T) {
		marked, err := repo.MarkMessagesRead(ctx, conv.ID, user2.ID, nil)
		require.NoError(t, err)
		assert.Empty(t, marked)
	})

	t.Run("explicit subset", func(t *testing.T) {
		msg := &models.Message{ConversationID: conv.ID, SenderID: user1.ID, Content: "new"}
		require.NoError(t, repo.CreateMessage(ctx, msg))
		other := &models.Message{ConversationID: conv.ID, SenderID: user1.ID, Content: "also new"}
		require.NoError(t, repo.CreateMessage(ctx, other))

		marked, err := repo.MarkMessagesRead(ctx, conv.ID, user2.ID, []uint{msg.ID})
		require.NoError(t, err)
		assert.Equal(t, []uint{msg.ID}, marked)
	})
}

func TestReactions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	user1, user2 := seedUsers(t, db)
	conv := &models.Conversation{TenantID: user1.TenantID, CreatedBy: user1.ID}
	require.NoError(t, db.Create(conv).Error)
	msg := &models.Message{ConversationID: conv.ID, SenderID: user1.ID, Content: "react to me"}
	require.NoError(t, repo.CreateMessage(ctx, msg))

	t.Run("add and dedupe", func(t *testing.T) {
		added, err := repo.AddReaction(ctx, &models.MessageReaction{MessageID: msg.ID, UserID: user2.ID, Emoji: "👍"})
		require.NoError(t, err)
		assert.True(t, added)

		added, err = repo.AddReaction(ctx, &models.MessageReaction{MessageID: msg.ID, UserID: user2.ID, Emoji: "👍"})
		require.NoError(t, err)
		assert.False(t, added)

		added, err = repo.AddReaction(ctx, &models.MessageReaction{MessageID: msg.ID, UserID: user2.ID, Emoji: "🎉"})
		require.NoError(t, err)
		assert.True(t, added)
	})

	t.Run("remove", func(t *testing.T) {
		removed, err := repo.RemoveReaction(ctx, msg.ID, user2.ID, "👍")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = repo.RemoveReaction(ctx, msg.ID, user2.ID, "👍")
		require.NoError(t, err)
		assert.False(t, removed)
	})
}
