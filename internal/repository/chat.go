package repository

import (
	"context"
	"errors"

	"huddle/internal/cache"
	"huddle/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository defines the interface for conversation and message data operations.
type ChatRepository interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, tenantID, id uint) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, tenantID, userID uint) ([]*models.Conversation, error)
	AddParticipant(ctx context.Context, convID, userID uint, role models.Role) error
	RemoveParticipant(ctx context.Context, convID, userID uint) error
	IsParticipant(ctx context.Context, convID, userID uint) (bool, error)
	ParticipantConversationIDs(ctx context.Context, userID uint) ([]uint, error)
	ParticipantIDs(ctx context.Context, convID uint) ([]uint, error)

	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	GetMessages(ctx context.Context, convID uint, limit, offset int) ([]*models.Message, error)
	UpdateMessage(ctx context.Context, msg *models.Message) error
	DeleteMessage(ctx context.Context, id uint) error

	MarkMessagesRead(ctx context.Context, convID, userID uint, messageIDs []uint) ([]uint, error)
	AddReaction(ctx context.Context, reaction *models.MessageReaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID uint, emoji string) (bool, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) GetConversation(ctx context.Context, tenantID, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? OR cross_tenant = ?", tenantID, true).
		Preload("Participants").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Limit(50)
		}).
		Preload("Messages.Sender").
		First(&conv, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Conversation", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

func (r *chatRepository) GetUserConversations(ctx context.Context, tenantID, userID uint) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	key := cache.ConversationListKey(tenantID, userID)

	err := cache.Aside(ctx, key, &conversations, cache.ConversationListTTL, func() error {
		err := r.db.WithContext(ctx).
			Joins("JOIN conversation_participants cp ON conversations.id = cp.conversation_id").
			Where("cp.user_id = ?", userID).
			Preload("Participants").
			Preload("Messages", func(db *gorm.DB) *gorm.DB {
				return db.Order("created_at DESC").Limit(1)
			}).
			Preload("Messages.Sender").
			Order("conversations.updated_at DESC").
			Find(&conversations).Error
		if err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *chatRepository) AddParticipant(ctx context.Context, convID, userID uint, role models.Role) error {
	if role == "" {
		role = models.RoleMember
	}
	participant := models.ConversationParticipant{
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
	}
	// OnConflict so re-adding an existing participant is a no-op
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&participant).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) RemoveParticipant(ctx context.Context, convID, userID uint) error {
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Delete(&models.ConversationParticipant{}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) IsParticipant(ctx context.Context, convID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *chatRepository) ParticipantConversationIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *chatRepository) ParticipantIDs(ctx context.Context, convID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", convID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).Preload("Sender").First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

func (r *chatRepository) GetMessages(ctx context.Context, convID uint, limit, offset int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Preload("Sender").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	// Fetched DESC to get the latest page, client expects chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *chatRepository) UpdateMessage(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Save(msg).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) DeleteMessage(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Message{}, id).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// MarkMessagesRead records read receipts for the given messages and returns
// the IDs that were newly marked. With an empty messageIDs it covers every
// message in the conversation not sent by the reader. Already-read messages
// are skipped, so marking twice returns nothing the second time.
func (r *chatRepository) MarkMessagesRead(ctx context.Context, convID, userID uint, messageIDs []uint) ([]uint, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", convID, userID).
		Where("id NOT IN (?)", r.db.Model(&models.MessageRead{}).Select("message_id").Where("user_id = ?", userID))
	if len(messageIDs) > 0 {
		query = query.Where("id IN ?", messageIDs)
	}

	var unread []uint
	if err := query.Pluck("messages.id", &unread).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(unread) == 0 {
		return nil, nil
	}

	reads := make([]models.MessageRead, 0, len(unread))
	for _, id := range unread {
		reads = append(reads, models.MessageRead{MessageID: id, UserID: userID})
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&reads).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return unread, nil
}

// AddReaction inserts a reaction, reporting whether a row was actually
// created. Duplicate (message, user, emoji) inserts are silent no-ops.
func (r *chatRepository) AddReaction(ctx context.Context, reaction *models.MessageReaction) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(reaction)
	if result.Error != nil {
		return false, models.NewInternalError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *chatRepository) RemoveReaction(ctx context.Context, messageID, userID uint, emoji string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&models.MessageReaction{})
	if result.Error != nil {
		return false, models.NewInternalError(result.Error)
	}
	return result.RowsAffected > 0, nil
}
