package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation represents a chat conversation (1-on-1 or group) scoped to a
// tenant. CrossTenant marks the explicit opt-in for conversations whose
// participants span tenants.
type Conversation struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	TenantID     uint           `gorm:"not null;index" json:"tenant_id"`
	Name         string         `json:"name"` // group conversations only
	IsGroup      bool           `gorm:"default:false" json:"is_group"`
	CrossTenant  bool           `gorm:"default:false" json:"cross_tenant"`
	CreatedBy    uint           `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	Participants []User         `gorm:"many2many:conversation_participants;" json:"participants,omitempty"`
	Messages     []Message      `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// ConversationParticipant is the membership relation: a user may act on a
// conversation (join its realtime room, read and send messages) iff a live
// row exists for the (user, conversation) pair.
type ConversationParticipant struct {
	ConversationID uint      `gorm:"primaryKey" json:"conversation_id"`
	UserID         uint      `gorm:"primaryKey" json:"user_id"`
	Role           Role      `gorm:"type:varchar(20);default:'member'" json:"role"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// Message represents a chat message. Read status lives in MessageRead, not
// on the message row, so read tracking is per recipient.
type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID uint           `gorm:"not null;index" json:"conversation_id"`
	Conversation   *Conversation  `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
	SenderID       uint           `gorm:"not null;index" json:"sender_id"`
	Sender         *User          `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	MessageType    string         `gorm:"default:'text'" json:"message_type"` // text, image, file, etc.
	ThreadID       *uint          `gorm:"index" json:"thread_id,omitempty"`
	ParentID       *uint          `json:"parent_id,omitempty"`
	IsEdited       bool           `gorm:"default:false" json:"is_edited"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// MessageRead records that a user has read a message.
type MessageRead struct {
	MessageID uint      `gorm:"primaryKey" json:"message_id"`
	UserID    uint      `gorm:"primaryKey" json:"user_id"`
	ReadAt    time.Time `gorm:"autoCreateTime" json:"read_at"`
}

// MessageReaction is an emoji reaction on a message, unique per
// (message, user, emoji).
type MessageReaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;index;uniqueIndex:idx_reaction_once" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reaction_once" json:"user_id"`
	Emoji     string    `gorm:"size:40;not null;uniqueIndex:idx_reaction_once" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
