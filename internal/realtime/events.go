// Package realtime implements the websocket gateway: connection registry,
// room membership tracking and event fan-out.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"huddle/internal/models"
)

// Room addresses a broadcast group, keyed by conversation id or tenant id.
type Room string

// ConversationRoom returns the room for a conversation.
func ConversationRoom(conversationID uint) Room {
	return Room(fmt.Sprintf("conv:%d", conversationID))
}

// TenantRoom returns the tenant-wide broadcast room.
func TenantRoom(tenantID uint) Room {
	return Room(fmt.Sprintf("tenant:%d", tenantID))
}

// RoomConversationID extracts the conversation id from a conversation room,
// reporting false for tenant rooms.
func RoomConversationID(r Room) (uint, bool) {
	var id uint
	if _, err := fmt.Sscanf(string(r), "conv:%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// Kind reports "conversation" or "tenant" for metrics labels.
func (r Room) Kind() string {
	if strings.HasPrefix(string(r), "tenant:") {
		return "tenant"
	}
	return "conversation"
}

// Server→client event names.
const (
	EventUserActivity      = "user-activity"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
	EventUserStatusChanged = "user-status-changed"
	EventMessagesRead      = "messages-read"
	EventNewMessage        = "new-message"
	EventMessageUpdated    = "message-updated"
	EventMessageDeleted    = "message-deleted"
	EventReactionAdded     = "reaction-added"
	EventReactionRemoved   = "reaction-removed"
	EventTyping            = "typing"
)

// InboundEventType tags the events a client may send. Handlers switch over
// this exhaustively; an unknown name never reaches a handler.
type InboundEventType int

const (
	InboundUnknown InboundEventType = iota
	InboundJoinConversations
	InboundJoinConversation
	InboundLeaveConversation
	InboundMarkMessagesRead
	InboundUpdateStatus
	InboundTyping
)

// String returns the wire name of the event type.
func (t InboundEventType) String() string {
	switch t {
	case InboundJoinConversations:
		return "join-conversations"
	case InboundJoinConversation:
		return "join-conversation"
	case InboundLeaveConversation:
		return "leave-conversation"
	case InboundMarkMessagesRead:
		return "mark-messages-read"
	case InboundUpdateStatus:
		return "update-status"
	case InboundTyping:
		return "typing"
	default:
		return "unknown"
	}
}

var inboundEventNames = map[string]InboundEventType{
	"join-conversations": InboundJoinConversations,
	"join-conversation":  InboundJoinConversation,
	"leave-conversation": InboundLeaveConversation,
	"mark-messages-read": InboundMarkMessagesRead,
	"update-status":      InboundUpdateStatus,
	"typing":             InboundTyping,
}

// InboundEvent is a decoded client event. Only the fields relevant to its
// Type are populated.
type InboundEvent struct {
	Type           InboundEventType
	ConversationID uint
	MessageIDs     []uint
	Status         models.PresenceStatus
	IsTyping       bool
}

type inboundEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type conversationPayload struct {
	ConversationID uint `json:"conversation_id"`
}

type markReadPayload struct {
	ConversationID uint   `json:"conversation_id"`
	MessageIDs     []uint `json:"message_ids"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type typingPayload struct {
	ConversationID uint `json:"conversation_id"`
	IsTyping       bool `json:"is_typing"`
}

// ParseInboundEvent decodes a raw client frame into a tagged event.
func ParseInboundEvent(raw []byte) (*InboundEvent, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	eventType, ok := inboundEventNames[env.Event]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}

	event := &InboundEvent{Type: eventType}
	switch eventType {
	case InboundJoinConversations:
		// no payload
	case InboundJoinConversation, InboundLeaveConversation:
		var p conversationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID == 0 {
			return nil, fmt.Errorf("malformed %s payload", env.Event)
		}
		event.ConversationID = p.ConversationID
	case InboundMarkMessagesRead:
		var p markReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID == 0 {
			return nil, fmt.Errorf("malformed %s payload", env.Event)
		}
		event.ConversationID = p.ConversationID
		event.MessageIDs = p.MessageIDs
	case InboundUpdateStatus:
		var p statusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload", env.Event)
		}
		event.Status = models.PresenceStatus(p.Status)
	case InboundTyping:
		var p typingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConversationID == 0 {
			return nil, fmt.Errorf("malformed %s payload", env.Event)
		}
		event.ConversationID = p.ConversationID
		event.IsTyping = p.IsTyping
	}

	return event, nil
}

// DropReason explains why an inbound event was dropped. Drops are silent on
// the wire (the connection stays up and gets no error frame); the reason
// exists for logging, metrics and tests.
type DropReason string

const (
	DropNone           DropReason = ""
	DropMalformed      DropReason = "malformed"
	DropUnknownEvent   DropReason = "unknown_event"
	DropNotParticipant DropReason = "not_participant"
	DropInvalidStatus  DropReason = "invalid_status"
	DropEmptyMessages  DropReason = "empty_message_ids"
	DropNotJoined      DropReason = "not_joined"
	DropStoreError     DropReason = "store_error"
)

// Dropped reports whether the event was dropped.
func (r DropReason) Dropped() bool { return r != DropNone }

// Outbound payload shapes shared by the gateway and the message service.

// ActivityPayload is the tenant-wide user-activity event body.
type ActivityPayload struct {
	UserID       uint                  `json:"user_id"`
	LastActiveAt time.Time             `json:"last_active_at"`
	Status       models.PresenceStatus `json:"status,omitempty"`
}

// RoomPresencePayload is the body of user-online / user-offline room events.
type RoomPresencePayload struct {
	UserID         uint   `json:"user_id"`
	DisplayName    string `json:"display_name,omitempty"`
	ConversationID uint   `json:"conversation_id"`
}

// StatusChangedPayload is the body of user-status-changed room events.
type StatusChangedPayload struct {
	UserID    uint                  `json:"user_id"`
	Status    models.PresenceStatus `json:"status"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// MessagesReadPayload is the body of messages-read room events.
type MessagesReadPayload struct {
	UserID         uint      `json:"user_id"`
	ConversationID uint      `json:"conversation_id"`
	MessageIDs     []uint    `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

// TypingPayload is the body of typing room events.
type TypingPayload struct {
	UserID         uint   `json:"user_id"`
	DisplayName    string `json:"display_name,omitempty"`
	ConversationID uint   `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// Envelope is the wire frame for every server→client event.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}
