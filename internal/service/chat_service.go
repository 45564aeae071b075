// Package service provides the application business logic.
package service

import (
	"context"
	"time"

	"huddle/internal/cache"
	"huddle/internal/identity"
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/realtime"
	"huddle/internal/repository"
)

// PresenceWriter is the slice of the presence store the service drives:
// message sends count as activity and refresh the sender's status.
type PresenceWriter interface {
	MarkOnline(ctx context.Context, userID uint) (time.Time, error)
}

// ChatService orchestrates conversation and message writes. Every mutation
// persists first and broadcasts second; a failed or missing broadcast never
// rolls back a committed write.
type ChatService struct {
	chatRepo    repository.ChatRepository
	userRepo    repository.UserRepository
	tenantRepo  repository.TenantRepository
	presence    PresenceWriter
	broadcaster realtime.Broadcaster
}

// NewChatService returns a new ChatService. presence and broadcaster may be
// nil; persistence then proceeds without live signals.
func NewChatService(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	tenantRepo repository.TenantRepository,
	presence PresenceWriter,
	broadcaster realtime.Broadcaster,
) *ChatService {
	return &ChatService{
		chatRepo:    chatRepo,
		userRepo:    userRepo,
		tenantRepo:  tenantRepo,
		presence:    presence,
		broadcaster: broadcaster,
	}
}

// emit is the best-effort broadcast hook. The write already committed when
// this runs; delivery failure is logged by the gateway, never surfaced here.
func (s *ChatService) emit(room realtime.Room, event string, payload interface{}) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Emit(room, event, payload)
}

func (s *ChatService) requireParticipant(ctx context.Context, convID, userID uint) error {
	ok, err := s.chatRepo.IsParticipant(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewAuthorizationError("You are not a participant of this conversation")
	}
	return nil
}

// CreateConversationInput is the input for creating a conversation.
type CreateConversationInput struct {
	Name           string
	IsGroup        bool
	ParticipantIDs []uint
}

// CreateConversation creates a conversation and enrolls the creator plus the
// given participants.
func (s *ChatService) CreateConversation(ctx context.Context, ident *identity.Identity, in CreateConversationInput) (*models.Conversation, error) {
	if in.IsGroup && in.Name == "" {
		return nil, models.NewValidationError("Group conversations require a name")
	}
	if len(in.ParticipantIDs) == 0 {
		return nil, models.NewValidationError("At least one participant is required")
	}

	conv := &models.Conversation{
		TenantID:  ident.TenantID,
		Name:      in.Name,
		IsGroup:   in.IsGroup,
		CreatedBy: ident.UserID,
	}
	if err := s.chatRepo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	members := append([]uint{ident.UserID}, in.ParticipantIDs...)
	for _, userID := range members {
		role := models.RoleMember
		if userID == ident.UserID {
			role = models.RoleAdmin
		}
		if err := s.chatRepo.AddParticipant(ctx, conv.ID, userID, role); err != nil {
			return nil, err
		}
		cache.Invalidate(ctx, cache.ConversationListKey(ident.TenantID, userID))
	}

	return s.chatRepo.GetConversation(ctx, ident.TenantID, conv.ID)
}

// GetConversation returns a conversation the caller participates in.
func (s *ChatService) GetConversation(ctx context.Context, ident *identity.Identity, convID uint) (*models.Conversation, error) {
	if err := s.requireParticipant(ctx, convID, ident.UserID); err != nil {
		return nil, err
	}
	return s.chatRepo.GetConversation(ctx, ident.TenantID, convID)
}

// ListConversations returns the caller's conversations.
func (s *ChatService) ListConversations(ctx context.Context, ident *identity.Identity) ([]*models.Conversation, error) {
	return s.chatRepo.GetUserConversations(ctx, ident.TenantID, ident.UserID)
}

// GetMessages returns a page of messages for participants.
func (s *ChatService) GetMessages(ctx context.Context, ident *identity.Identity, convID uint, limit, offset int) ([]*models.Message, error) {
	if err := s.requireParticipant(ctx, convID, ident.UserID); err != nil {
		return nil, err
	}
	return s.chatRepo.GetMessages(ctx, convID, limit, offset)
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	ConversationID uint
	Content        string
	MessageType    string
	ThreadID       *uint
	ParentID       *uint
}

// SendMessage persists a message, refreshes the sender's presence (sending
// counts as activity) and broadcasts new-message into the conversation room.
func (s *ChatService) SendMessage(ctx context.Context, ident *identity.Identity, in SendMessageInput) (*models.Message, error) {
	if in.Content == "" {
		return nil, models.NewValidationError("Message content is required")
	}
	if err := s.requireParticipant(ctx, in.ConversationID, ident.UserID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: in.ConversationID,
		SenderID:       ident.UserID,
		Content:        in.Content,
		MessageType:    in.MessageType,
		ThreadID:       in.ThreadID,
		ParentID:       in.ParentID,
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}
	if err := s.chatRepo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	stamp := time.Now().UTC()
	if s.presence != nil {
		if ts, err := s.presence.MarkOnline(ctx, ident.UserID); err == nil {
			stamp = ts
		} else {
			observability.Logger.WarnContext(ctx, "chat: presence refresh failed", "error", err)
		}
	}

	s.emit(realtime.ConversationRoom(in.ConversationID), realtime.EventNewMessage, msg)
	s.emit(realtime.TenantRoom(ident.TenantID), realtime.EventUserActivity, realtime.ActivityPayload{
		UserID:       ident.UserID,
		LastActiveAt: stamp,
		Status:       models.StatusOnline,
	})

	return msg, nil
}

// EditMessage updates a message's content. Only the sender may edit.
func (s *ChatService) EditMessage(ctx context.Context, ident *identity.Identity, messageID uint, content string) (*models.Message, error) {
	if content == "" {
		return nil, models.NewValidationError("Message content is required")
	}

	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != ident.UserID {
		return nil, models.NewAuthorizationError("Only the sender can edit a message")
	}

	msg.Content = content
	msg.IsEdited = true
	if err := s.chatRepo.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.emit(realtime.ConversationRoom(msg.ConversationID), realtime.EventMessageUpdated, msg)
	return msg, nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete;
// moderator delete-any is deliberately not offered here.
func (s *ChatService) DeleteMessage(ctx context.Context, ident *identity.Identity, messageID uint) error {
	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != ident.UserID {
		return models.NewAuthorizationError("Only the sender can delete a message")
	}

	if err := s.chatRepo.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	s.emit(realtime.ConversationRoom(msg.ConversationID), realtime.EventMessageDeleted, map[string]uint{
		"id":              messageID,
		"conversation_id": msg.ConversationID,
	})
	return nil
}

// AddReaction records an emoji reaction. Duplicate reactions persist once
// and broadcast nothing the second time.
func (s *ChatService) AddReaction(ctx context.Context, ident *identity.Identity, messageID uint, emoji string) error {
	if emoji == "" {
		return models.NewValidationError("Emoji is required")
	}

	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.requireParticipant(ctx, msg.ConversationID, ident.UserID); err != nil {
		return err
	}

	added, err := s.chatRepo.AddReaction(ctx, &models.MessageReaction{
		MessageID: messageID,
		UserID:    ident.UserID,
		Emoji:     emoji,
	})
	if err != nil {
		return err
	}
	if added {
		s.emit(realtime.ConversationRoom(msg.ConversationID), realtime.EventReactionAdded, map[string]interface{}{
			"message_id":      messageID,
			"conversation_id": msg.ConversationID,
			"user_id":         ident.UserID,
			"emoji":           emoji,
		})
	}
	return nil
}

// RemoveReaction deletes the caller's reaction, broadcasting only when a row
// actually went away.
func (s *ChatService) RemoveReaction(ctx context.Context, ident *identity.Identity, messageID uint, emoji string) error {
	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	removed, err := s.chatRepo.RemoveReaction(ctx, messageID, ident.UserID, emoji)
	if err != nil {
		return err
	}
	if removed {
		s.emit(realtime.ConversationRoom(msg.ConversationID), realtime.EventReactionRemoved, map[string]interface{}{
			"message_id":      messageID,
			"conversation_id": msg.ConversationID,
			"user_id":         ident.UserID,
			"emoji":           emoji,
		})
	}
	return nil
}

// MarkMessagesRead records durable read receipts and broadcasts which
// messages were newly read. Nothing new to record means nothing broadcast.
func (s *ChatService) MarkMessagesRead(ctx context.Context, ident *identity.Identity, convID uint, messageIDs []uint) ([]uint, error) {
	if err := s.requireParticipant(ctx, convID, ident.UserID); err != nil {
		return nil, err
	}

	marked, err := s.chatRepo.MarkMessagesRead(ctx, convID, ident.UserID, messageIDs)
	if err != nil {
		return nil, err
	}
	if len(marked) > 0 {
		s.emit(realtime.ConversationRoom(convID), realtime.EventMessagesRead, realtime.MessagesReadPayload{
			UserID:         ident.UserID,
			ConversationID: convID,
			MessageIDs:     marked,
			ReadAt:         time.Now().UTC(),
		})
	}
	return marked, nil
}

// AddParticipant enrolls a user. The caller must already participate.
func (s *ChatService) AddParticipant(ctx context.Context, ident *identity.Identity, convID, userID uint) error {
	if err := s.requireParticipant(ctx, convID, ident.UserID); err != nil {
		return err
	}
	if err := s.chatRepo.AddParticipant(ctx, convID, userID, models.RoleMember); err != nil {
		return err
	}
	cache.Invalidate(ctx, cache.ConversationListKey(ident.TenantID, userID))
	return nil
}

// RemoveParticipant revokes a user's membership. Users may remove themselves;
// removing someone else requires being the conversation creator.
func (s *ChatService) RemoveParticipant(ctx context.Context, ident *identity.Identity, convID, userID uint) error {
	if userID != ident.UserID {
		conv, err := s.chatRepo.GetConversation(ctx, ident.TenantID, convID)
		if err != nil {
			return err
		}
		if conv.CreatedBy != ident.UserID {
			return models.NewAuthorizationError("Only the conversation creator can remove other participants")
		}
	}
	if err := s.chatRepo.RemoveParticipant(ctx, convID, userID); err != nil {
		return err
	}
	cache.Invalidate(ctx, cache.ConversationListKey(ident.TenantID, userID))
	return nil
}
