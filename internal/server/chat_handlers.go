package server

import (
	"huddle/internal/models"
	"huddle/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateConversation handles POST /api/conversations.
func (s *Server) CreateConversation(c *fiber.Ctx) error {
	var req struct {
		Name           string `json:"name"`
		IsGroup        bool   `json:"is_group"`
		ParticipantIDs []uint `json:"participant_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	conv, err := s.chatService.CreateConversation(c.Context(), currentIdentity(c), service.CreateConversationInput{
		Name:           req.Name,
		IsGroup:        req.IsGroup,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// GetConversations handles GET /api/conversations.
func (s *Server) GetConversations(c *fiber.Ctx) error {
	convs, err := s.chatService.ListConversations(c.Context(), currentIdentity(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"conversations": convs})
}

// GetConversation handles GET /api/conversations/:id.
func (s *Server) GetConversation(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	conv, err := s.chatService.GetConversation(c.Context(), currentIdentity(c), convID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

// GetMessages handles GET /api/conversations/:id/messages.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	p := parsePagination(c, 50)

	messages, err := s.chatService.GetMessages(c.Context(), currentIdentity(c), convID, p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// SendMessage handles POST /api/conversations/:id/messages. The message is
// persisted first; the room broadcast happens after the commit and its
// failure never fails this request.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content     string `json:"content"`
		MessageType string `json:"message_type"`
		ThreadID    *uint  `json:"thread_id"`
		ParentID    *uint  `json:"parent_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	msg, err := s.chatService.SendMessage(c.Context(), currentIdentity(c), service.SendMessageInput{
		ConversationID: convID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		ThreadID:       req.ThreadID,
		ParentID:       req.ParentID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// EditMessage handles PUT /api/messages/:id.
func (s *Server) EditMessage(c *fiber.Ctx) error {
	messageID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	msg, err := s.chatService.EditMessage(c.Context(), currentIdentity(c), messageID, req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// DeleteMessage handles DELETE /api/messages/:id.
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	messageID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.chatService.DeleteMessage(c.Context(), currentIdentity(c), messageID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Message deleted"})
}

// AddReaction handles POST /api/messages/:id/reactions.
func (s *Server) AddReaction(c *fiber.Ctx) error {
	messageID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil || req.Emoji == "" {
		return respondError(c, models.NewValidationError("Emoji is required"))
	}

	if err := s.chatService.AddReaction(c.Context(), currentIdentity(c), messageID, req.Emoji); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Reaction added"})
}

// RemoveReaction handles DELETE /api/messages/:id/reactions.
func (s *Server) RemoveReaction(c *fiber.Ctx) error {
	messageID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil || req.Emoji == "" {
		return respondError(c, models.NewValidationError("Emoji is required"))
	}

	if err := s.chatService.RemoveReaction(c.Context(), currentIdentity(c), messageID, req.Emoji); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Reaction removed"})
}

// MarkMessagesRead handles POST /api/conversations/:id/read. This is the
// durable read-receipt path; the socket event of the same name is only the
// live signal.
func (s *Server) MarkMessagesRead(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		MessageIDs []uint `json:"message_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	marked, err := s.chatService.MarkMessagesRead(c.Context(), currentIdentity(c), convID, req.MessageIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"marked": marked})
}

// AddParticipant handles POST /api/conversations/:id/participants.
func (s *Server) AddParticipant(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return respondError(c, models.NewValidationError("User ID is required"))
	}

	if err := s.chatService.AddParticipant(c.Context(), currentIdentity(c), convID, req.UserID); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Participant added"})
}

// RemoveParticipant handles DELETE /api/conversations/:id/participants/:userId.
func (s *Server) RemoveParticipant(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}

	if err := s.chatService.RemoveParticipant(c.Context(), currentIdentity(c), convID, userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Participant removed"})
}
