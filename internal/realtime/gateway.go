package realtime

import (
	"context"
	"encoding/json"
	"time"

	"huddle/internal/identity"
	"huddle/internal/models"
	"huddle/internal/observability"

	"github.com/gofiber/websocket/v2"
)

// Membership answers whether a user may act on a conversation. Membership is
// necessary and sufficient for room access; roles gate nothing here.
type Membership interface {
	IsParticipant(ctx context.Context, convID, userID uint) (bool, error)
	ParticipantConversationIDs(ctx context.Context, userID uint) ([]uint, error)
}

// Presence is the durable status store the gateway drives on connection
// lifecycle and explicit status updates.
type Presence interface {
	SetStatus(ctx context.Context, userID uint, status models.PresenceStatus) (time.Time, error)
	MarkOnline(ctx context.Context, userID uint) (time.Time, error)
	MarkOffline(ctx context.Context, userID uint) (time.Time, error)
}

// Broadcaster is the single fan-out seam. Socket event handlers and the
// HTTP write path both emit through it, so once an event reaches a room the
// origin no longer matters.
type Broadcaster interface {
	Emit(room Room, event string, payload interface{})
}

// Gateway owns the realtime side: it authenticates nothing itself (callers
// hand it a resolved identity), tracks connections in its Registry, handles
// inbound socket events and performs all room fan-out.
type Gateway struct {
	registry   *Registry
	membership Membership
	presence   Presence
}

// NewGateway creates a Gateway around the given registry.
func NewGateway(registry *Registry, membership Membership, presence Presence) *Gateway {
	return &Gateway{registry: registry, membership: membership, presence: presence}
}

// Registry exposes the connection registry, mainly for the HTTP layer and tests.
func (g *Gateway) Registry() *Registry { return g.registry }

// Connect registers an authenticated connection, subscribes it to its
// tenant-wide room, marks the user online and announces the activity to the
// tenant. Callers must have resolved the identity first; there is no
// anonymous or partial connect.
func (g *Gateway) Connect(ctx context.Context, ident *identity.Identity, conn *websocket.Conn) *Client {
	client := NewClient(g, conn, ident)
	g.registry.Register(client)
	g.registry.Join(client, TenantRoom(client.TenantID))

	stamp, err := g.presence.MarkOnline(ctx, client.UserID)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "realtime: failed to mark user online", "user_id", client.UserID, "error", err)
		stamp = time.Now().UTC()
	}

	g.Emit(TenantRoom(client.TenantID), EventUserActivity, ActivityPayload{
		UserID:       client.UserID,
		LastActiveAt: stamp,
		Status:       models.StatusOnline,
	})

	observability.Logger.InfoContext(ctx, "realtime: connection established",
		"user_id", client.UserID, "tenant_id", client.TenantID, "connection_id", client.ID)
	return client
}

// Disconnect tears a connection down: every conversation room it occupied
// gets a user-offline event and the tenant room gets an offline activity
// ping. Cleanup is unconditional and idempotent; after it returns no
// broadcast can reach the connection again.
func (g *Gateway) Disconnect(c *Client) {
	rooms, last := g.registry.Unregister(c)
	if rooms == nil && !last {
		return
	}

	ctx := observability.WithUser(context.Background(), c.UserID, c.TenantID)

	for _, room := range rooms {
		convID, ok := RoomConversationID(room)
		if !ok {
			continue
		}
		g.Emit(room, EventUserOffline, RoomPresencePayload{
			UserID:         c.UserID,
			DisplayName:    c.DisplayName,
			ConversationID: convID,
		})
	}

	// Another device may still be connected; only the last connection
	// flips the durable status and announces tenant-wide offline.
	if last {
		stamp, err := g.presence.MarkOffline(ctx, c.UserID)
		if err != nil {
			observability.Logger.ErrorContext(ctx, "realtime: failed to mark user offline", "user_id", c.UserID, "error", err)
			stamp = time.Now().UTC()
		}
		g.Emit(TenantRoom(c.TenantID), EventUserActivity, ActivityPayload{
			UserID:       c.UserID,
			LastActiveAt: stamp,
			Status:       models.StatusOffline,
		})
	}

	observability.Logger.InfoContext(ctx, "realtime: connection closed",
		"user_id", c.UserID, "connection_id", c.ID, "rooms", len(rooms))
}

// HandleFrame decodes and dispatches one inbound frame. Invalid frames are
// dropped without tearing down the connection and without an error frame to
// the sender.
func (g *Gateway) HandleFrame(c *Client, raw []byte) DropReason {
	ctx := observability.WithUser(context.Background(), c.UserID, c.TenantID)

	event, err := ParseInboundEvent(raw)
	if err != nil {
		observability.Logger.WarnContext(ctx, "realtime: dropped frame", "error", err)
		observability.InboundEvents.WithLabelValues("unknown", string(DropMalformed)).Inc()
		return DropMalformed
	}

	reason := g.dispatch(ctx, c, event)
	outcome := "ok"
	if reason.Dropped() {
		outcome = string(reason)
		observability.Logger.WarnContext(ctx, "realtime: dropped event",
			"event", event.Type.String(), "reason", string(reason))
	}
	observability.InboundEvents.WithLabelValues(event.Type.String(), outcome).Inc()
	return reason
}

// dispatch routes a decoded event to its handler. The switch is exhaustive
// over InboundEventType; adding an event type without a case here is a
// compile-time lint, not a silent string miss.
func (g *Gateway) dispatch(ctx context.Context, c *Client, event *InboundEvent) DropReason {
	switch event.Type {
	case InboundJoinConversations:
		return g.handleJoinConversations(ctx, c)
	case InboundJoinConversation:
		return g.handleJoinConversation(ctx, c, event.ConversationID)
	case InboundLeaveConversation:
		return g.handleLeaveConversation(c, event.ConversationID)
	case InboundMarkMessagesRead:
		return g.handleMarkMessagesRead(ctx, c, event.ConversationID, event.MessageIDs)
	case InboundUpdateStatus:
		return g.handleUpdateStatus(ctx, c, event.Status)
	case InboundTyping:
		return g.handleTyping(c, event.ConversationID, event.IsTyping)
	case InboundUnknown:
		return DropUnknownEvent
	}
	return DropUnknownEvent
}

// handleJoinConversations subscribes the connection to every conversation
// the user participates in. Query errors leave whatever rooms were already
// joined; a partial room set beats a dead connection.
func (g *Gateway) handleJoinConversations(ctx context.Context, c *Client) DropReason {
	ids, err := g.membership.ParticipantConversationIDs(ctx, c.UserID)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "realtime: failed to load conversations", "error", err)
		return DropStoreError
	}
	for _, id := range ids {
		g.registry.Join(c, ConversationRoom(id))
	}
	return DropNone
}

// handleJoinConversation subscribes after a membership check and announces
// the arrival to the room's other members. A non-member gets nothing back:
// membership is not leaked to the requester.
func (g *Gateway) handleJoinConversation(ctx context.Context, c *Client, convID uint) DropReason {
	ok, err := g.membership.IsParticipant(ctx, convID, c.UserID)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "realtime: membership check failed", "conversation_id", convID, "error", err)
		return DropStoreError
	}
	if !ok {
		return DropNotParticipant
	}

	g.registry.Join(c, ConversationRoom(convID))
	g.EmitExcept(ConversationRoom(convID), EventUserOnline, RoomPresencePayload{
		UserID:         c.UserID,
		DisplayName:    c.DisplayName,
		ConversationID: convID,
	}, c.UserID)
	return DropNone
}

// handleLeaveConversation always succeeds, joined or not.
func (g *Gateway) handleLeaveConversation(c *Client, convID uint) DropReason {
	g.registry.Leave(c, ConversationRoom(convID))
	g.Emit(ConversationRoom(convID), EventUserOffline, RoomPresencePayload{
		UserID:         c.UserID,
		DisplayName:    c.DisplayName,
		ConversationID: convID,
	})
	return DropNone
}

// handleMarkMessagesRead broadcasts a read receipt to the room. Durable
// receipt rows are written by the HTTP path; the socket event is the live
// signal.
func (g *Gateway) handleMarkMessagesRead(ctx context.Context, c *Client, convID uint, messageIDs []uint) DropReason {
	ok, err := g.membership.IsParticipant(ctx, convID, c.UserID)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "realtime: membership check failed", "conversation_id", convID, "error", err)
		return DropStoreError
	}
	if !ok {
		return DropNotParticipant
	}
	if len(messageIDs) == 0 {
		return DropEmptyMessages
	}

	g.Emit(ConversationRoom(convID), EventMessagesRead, MessagesReadPayload{
		UserID:         c.UserID,
		ConversationID: convID,
		MessageIDs:     messageIDs,
		ReadAt:         time.Now().UTC(),
	})
	return DropNone
}

// handleUpdateStatus validates, persists, then fans out: every joined
// conversation room sees user-status-changed and the tenant room sees an
// activity ping. Two identical updates in a row fan out twice; nothing
// coalesces.
func (g *Gateway) handleUpdateStatus(ctx context.Context, c *Client, status models.PresenceStatus) DropReason {
	if !models.ValidPresenceStatus(status) {
		return DropInvalidStatus
	}

	stamp, err := g.presence.SetStatus(ctx, c.UserID, status)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "realtime: status update failed", "status", string(status), "error", err)
		return DropStoreError
	}

	for _, room := range g.registry.ClientRooms(c) {
		if _, isConv := RoomConversationID(room); !isConv {
			continue
		}
		g.Emit(room, EventUserStatusChanged, StatusChangedPayload{
			UserID:    c.UserID,
			Status:    status,
			UpdatedAt: stamp,
		})
	}
	g.Emit(TenantRoom(c.TenantID), EventUserActivity, ActivityPayload{
		UserID:       c.UserID,
		LastActiveAt: stamp,
		Status:       status,
	})
	return DropNone
}

// handleTyping relays a typing indicator to the room's other members. Only
// connections already subscribed to the room may emit into it.
func (g *Gateway) handleTyping(c *Client, convID uint, isTyping bool) DropReason {
	room := ConversationRoom(convID)
	if !g.registry.InRoom(c, room) {
		return DropNotJoined
	}

	g.EmitExcept(room, EventTyping, TypingPayload{
		UserID:         c.UserID,
		DisplayName:    c.DisplayName,
		ConversationID: convID,
		IsTyping:       isTyping,
	}, c.UserID)
	return DropNone
}

// Emit broadcasts an event to every connection in the room. Order within a
// room follows the order Emit is called; there is no cross-room ordering.
func (g *Gateway) Emit(room Room, event string, payload interface{}) {
	g.emit(room, event, payload)
}

// EmitExcept broadcasts to the room, skipping every connection of the
// excluded users.
func (g *Gateway) EmitExcept(room Room, event string, payload interface{}, exclude ...uint) {
	g.emit(room, event, payload, exclude...)
}

func (g *Gateway) emit(room Room, event string, payload interface{}, exclude ...uint) {
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		observability.Logger.Error("realtime: failed to marshal event", "event", event, "error", err)
		return
	}
	g.registry.Broadcast(room, data, exclude...)
	observability.BroadcastsTotal.WithLabelValues(event).Inc()
}

// AnnouncePresence fans out a presence transition that originated on the
// HTTP path (login, logout). The durable write already happened in the
// presence store; this is only the live signal.
func (g *Gateway) AnnouncePresence(userID, tenantID uint, status models.PresenceStatus, stamp time.Time) {
	g.Emit(TenantRoom(tenantID), EventUserActivity, ActivityPayload{
		UserID:       userID,
		LastActiveAt: stamp,
		Status:       status,
	})
	for _, room := range g.registry.UserRooms(userID) {
		if _, isConv := RoomConversationID(room); !isConv {
			continue
		}
		g.Emit(room, EventUserStatusChanged, StatusChangedPayload{
			UserID:    userID,
			Status:    status,
			UpdatedAt: stamp,
		})
	}
}
