package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"huddle/internal/identity"
	"huddle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMembership struct {
	isParticipantFn   func(ctx context.Context, convID, userID uint) (bool, error)
	conversationIDsFn func(ctx context.Context, userID uint) ([]uint, error)
}

func (s *stubMembership) IsParticipant(ctx context.Context, convID, userID uint) (bool, error) {
	return s.isParticipantFn(ctx, convID, userID)
}

func (s *stubMembership) ParticipantConversationIDs(ctx context.Context, userID uint) ([]uint, error) {
	return s.conversationIDsFn(ctx, userID)
}

// membershipTable backs the stub with a fixed participant relation.
func membershipTable(participants map[uint][]uint) *stubMembership {
	return &stubMembership{
		isParticipantFn: func(_ context.Context, convID, userID uint) (bool, error) {
			for _, u := range participants[convID] {
				if u == userID {
					return true, nil
				}
			}
			return false, nil
		},
		conversationIDsFn: func(_ context.Context, userID uint) ([]uint, error) {
			var ids []uint
			for convID, users := range participants {
				for _, u := range users {
					if u == userID {
						ids = append(ids, convID)
					}
				}
			}
			return ids, nil
		},
	}
}

type stubPresence struct {
	transitions []string
	statusFn func(userID uint, status models.PresenceStatus) (time.Time, error)
}

func (s *stubPresence) record(userID uint, status models.PresenceStatus) (time.Time, error) {
	s.transitions = append(s.transitions, fmt.Sprintf("%d:%s", userID, status))
	if s.statusFn != nil {
		return s.statusFn(userID, status)
	}
	return time.Now().UTC(), nil
}

func (s *stubPresence) SetStatus(_ context.Context, userID uint, status models.PresenceStatus) (time.Time, error) {
	return s.record(userID, status)
}

func (s *stubPresence) MarkOnline(_ context.Context, userID uint) (time.Time, error) {
	return s.record(userID, models.StatusOnline)
}

func (s *stubPresence) MarkOffline(_ context.Context, userID uint) (time.Time, error) {
	return s.record(userID, models.StatusOffline)
}

func newTestGateway(membership Membership) (*Gateway, *stubPresence) {
	presence := &stubPresence{}
	gw := NewGateway(NewRegistry(), membership, presence)
	return gw, presence
}

func connect(t *testing.T, gw *Gateway, userID, tenantID uint, name string) *Client {
	t.Helper()
	c := gw.Connect(context.Background(), &identity.Identity{
		UserID:      userID,
		TenantID:    tenantID,
		DisplayName: name,
	}, nil)
	drain(c)
	return c
}

// drain empties a client's send buffer and returns the decoded envelopes.
func drain(c *Client) []Envelope {
	var events []Envelope
	for {
		select {
		case raw := <-c.Send:
			var env Envelope
			if err := json.Unmarshal(raw, &env); err == nil {
				events = append(events, env)
			}
		default:
			return events
		}
	}
}

func eventNames(events []Envelope) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Event)
	}
	return names
}

func frame(t *testing.T, event string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"event": event, "payload": payload})
	require.NoError(t, err)
	return raw
}

func TestConnectHandshake(t *testing.T) {
	gw, presence := newTestGateway(membershipTable(nil))

	observer := connect(t, gw, 2, 1, "Observer")
	client := gw.Connect(context.Background(), &identity.Identity{UserID: 1, TenantID: 1, DisplayName: "Alice"}, nil)

	assert.True(t, gw.Registry().InRoom(client, TenantRoom(1)))
	assert.Contains(t, presence.transitions, "1:online")

	events := drain(observer)
	require.Len(t, events, 1)
	assert.Equal(t, EventUserActivity, events[0].Event)
}

func TestJoinConversation(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1, 2}})
	gw, _ := newTestGateway(membership)

	c1 := connect(t, gw, 1, 1, "Alice")
	c2 := connect(t, gw, 2, 1, "Bob")
	require.Equal(t, DropNone, gw.HandleFrame(c2, frame(t, "join-conversation", map[string]uint{"conversation_id": 10})))
	drain(c1)
	drain(c2)

	t.Run("member join announces to others, not self", func(t *testing.T) {
		reason := gw.HandleFrame(c1, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
		assert.Equal(t, DropNone, reason)
		assert.True(t, gw.Registry().InRoom(c1, ConversationRoom(10)))

		c2Events := drain(c2)
		require.Len(t, c2Events, 1)
		assert.Equal(t, EventUserOnline, c2Events[0].Event)

		payload := c2Events[0].Payload.(map[string]interface{})
		assert.EqualValues(t, 1, payload["user_id"])
		assert.EqualValues(t, 10, payload["conversation_id"])
		assert.Equal(t, "Alice", payload["display_name"])

		assert.Empty(t, drain(c1), "joiner must not be notified about itself")
	})

	t.Run("non-member join is a silent no-op", func(t *testing.T) {
		outsider := connect(t, gw, 3, 1, "Mallory")
		// Swallow the tenant-wide activity ping from the outsider's connect.
		drain(c1)
		drain(c2)

		reason := gw.HandleFrame(outsider, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))

		assert.Equal(t, DropNotParticipant, reason)
		assert.False(t, gw.Registry().InRoom(outsider, ConversationRoom(10)))
		assert.Empty(t, drain(outsider), "no error frame leaks membership")
		assert.Empty(t, drain(c1))
		assert.Empty(t, drain(c2))
	})

	t.Run("membership check error drops without subscribing", func(t *testing.T) {
		failing := &stubMembership{
			isParticipantFn: func(context.Context, uint, uint) (bool, error) {
				return false, assert.AnError
			},
		}
		gwErr, _ := newTestGateway(failing)
		c := connect(t, gwErr, 1, 1, "Alice")

		reason := gwErr.HandleFrame(c, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))

		assert.Equal(t, DropStoreError, reason)
		assert.False(t, gwErr.Registry().InRoom(c, ConversationRoom(10)))
	})
}

func TestJoinConversations(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1}, 11: {1}, 12: {2}})
	gw, _ := newTestGateway(membership)
	c := connect(t, gw, 1, 1, "Alice")

	reason := gw.HandleFrame(c, frame(t, "join-conversations", nil))

	assert.Equal(t, DropNone, reason)
	assert.True(t, gw.Registry().InRoom(c, ConversationRoom(10)))
	assert.True(t, gw.Registry().InRoom(c, ConversationRoom(11)))
	assert.False(t, gw.Registry().InRoom(c, ConversationRoom(12)))
}

func TestLeaveAndRejoin(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1, 2}})
	gw, _ := newTestGateway(membership)
	c1 := connect(t, gw, 1, 1, "Alice")
	c2 := connect(t, gw, 2, 1, "Bob")
	gw.HandleFrame(c1, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	gw.HandleFrame(c2, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	drain(c1)
	drain(c2)

	reason := gw.HandleFrame(c1, frame(t, "leave-conversation", map[string]uint{"conversation_id": 10}))
	assert.Equal(t, DropNone, reason)
	assert.False(t, gw.Registry().InRoom(c1, ConversationRoom(10)))

	c2Events := drain(c2)
	require.Len(t, c2Events, 1)
	assert.Equal(t, EventUserOffline, c2Events[0].Event)

	t.Run("leave when not joined still succeeds", func(t *testing.T) {
		reason := gw.HandleFrame(c1, frame(t, "leave-conversation", map[string]uint{"conversation_id": 10}))
		assert.Equal(t, DropNone, reason)
	})

	t.Run("rejoin restores the subscription", func(t *testing.T) {
		reason := gw.HandleFrame(c1, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
		assert.Equal(t, DropNone, reason)
		assert.True(t, gw.Registry().InRoom(c1, ConversationRoom(10)))
	})
}

func TestMarkMessagesRead(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1, 2}})
	gw, _ := newTestGateway(membership)
	c1 := connect(t, gw, 1, 1, "Alice")
	c2 := connect(t, gw, 2, 1, "Bob")
	gw.HandleFrame(c1, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	gw.HandleFrame(c2, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	drain(c1)
	drain(c2)

	t.Run("member broadcast reaches the room", func(t *testing.T) {
		reason := gw.HandleFrame(c1, frame(t, "mark-messages-read", map[string]interface{}{
			"conversation_id": 10,
			"message_ids":     []uint{100, 101},
		}))
		assert.Equal(t, DropNone, reason)

		events := drain(c2)
		require.Len(t, events, 1)
		assert.Equal(t, EventMessagesRead, events[0].Event)
		payload := events[0].Payload.(map[string]interface{})
		assert.EqualValues(t, 1, payload["user_id"])
		assert.Len(t, payload["message_ids"], 2)
	})

	t.Run("empty message ids drop", func(t *testing.T) {
		reason := gw.HandleFrame(c1, frame(t, "mark-messages-read", map[string]interface{}{
			"conversation_id": 10,
			"message_ids":     []uint{},
		}))
		assert.Equal(t, DropEmptyMessages, reason)
		assert.Empty(t, drain(c2))
	})

	t.Run("non-member drop", func(t *testing.T) {
		outsider := connect(t, gw, 3, 1, "Mallory")
		drain(c1)
		drain(c2)
		reason := gw.HandleFrame(outsider, frame(t, "mark-messages-read", map[string]interface{}{
			"conversation_id": 10,
			"message_ids":     []uint{100},
		}))
		assert.Equal(t, DropNotParticipant, reason)
		assert.Empty(t, drain(c1))
		assert.Empty(t, drain(c2))
	})
}

func TestUpdateStatus(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1, 2}})
	gw, presence := newTestGateway(membership)
	c1 := connect(t, gw, 1, 1, "Alice")
	c2 := connect(t, gw, 2, 1, "Bob")
	gw.HandleFrame(c1, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	gw.HandleFrame(c2, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	drain(c1)
	drain(c2)

	t.Run("fan-out to joined rooms and tenant room", func(t *testing.T) {
		reason := gw.HandleFrame(c1, frame(t, "update-status", map[string]string{"status": "away"}))
		assert.Equal(t, DropNone, reason)
		assert.Contains(t, presence.transitions, "1:away")

		// c2 occupies both the conversation room and the tenant room.
		events := drain(c2)
		names := eventNames(events)
		assert.Contains(t, names, EventUserStatusChanged)
		assert.Contains(t, names, EventUserActivity)
		require.Len(t, events, 2)
		drain(c1)
	})

	t.Run("same status twice fans out twice, no coalescing", func(t *testing.T) {
		before := len(presence.transitions)
		gw.HandleFrame(c1, frame(t, "update-status", map[string]string{"status": "busy"}))
		gw.HandleFrame(c1, frame(t, "update-status", map[string]string{"status": "busy"}))

		assert.Equal(t, before+2, len(presence.transitions))
		events := drain(c2)
		assert.Len(t, events, 4, "two broadcasts per update: room + tenant")
		drain(c1)
	})

	t.Run("invalid status is silently dropped", func(t *testing.T) {
		before := len(presence.transitions)
		reason := gw.HandleFrame(c1, frame(t, "update-status", map[string]string{"status": "invisible"}))

		assert.Equal(t, DropInvalidStatus, reason)
		assert.Equal(t, before, len(presence.transitions), "no durable write")
		assert.Empty(t, drain(c2))
		assert.Empty(t, drain(c1))
	})
}

func TestTyping(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1, 2}})
	gw, _ := newTestGateway(membership)
	c1 := connect(t, gw, 1, 1, "Alice")
	c2 := connect(t, gw, 2, 1, "Bob")
	gw.HandleFrame(c1, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	gw.HandleFrame(c2, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	drain(c1)
	drain(c2)

	t.Run("relayed to others only", func(t *testing.T) {
		reason := gw.HandleFrame(c1, frame(t, "typing", map[string]interface{}{"conversation_id": 10, "is_typing": true}))
		assert.Equal(t, DropNone, reason)

		events := drain(c2)
		require.Len(t, events, 1)
		assert.Equal(t, EventTyping, events[0].Event)
		assert.Empty(t, drain(c1))
	})

	t.Run("requires being in the room", func(t *testing.T) {
		gw.HandleFrame(c1, frame(t, "leave-conversation", map[string]uint{"conversation_id": 10}))
		drain(c2)

		reason := gw.HandleFrame(c1, frame(t, "typing", map[string]interface{}{"conversation_id": 10, "is_typing": true}))
		assert.Equal(t, DropNotJoined, reason)
		assert.Empty(t, drain(c2))
	})
}

func TestDisconnect(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1, 2}, 11: {1, 2}, 12: {1, 2}})
	gw, presence := newTestGateway(membership)

	c1 := connect(t, gw, 1, 1, "Alice")
	c2 := connect(t, gw, 2, 1, "Bob")
	for _, conv := range []uint{10, 11, 12} {
		gw.HandleFrame(c1, frame(t, "join-conversation", map[string]uint{"conversation_id": conv}))
		gw.HandleFrame(c2, frame(t, "join-conversation", map[string]uint{"conversation_id": conv}))
	}
	drain(c1)
	drain(c2)

	gw.Disconnect(c1)

	t.Run("one user-offline per room plus one tenant activity", func(t *testing.T) {
		events := drain(c2)
		offline := 0
		activity := 0
		for _, e := range events {
			switch e.Event {
			case EventUserOffline:
				offline++
			case EventUserActivity:
				activity++
				payload := e.Payload.(map[string]interface{})
				assert.Equal(t, string(models.StatusOffline), payload["status"])
			}
		}
		assert.Equal(t, 3, offline)
		assert.Equal(t, 1, activity)
		assert.Contains(t, presence.transitions, "1:offline")
	})

	t.Run("no broadcast reaches a disconnected client", func(t *testing.T) {
		drain(c1)
		gw.Emit(ConversationRoom(10), EventNewMessage, map[string]string{"content": "after disconnect"})
		assert.Empty(t, drain(c1))
		assert.NotEmpty(t, drain(c2))
	})

	t.Run("disconnect is idempotent", func(t *testing.T) {
		gw.Disconnect(c1)
		assert.Empty(t, drain(c2))
	})
}

func TestDisconnectMultiDevice(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1, 2}})
	gw, presence := newTestGateway(membership)

	phone := connect(t, gw, 1, 1, "Alice")
	laptop := connect(t, gw, 1, 1, "Alice")
	observer := connect(t, gw, 2, 1, "Bob")
	gw.HandleFrame(phone, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	gw.HandleFrame(observer, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	drain(phone)
	drain(laptop)
	drain(observer)
	presence.transitions = nil

	gw.Disconnect(phone)

	// Laptop is still connected, so no durable offline and no tenant-wide
	// offline ping yet; the conversation room still sees the socket leave.
	assert.NotContains(t, presence.transitions, "1:offline")
	names := eventNames(drain(observer))
	assert.Contains(t, names, EventUserOffline)
	assert.NotContains(t, names, EventUserActivity)

	gw.Disconnect(laptop)
	assert.Contains(t, presence.transitions, "1:offline")
}

func TestMalformedFrames(t *testing.T) {
	gw, _ := newTestGateway(membershipTable(nil))
	c := connect(t, gw, 1, 1, "Alice")

	tests := []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte("{nope")},
		{"unknown event", frame(t, "self-destruct", nil)},
		{"join without conversation id", frame(t, "join-conversation", map[string]string{})},
		{"mark-read without conversation id", frame(t, "mark-messages-read", map[string]interface{}{"message_ids": []uint{1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := gw.HandleFrame(c, tt.raw)
			assert.Equal(t, DropMalformed, reason)
			assert.Empty(t, drain(c), "connection receives no error frame")
		})
	}
}

func TestEmitSharedSeam(t *testing.T) {
	// The HTTP write path emits through the same Broadcaster seam as the
	// socket handlers; the sender's own connection sees its echo.
	membership := membershipTable(map[uint][]uint{10: {1, 2}})
	gw, _ := newTestGateway(membership)
	sender := connect(t, gw, 1, 1, "Alice")
	receiver := connect(t, gw, 2, 1, "Bob")
	gw.HandleFrame(sender, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	gw.HandleFrame(receiver, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	drain(sender)
	drain(receiver)

	var b Broadcaster = gw
	b.Emit(ConversationRoom(10), EventNewMessage, map[string]interface{}{"id": 1, "content": "hi"})

	senderEvents := drain(sender)
	receiverEvents := drain(receiver)
	require.Len(t, receiverEvents, 1)
	assert.Equal(t, EventNewMessage, receiverEvents[0].Event)
	require.Len(t, senderEvents, 1, "self-echo is on for message events")
}

func TestAnnouncePresence(t *testing.T) {
	membership := membershipTable(map[uint][]uint{10: {1, 2}})
	gw, _ := newTestGateway(membership)
	c1 := connect(t, gw, 1, 1, "Alice")
	observer := connect(t, gw, 2, 1, "Bob")
	gw.HandleFrame(c1, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	gw.HandleFrame(observer, frame(t, "join-conversation", map[string]uint{"conversation_id": 10}))
	drain(c1)
	drain(observer)

	gw.AnnouncePresence(1, 1, models.StatusBusy, time.Now().UTC())

	names := eventNames(drain(observer))
	assert.Contains(t, names, EventUserActivity)
	assert.Contains(t, names, EventUserStatusChanged)
}
