package realtime

import (
	"time"

	"huddle/internal/identity"
	"huddle/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBufferSize = 256
)

// Client is one realtime connection: exactly one authenticated user and
// tenant for its whole lifetime. Room membership lives in the Registry,
// never here and never in the durable store.
type Client struct {
	// ID identifies the connection, not the user.
	ID string

	UserID      uint
	TenantID    uint
	DisplayName string

	// Conn is nil for clients created in tests.
	Conn *websocket.Conn

	// Send is the buffered channel of outbound frames.
	Send chan []byte

	gateway *Gateway
}

// NewClient creates a Client for an authenticated connection.
func NewClient(gw *Gateway, conn *websocket.Conn, ident *identity.Identity) *Client {
	return &Client{
		ID:          uuid.NewString(),
		UserID:      ident.UserID,
		TenantID:    ident.TenantID,
		DisplayName: ident.DisplayName,
		Conn:        conn,
		Send:        make(chan []byte, sendBufferSize),
		gateway:     gw,
	}
}

// ReadPump pumps frames from the websocket connection into the gateway.
// It blocks until the connection dies and then runs disconnect cleanup,
// unconditionally, whatever state earlier events left behind.
func (c *Client) ReadPump() {
	defer func() {
		c.gateway.Disconnect(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Logger.Warn("realtime: read pump closed", "user_id", c.UserID, "error", err)
			}
			break
		}

		c.gateway.HandleFrame(c, message)
	}
}

// WritePump pumps frames from the Send channel to the websocket connection
// and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame without blocking. A full buffer drops the frame;
// the client gets a best-effort notice so it can re-fetch the gap.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.BackpressureDrops.WithLabelValues("closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		observability.BackpressureDrops.WithLabelValues("full").Inc()
		observability.Logger.Warn("realtime: buffer full, dropped frame", "user_id", c.UserID)

		dropNotice := []byte(`{"event":"messages-dropped","payload":{"reason":"buffer_full"}}`)
		select {
		case c.Send <- dropNotice:
		default:
			// Client is truly overwhelmed; nothing more to do.
		}
	}
}
