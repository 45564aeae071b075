package server

import (
	"context"

	"huddle/internal/identity"
	"huddle/internal/models"
	"huddle/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// IssueWSTicket handles POST /api/ws/ticket. Browsers cannot set headers on
// a WebSocket handshake, so they trade their bearer token for a short-lived
// single-use ticket here and pass that in the upgrade URL instead.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	ticket, err := s.resolver.IssueTicket(c.Context(), currentIdentity(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ticket": ticket})
}

// wsAuth authenticates the WebSocket handshake. It accepts either a bearer
// token in the Authorization header or a single-use ticket; a raw token in
// the query string is never accepted.
func (s *Server) wsAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		var (
			ident *identity.Identity
			err   error
		)
		switch {
		case c.Query("ticket") != "":
			ident, err = s.resolver.ResolveTicket(c.Context(), c.Query("ticket"))
		case bearerToken(c) != "":
			ident, err = s.resolver.Resolve(c.Context(), bearerToken(c))
		default:
			return respondError(c, models.NewAuthenticationError("Authorization required"))
		}
		if err != nil {
			return respondError(c, err)
		}

		c.Locals("identity", ident)
		c.Locals("userID", ident.UserID)
		c.Locals("tenantID", ident.TenantID)
		return c.Next()
	}
}

// WebSocketHandler upgrades an authenticated request into a realtime
// connection. The gateway auto-joins the tenant room and marks the user
// online; the read pump runs the disconnect cleanup when the socket dies.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ident, ok := conn.Locals("identity").(*identity.Identity)
		if !ok {
			_ = conn.Close()
			return
		}

		ctx := observability.WithUser(context.Background(), ident.UserID, ident.TenantID)
		client := s.gateway.Connect(ctx, ident, conn)

		go client.WritePump()
		client.ReadPump()
	})
}
