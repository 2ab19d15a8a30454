package collect

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/briefsmith/internal/identity"
)

// Handler upgrades requests to WebSocket and runs a conversation on each.
type Handler struct {
	svc           *Service
	allowedOrigin string
	isDev         bool
	readLimit     int64
}

// NewHandler creates a WebSocket handler. readLimit bounds the size of a
// single client frame.
func NewHandler(svc *Service, allowedOrigin string, isDev bool, readLimit int64) *Handler {
	return &Handler{
		svc:           svc,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		readLimit:     readLimit,
	}
}

// wsConn adapts websocket.Conn to Conn.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "owner_id", ownerID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "owner_id", ownerID)
		return
	}
	if h.readLimit > 0 {
		ws.SetReadLimit(h.readLimit)
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "owner_id", ownerID)
		}
	}()

	if err := h.svc.Serve(r.Context(), &wsConn{ws: ws}, ownerID); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Collection session failed", "error", err, "owner_id", ownerID)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
