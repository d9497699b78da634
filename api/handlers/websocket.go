package handlers

import (
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/session-heartbeat/backend/internal/model"
	"github.com/session-heartbeat/backend/internal/ws"
)

// WebSocketHandler serves session event streams over WebSocket.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Attach handles GET /ws/stream/:id - streams a session over WebSocket.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, sessionID); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendSessionNotFound(c, sessionID)
			return
		}
		// The upgrader has already written the failure response.
		log.Warn().Err(err).Str("session_id", sessionID).Msg("WebSocket upgrade failed")
	}
}

// RegisterRoutes registers the WebSocket routes on the root router.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/stream/:id", h.Attach)
}
