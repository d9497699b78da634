package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/session-heartbeat/backend/internal/session"
	"github.com/session-heartbeat/backend/internal/stream"
)

// StreamHandler serves server-sent event streams.
type StreamHandler struct {
	store *session.Store
	cfg   stream.Config
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(store *session.Store, cfg stream.Config) *StreamHandler {
	return &StreamHandler{
		store: store,
		cfg:   cfg,
	}
}

// Heartbeat handles GET /stream - the session-less counter stream.
func (h *StreamHandler) Heartbeat(c *gin.Context) {
	stream.SetSSEHeaders(c.Writer.Header())
	c.Status(http.StatusOK)

	hb := stream.NewHeartbeat(h.store, h.cfg)
	if err := hb.Run(c.Request.Context(), stream.NewSSEWriter(c.Writer)); err != nil {
		log.Debug().Err(err).Msg("Heartbeat stream ended")
	}
}

// Session handles GET /stream/:id - the event stream of one session.
func (h *StreamHandler) Session(c *gin.Context) {
	sessionID := c.Param("id")
	if _, ok := h.store.Get(sessionID); !ok {
		sendSessionNotFound(c, sessionID)
		return
	}

	stream.SetSSEHeaders(c.Writer.Header())
	c.Status(http.StatusOK)

	gen := stream.NewGenerator(h.store, sessionID, h.cfg)
	if err := gen.Run(c.Request.Context(), stream.NewSSEWriter(c.Writer)); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("Session stream ended")
	}
}

// RegisterRoutes registers the stream routes on the root router.
func (h *StreamHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/stream", h.Heartbeat)
	r.GET("/stream/:id", h.Session)
}
