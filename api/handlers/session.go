package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/session-heartbeat/backend/internal/model"
	"github.com/session-heartbeat/backend/internal/session"
	"github.com/session-heartbeat/backend/internal/stream"
)

// SessionHandler handles HTTP requests for a single session.
type SessionHandler struct {
	store *session.Store
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store *session.Store) *SessionHandler {
	return &SessionHandler{
		store: store,
	}
}

// CreateSessionRequest is the form or JSON body of a create call.
type CreateSessionRequest struct {
	Username string `form:"username" json:"username"`
}

// CreateSessionResponse is returned by Create.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
}

// MessageResponse is returned by Message.
type MessageResponse struct {
	Timestamp float64 `json:"timestamp"`
	SessionID string  `json:"session_id"`
	Username  string  `json:"username"`
	Counter   int64   `json:"counter"`
	Message   string  `json:"message"`
}

// SessionInfoResponse is the RFC 3339 form of model.SessionInfo.
type SessionInfoResponse struct {
	SessionID      string `json:"session_id"`
	Username       string `json:"username"`
	MessageCounter int64  `json:"message_counter"`
	ConnectedAt    string `json:"connected_at"`
	LastActivity   string `json:"last_activity"`
	LastPing       string `json:"last_ping"`
	PingPending    bool   `json:"ping_pending"`
	PingMissCount  int    `json:"ping_miss_count"`
}

// PingStatusResponse is the RFC 3339 form of model.PingStatus.
type PingStatusResponse struct {
	SessionID     string `json:"session_id"`
	PingPending   bool   `json:"ping_pending"`
	LastPing      string `json:"last_ping"`
	PingMissCount int    `json:"ping_miss_count"`
	RequiresPong  bool   `json:"requires_pong"`
}

// PongResponse is returned by Pong.
type PongResponse struct {
	Message   string  `json:"message"`
	SessionID string  `json:"session_id"`
	Timestamp float64 `json:"timestamp"`
}

// MessageResponseText is the text of the n-th polled message for a user.
func MessageResponseText(counter int64, username string) string {
	return fmt.Sprintf("Message #%d for %s", counter, username)
}

func toSessionInfoResponse(info model.SessionInfo) SessionInfoResponse {
	return SessionInfoResponse{
		SessionID:      info.SessionID,
		Username:       info.Username,
		MessageCounter: info.MessageCounter,
		ConnectedAt:    info.ConnectedAt.Format(time.RFC3339),
		LastActivity:   info.LastActivity.Format(time.RFC3339),
		LastPing:       info.LastPing.Format(time.RFC3339),
		PingPending:    info.PingPending,
		PingMissCount:  info.PingMissCount,
	}
}

// Create handles POST /api/session/create - registers a new session.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBind(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.store.Create(c.Request.Context(), req.Username)
	if err != nil {
		sendFailure(c, "create session", err)
		return
	}

	c.JSON(http.StatusOK, CreateSessionResponse{
		SessionID: sess.ID,
		Username:  sess.Username,
		Message:   "Session created successfully",
	})
}

// Message handles GET /api/session/:id/message - produces the next message.
func (h *SessionHandler) Message(c *gin.Context) {
	sessionID := c.Param("id")

	msg, err := h.store.ProduceMessage(c.Request.Context(), sessionID, MessageResponseText)
	if err != nil {
		sendFailure(c, "produce message", err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{
		Timestamp: stream.Timestamp(msg.CreatedAt),
		SessionID: sessionID,
		Username:  msg.Username,
		Counter:   msg.Counter,
		Message:   msg.Text,
	})
}

// Info handles GET /api/session/:id/info.
func (h *SessionHandler) Info(c *gin.Context) {
	sessionID := c.Param("id")

	info, ok := h.store.Info(sessionID)
	if !ok {
		sendSessionNotFound(c, sessionID)
		return
	}

	c.JSON(http.StatusOK, toSessionInfoResponse(info))
}

// Ping handles GET /api/session/:id/ping - reports the heartbeat state.
func (h *SessionHandler) Ping(c *gin.Context) {
	sessionID := c.Param("id")

	sess, ok := h.store.Get(sessionID)
	if !ok {
		sendSessionNotFound(c, sessionID)
		return
	}

	status := sess.PingStatus()
	c.JSON(http.StatusOK, PingStatusResponse{
		SessionID:     status.SessionID,
		PingPending:   status.PingPending,
		LastPing:      status.LastPing.Format(time.RFC3339),
		PingMissCount: status.PingMissCount,
		RequiresPong:  status.RequiresPong,
	})
}

// Pong handles POST /api/session/:id/pong - acknowledges the outstanding ping.
func (h *SessionHandler) Pong(c *gin.Context) {
	sessionID := c.Param("id")

	if !h.store.AcknowledgePong(c.Request.Context(), sessionID) {
		sendSessionNotFound(c, sessionID)
		return
	}

	c.JSON(http.StatusOK, PongResponse{
		Message:   "Pong received successfully",
		SessionID: sessionID,
		Timestamp: stream.Timestamp(h.store.Now()),
	})
}

// Delete handles DELETE /api/session/:id - disconnects the session.
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID := c.Param("id")

	_, ok, err := h.store.Remove(c.Request.Context(), sessionID)
	if !ok {
		sendSessionNotFound(c, sessionID)
		return
	}
	if err != nil {
		// The session is gone from memory; only the durable flag is stale.
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to mark session disconnected")
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session disconnected successfully"})
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/session")
	{
		sessions.POST("/create", h.Create)
		sessions.GET("/:id/message", h.Message)
		sessions.GET("/:id/info", h.Info)
		sessions.GET("/:id/ping", h.Ping)
		sessions.POST("/:id/pong", h.Pong)
		sessions.DELETE("/:id", h.Delete)
	}
}
