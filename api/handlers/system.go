package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/session-heartbeat/backend/internal/model"
	"github.com/session-heartbeat/backend/internal/session"
	"github.com/session-heartbeat/backend/internal/stream"
)

// StatusReporter reports the state of the liveness loops.
type StatusReporter interface {
	Status() model.SchedulerStatus
}

// SystemHandler serves registry-wide status endpoints.
type SystemHandler struct {
	store     *session.Store
	scheduler StatusReporter
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(store *session.Store, scheduler StatusReporter) *SystemHandler {
	return &SystemHandler{
		store:     store,
		scheduler: scheduler,
	}
}

// ActiveSessionsResponse is returned by ActiveSessions.
type ActiveSessionsResponse struct {
	ActiveSessionsCount int     `json:"active_sessions_count"`
	Timestamp           float64 `json:"timestamp"`
}

// SystemPingStatusResponse is returned by PingStatus.
type SystemPingStatusResponse struct {
	BackgroundTasks     model.SchedulerStatus `json:"background_tasks"`
	SessionsNeedingPing int                   `json:"sessions_needing_ping"`
	ActiveSessions      int                   `json:"active_sessions"`
}

// ActiveSessions handles GET /api/sessions/active.
func (h *SystemHandler) ActiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, ActiveSessionsResponse{
		ActiveSessionsCount: h.store.Count(),
		Timestamp:           stream.Timestamp(h.store.Now()),
	})
}

// PingStatus handles GET /api/system/ping-status.
func (h *SystemHandler) PingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, SystemPingStatusResponse{
		BackgroundTasks:     h.scheduler.Status(),
		SessionsNeedingPing: len(h.store.SessionsNeedingPing()),
		ActiveSessions:      h.store.Count(),
	})
}

// Health handles GET /api/system/health.
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": stream.Timestamp(h.store.Now()),
	})
}

// RegisterRoutes registers the system handler routes on a Gin router group.
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/active", h.ActiveSessions)

	system := rg.Group("/system")
	{
		system.GET("/ping-status", h.PingStatus)
		system.GET("/health", h.Health)
	}
}
