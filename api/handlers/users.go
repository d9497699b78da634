package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/session-heartbeat/backend/internal/model"
)

// Directory lists durable users and events.
type Directory interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
}

// UserHandler serves the durable user and event listings.
type UserHandler struct {
	directory Directory
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(directory Directory) *UserHandler {
	return &UserHandler{directory: directory}
}

// UserResponse is one entry of the user listing.
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// EventResponse is one entry of the event listing.
type EventResponse struct {
	ID      int64   `json:"id"`
	Title   string  `json:"title"`
	Content *string `json:"content"`
}

// ListUsers handles GET /api/users.
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.directory.ListUsers(c.Request.Context())
	if err != nil {
		sendFailure(c, "list users", err)
		return
	}

	response := make([]UserResponse, len(users))
	for i, u := range users {
		response[i] = UserResponse{ID: u.ID, Username: u.Username, Email: u.Email}
	}
	c.JSON(http.StatusOK, response)
}

// ListEvents handles GET /api/events.
func (h *UserHandler) ListEvents(c *gin.Context) {
	events, err := h.directory.ListEvents(c.Request.Context())
	if err != nil {
		sendFailure(c, "list events", err)
		return
	}

	response := make([]EventResponse, len(events))
	for i, e := range events {
		response[i] = EventResponse{ID: e.ID, Title: e.Title, Content: e.Content}
	}
	c.JSON(http.StatusOK, response)
}

// RegisterRoutes registers the user handler routes on a Gin router group.
func (h *UserHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users", h.ListUsers)
	rg.GET("/events", h.ListEvents)
}
