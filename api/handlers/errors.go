// Package handlers provides HTTP API request handlers.
package handlers

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/session-heartbeat/backend/internal/model"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func sendSessionNotFound(c *gin.Context, sessionID string) {
	sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
}

// sendFailure maps err onto the error envelope.
func sendFailure(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		sendSessionNotFound(c, c.Param("id"))
	case errors.Is(err, model.ErrUsernameInvalid):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrPersistence):
		log.Error().Err(err).Str("action", action).Msg("Persistence failure")
		sendError(c, http.StatusServiceUnavailable, "PERSISTENCE_ERROR", "Failed to "+action+": storage unavailable")
	default:
		log.Error().Err(err).Str("action", action).Msg("Request failed")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action+": "+err.Error())
	}
}
