package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/oceandive/divetrack/backend/internal/middleware"
	"github.com/oceandive/divetrack/backend/internal/services"
	"github.com/oceandive/divetrack/backend/pkg/response"
)

// SessionHandler exposes the session-listing endpoints backed by active
// refresh tokens.
type SessionHandler struct {
	tokenService *services.TokenService
}

func NewSessionHandler(tokenService *services.TokenService) *SessionHandler {
	return &SessionHandler{tokenService: tokenService}
}

// List returns the current user's active sessions, oldest first
// GET /api/tokens
func (h *SessionHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)

	sessions, err := h.tokenService.ListActiveSessions(userID)
	if err != nil {
		response.ServerError(c, "failed to list sessions")
		return
	}

	response.Success(c, gin.H{
		"items": sessions,
		"total": len(sessions),
	})
}

// Revoke revokes one of the current user's sessions by id. A session id
// owned by another user responds exactly like an unknown id.
// DELETE /api/tokens/:id
func (h *SessionHandler) Revoke(c *gin.Context) {
	userID := middleware.GetUserID(c)
	sessionID := c.Param("id")

	err := h.tokenService.RevokeSessionByID(userID, sessionID, requestContext(c))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.ServerError(c, "failed to revoke session")
		return
	}

	response.Success(c, gin.H{"message": "session revoked"})
}
