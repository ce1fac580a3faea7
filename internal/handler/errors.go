package handler

import (
	"errors"
	"net/http"

	"door-monitor/internal/logger"
	"door-monitor/internal/session"

	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrAuthFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login failed"})
	case errors.Is(err, session.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session token is invalid"})
	case errors.Is(err, session.ErrNoSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not logged in"})
	case errors.Is(err, session.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
	case errors.Is(err, session.ErrDemoSession):
		c.JSON(http.StatusConflict, gin.H{"error": "Not available in demo mode"})
	case errors.Is(err, session.ErrInvalidUser):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrUnknownUser):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, session.ErrNotDeletable):
		c.JSON(http.StatusConflict, gin.H{"error": "Admin accounts cannot be deleted"})
	default:
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Backend request failed"})
	}
}
