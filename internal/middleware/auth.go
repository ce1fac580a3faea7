package middleware

import (
	"net/http"

	"door-monitor/internal/model"

	"github.com/gin-gonic/gin"
)

const sessionContextKey = "session"

type SessionSource interface {
	Session() (model.Session, bool)
}

func SessionFromContext(c *gin.Context) (model.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return model.Session{}, false
	}
	sess, ok := v.(model.Session)
	return sess, ok
}

// RequireSession rejects requests while nobody is logged in.
func RequireSession(src SessionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := src.Session()
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not logged in"})
			c.Abort()
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// RequireRole must run after RequireSession.
func RequireRole(min model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := SessionFromContext(c)
		if !ok || sess.Role.Rank() < min.Rank() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}
