package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/certops/certdash/internal/server/auth"
)

const userKey = "user"

// authRequired validates the bearer token and stores the authenticated user
// in the request context for audit attribution.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}

		userID, err := auth.GetUserIDFromToken(strings.TrimPrefix(header, prefix), s.cfg.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}

		c.Set(userKey, userID)
		c.Next()
	}
}

// actor returns the authenticated user for audit entries.
func actor(c *gin.Context) string {
	if v, ok := c.Get(userKey); ok {
		if user, ok := v.(string); ok && user != "" {
			return user
		}
	}
	return "dashboard"
}
