package httpapi

import (
	"net/http"
	"strings"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// RequireUserID extracts the opaque user identifier set by the upstream
// identity provider. Requests without it never reach a handler.
func RequireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(common.UserIDHeaderName)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the identity bound by RequireUserID.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// BearerToken extracts a bearer token from the Authorization header, or ""
// when absent or malformed.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader(common.AccessTokenHeaderName)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
