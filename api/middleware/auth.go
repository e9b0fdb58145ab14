package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/harleven/casedocs/internal/clients"
	"github.com/harleven/casedocs/pkg/logger"
)

const userContextKey = "auth_user"

// Auth resolves the bearer token against the identity service and stores
// the user on the request context.
func Auth(identity clients.Identity, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		user, err := identity.Current(c.Request.Context(), token)
		if err != nil {
			log.Warn("identity lookup failed",
				logger.String("path", c.Request.URL.Path),
				logger.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// UserFrom returns the authenticated user set by Auth, if any.
func UserFrom(c *gin.Context) (*clients.User, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*clients.User)
	return user, ok
}
