package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tripconnect/messaging-service/pkg/jwt"
	"github.com/tripconnect/messaging-service/pkg/log"
	"github.com/tripconnect/messaging-service/pkg/response"
)

// Context keys set by Auth for downstream handlers.
const (
	CtxUserID   = "user_id"
	CtxUsername = "username"
	CtxRoles    = "roles"
)

// Auth returns a gin middleware that validates the Bearer token and stores
// the caller identity in the gin context.
func Auth(validator *jwt.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			response.Unauthorized(c, "authorization header must use Bearer scheme")
			c.Abort()
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			l := log.Ctx(c.Request.Context())
			l.Debug().Err(err).Msg("token validation failed")
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUsername, claims.Username)
		c.Set(CtxRoles, claims.Roles)
		c.Next()
	}
}

// UserID returns the authenticated user id from the gin context.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(CtxUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
