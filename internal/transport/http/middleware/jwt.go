package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"docuchat/internal/pkg/jwtutil"
	"docuchat/internal/transport/http/response"
)

const ContextIdentityKey = "identity"

// Identity is the caller as asserted by the external identity provider's
// token. UserID is the token subject and is always present after AuthJWT.
type Identity struct {
	UserID string
	Email  string
	Name   string
	Role   string
}

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, Identity{
			UserID: claims.UserID(),
			Email:  claims.Email,
			Name:   claims.Name,
			Role:   claims.Role,
		})
		c.Next()
	}
}

// IdentityFrom returns the authenticated caller set by AuthJWT.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	if !ok || identity.UserID == "" {
		return Identity{}, false
	}
	return identity, true
}
