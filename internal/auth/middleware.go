package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// KioskAuth enforces bearer JWT tokens signed with HS256 and issued to a
// kiosk (RoleKiosk). A valid token with any other role is refused: the agent
// surface has exactly one kind of caller. The kiosk identity is exposed to
// handlers as "kiosk_id".
func KioskAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != RoleKiosk {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "kiosk token required"})
			return
		}
		c.Set("kiosk_id", claims.Subject)
		c.Next()
	}
}
