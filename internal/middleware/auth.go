package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/auth"
)

const operatorIDContextKey = "operatorID"

// Roster answers whether a token's operator is still registered.
type Roster interface {
	IsOperator(id int64) bool
}

func OperatorIDFromContext(c *gin.Context) (int64, bool) {
	value, ok := c.Get(operatorIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok && id > 0
}

// BearerToken extracts the token from an Authorization header, falling
// back to the token query parameter for websocket clients.
func BearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return c.Query("token")
}

func RequireAuth(cfg auth.TokenConfig, roster Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(token, cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		// removed operators lose access even with an unexpired token
		if !roster.IsOperator(claims.OperatorID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Operator access revoked"})
			c.Abort()
			return
		}

		c.Set(operatorIDContextKey, claims.OperatorID)
		c.Next()
	}
}
