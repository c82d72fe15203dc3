package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/ratelimit"
)

// RateLimitMiddleware applies the escalating limiter per client IP.
func RateLimitMiddleware(rl *ratelimit.Limiter[string]) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := rl.Check(c.ClientIP())
		if d.Allowed() {
			c.Next()
			return
		}

		retry := int(math.Ceil(d.Wait.Seconds()))
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded", "state": d.Verdict.String(), "retryAfter": retry})
		c.Abort()
	}
}
