package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/ratelimit"
)

func TestRateLimitMiddleware_EscalatesPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := ratelimit.NewWithNow[string](ratelimit.Config{Window: time.Second, BurstThreshold: 3, BlockDuration: time.Minute}, func() time.Time { return clock })

	r := gin.New()
	r.GET("/", RateLimitMiddleware(rl), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("expected allow, got %d", w.Code)
	}
	if w := do("10.0.0.1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected throttle, got %d", w.Code)
	}
	w := do("10.0.0.1")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected block with Retry-After 60, got %d %q", w.Code, w.Header().Get("Retry-After"))
	}
	if w := do("10.0.0.2"); w.Code != http.StatusOK {
		t.Fatalf("other IPs are unaffected, got %d", w.Code)
	}

	clock = clock.Add(time.Minute + time.Second)
	if w := do("10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("expected allow after block, got %d", w.Code)
	}
}
