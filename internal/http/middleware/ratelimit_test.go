package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", got)
	}
	c.Request.Header.Set(HeaderUserID, "alice")
	if got := KeyByUserOrIP()(c); got != "user:alice" {
		t.Fatalf("user key = %q", got)
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(1, 0, nil).WithClock(clock)
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want coerced to 1", rl.burst)
	}
	rl.sweepEvery = 3

	first := rl.limiter("alice")
	if rl.limiter("alice") != first {
		t.Fatalf("bucket not reused")
	}

	clock.Advance(rl.ttl)
	rl.limiter("bob") // this lookup triggers the sweep
	if rl.Len() != 1 {
		t.Fatalf("buckets = %d, want only bob after sweep", rl.Len())
	}
	if rl.limiter("alice") == first {
		t.Fatalf("idle bucket survived the sweep")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(0.5, 1, KeyByUserOrIP()).WithClock(clock)

	r := gin.New()
	r.Use(RequestID(), Identity(), rl.Handler())
	r.POST("/duels", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/replay", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(user string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/duels", nil)
		req.Header.Set(HeaderUserID, user)
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("alice"); w.Code != http.StatusCreated {
		t.Fatalf("first = %d", w.Code)
	}
	w := do("alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["code"] != "too_many_requests" || body["request_id"] == "" {
		t.Errorf("body = %v", body)
	}

	// Buckets are per user.
	if w := do("bob"); w.Code != http.StatusCreated {
		t.Fatalf("bob = %d", w.Code)
	}

	clock.Advance(2 * time.Second)
	if w := do("alice"); w.Code != http.StatusCreated {
		t.Fatalf("after refill = %d", w.Code)
	}
}

func TestRateLimiter_BypassOnReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Replay") != "" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Replay", "1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("replay %d = %d", i, w.Code)
		}
	}
}
