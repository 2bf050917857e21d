package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	c, _ := gin.CreateTestContext(w)
	c.Request = req

	key := KeyByClientIP()(c)
	if !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("expected ip-based key, got %q", key)
	}
}

func TestNewRateLimiter_BurstCoercion(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByClientIP())
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
}

func TestRateLimiter_VisitorReuse(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByClientIP())
	lim := rl.getVisitor("k1")
	if lim == nil {
		t.Fatalf("expected limiter")
	}
	if got := rl.getVisitor("k1"); got != lim {
		t.Fatalf("expected the same limiter instance to be reused")
	}
}

func TestRateLimiter_IdleVisitorEviction(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByClientIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	rl.cleanupN = 4999 // next lookup triggers the sweep
	rl.mu.Unlock()

	_ = rl.getVisitor("new")

	rl.mu.Lock()
	_, oldExists := rl.visitors["old"]
	_, newExists := rl.visitors["new"]
	rl.mu.Unlock()

	if oldExists {
		t.Fatalf("idle visitor must be evicted")
	}
	if !newExists {
		t.Fatalf("fresh visitor must survive the sweep")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(0, 1, KeyByClientIP()).Handler()) // one token, no refill
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "1000")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request must pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "1001")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request must be limited, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "too_many_requests") {
		t.Fatalf("limited response must carry the error code, got %s", w.Body.String())
	}

	// A different client gets its own bucket.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.RemoteAddr = net.JoinHostPort("198.51.100.7", "1002")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("other clients must not share the bucket, got %d", w.Code)
	}
}
