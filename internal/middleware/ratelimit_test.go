package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/overseer-lite/overseer-lite/internal/auth"
)

func newTestLimiter(rpm, burst int) *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour,
	})
}

// ---------------------------------------------------------------------------
// RateLimiter (in memory)
// ---------------------------------------------------------------------------

func TestRateLimiter_AllowsUpToBurstSize(t *testing.T) {
	rl := newTestLimiter(1, 3)
	defer rl.Stop()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := rl.Allow(ctx, "ip:1")
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d blocked, want allowed within burst", i+1)
		}
	}

	res, _ := rl.Allow(ctx, "ip:1")
	if res.Allowed {
		t.Error("request beyond burst was allowed")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", res.RetryAfter)
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestRateLimiter_DifferentKeysAreIndependent(t *testing.T) {
	rl := newTestLimiter(1, 1)
	defer rl.Stop()
	ctx := context.Background()

	if res, _ := rl.Allow(ctx, "ip:a"); !res.Allowed {
		t.Fatal("first key blocked")
	}
	if res, _ := rl.Allow(ctx, "ip:b"); !res.Allowed {
		t.Error("second key blocked by first key's bucket")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := newTestLimiter(60, 1)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: 10 * time.Millisecond})
	defer rl.Stop()

	_, _ = rl.Allow(context.Background(), "ip:old")
	rl.mu.Lock()
	rl.entries["ip:old"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rl.mu.Lock()
		_, exists := rl.entries["ip:old"]
		rl.mu.Unlock()
		if !exists {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("stale entry was not cleaned up")
}

// ---------------------------------------------------------------------------
// getRateLimitKey
// ---------------------------------------------------------------------------

func TestGetRateLimitKey(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.7:5555"

	if got := getRateLimitKey(c); got != "ip:192.0.2.7" {
		t.Errorf("key = %q, want ip:192.0.2.7", got)
	}

	c.Set(SessionKey, &auth.Session{DisplayName: "alice", HasName: true})
	if got := getRateLimitKey(c); got != "user:alice" {
		t.Errorf("key = %q, want user:alice", got)
	}

	c.Set(SessionKey, &auth.Session{})
	if got := getRateLimitKey(c); got != "ip:192.0.2.7" {
		t.Errorf("key = %q, want ip fallback for nameless session", got)
	}
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

func newRateLimitRouter(limiter Limiter) *gin.Engine {
	r := gin.New()
	r.Use(RateLimitMiddleware(limiter))
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func send(r *gin.Engine, remote string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_AllowedThenBlocked(t *testing.T) {
	rl := newTestLimiter(1, 1)
	defer rl.Stop()
	r := newRateLimitRouter(rl)

	first := send(r, "10.0.0.1:1234")
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want 1", first.Header().Get("X-RateLimit-Limit"))
	}

	second := send(r, "10.0.0.1:1234")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	retry, err := strconv.Atoi(second.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Retry-After = %q, want a positive number of seconds", second.Header().Get("Retry-After"))
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (RateLimitResult, error) {
	return RateLimitResult{}, errors.New("redis down")
}

func TestRateLimitMiddleware_LimiterErrorFailsOpen(t *testing.T) {
	r := newRateLimitRouter(failingLimiter{})
	if w := send(r, "10.0.0.3:1"); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the limiter is unavailable", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RedisRateLimiter (integration)
// ---------------------------------------------------------------------------

func TestRedisRateLimiter(t *testing.T) {
	addr := os.Getenv("OVERSEER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OVERSEER_TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()

	rl := NewRedisRateLimiter(redis_rate.NewLimiter(client),
		RateLimitConfig{RequestsPerMinute: 2, BurstSize: 2}, "test:"+uuid.NewString()+":")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := rl.Allow(ctx, "ip:1")
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d blocked within burst", i+1)
		}
	}
	res, err := rl.Allow(ctx, "ip:1")
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if res.Allowed {
		t.Error("request beyond burst was allowed")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", res.RetryAfter)
	}
}
