// ratelimit.go provides Gin middleware that enforces per-client request rate
// limits, returning 429 when the configured requests-per-minute are exceeded.
// Limits are kept in process memory for single-node deployments or in Redis
// when several replicas must share them.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate allowed per client
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often idle in-memory entries are dropped
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns limits for the session API and feeds
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
		BurstSize:         30,
		CleanupInterval:   5 * time.Minute,
	}
}

// LoginRateLimitConfig returns stricter limits for the login endpoint. Failed
// logins are additionally counted per client by the auth service.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitResult is the outcome of one Allow call.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request keyed by client may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
}

// rateLimitEntry tracks the bucket of a single client
type rateLimitEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is an in-memory token bucket per client
type RateLimiter struct {
	config   RateLimitConfig
	limit    rate.Limit
	entries  map[string]*rateLimitEntry
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates an in-memory limiter and starts its cleanup goroutine
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		limit:   rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup periodically removes idle entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastAccess) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow consumes one token for key
func (rl *RateLimiter) Allow(_ context.Context, key string) (RateLimitResult, error) {
	now := time.Now()

	rl.mu.Lock()
	entry, ok := rl.entries[key]
	if !ok {
		entry = &rateLimitEntry{limiter: rate.NewLimiter(rl.limit, rl.config.BurstSize)}
		rl.entries[key] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	rl.mu.Unlock()

	res := RateLimitResult{Limit: rl.config.RequestsPerMinute}
	res.Allowed = limiter.AllowN(now, 1)
	tokens := limiter.TokensAt(now)
	res.Remaining = int(math.Max(0, math.Floor(tokens)))
	if !res.Allowed && rl.limit > 0 {
		res.RetryAfter = time.Duration((1 - tokens) / float64(rl.limit) * float64(time.Second))
	}
	return res, nil
}

// RedisRateLimiter keeps the buckets in Redis (GCRA via redis_rate) so every
// replica enforces the same limit.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter creates a shared limiter. prefix namespaces the keys.
func NewRedisRateLimiter(limiter *redis_rate.Limiter, config RateLimitConfig, prefix string) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: limiter,
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
		prefix: prefix,
	}
}

// Allow consumes one token for key
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return RateLimitResult{}, err
	}
	return RateLimitResult{
		Allowed:    res.Allowed > 0,
		Limit:      rl.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests.
// A limiter error lets the request through; throttling is not worth an outage.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		res, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey keys authenticated calls by display name and everything
// else by client address.
func getRateLimitKey(c *gin.Context) string {
	if session := GetSession(c); session != nil && session.DisplayName != "" {
		return "user:" + session.DisplayName
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
