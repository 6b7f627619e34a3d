// ratelimit.go provides Gin middleware that enforces per-client rate limits, returning
// 429 responses when the configured requests-per-minute threshold is exceeded.
//
// Two limiters are available: RateLimiter keeps token buckets in process memory, and
// RedisRateLimiter shares a GCRA budget across replicas through Redis.
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
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/learnhub/membership-service/internal/config"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to drop idle in-memory buckets
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitConfigFrom builds the limiter config from the security section,
// falling back to the defaults for unset values.
func RateLimitConfigFrom(cfg config.RateLimitingConfig) RateLimitConfig {
	out := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		out.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		out.BurstSize = cfg.Burst
	}
	return out
}

// Decision is the outcome of one rate-limit check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the client identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Limit() int
}

// bucket tracks a single client's limiter
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements an in-process token bucket limiter per client
type RateLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes idle buckets
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, b := range rl.buckets {
				if now.Sub(b.lastSeen) > 10*time.Minute {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Limit returns the configured requests per minute
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = time.Now()
		return b.limiter
	}
	perSecond := rate.Limit(float64(rl.config.RequestsPerMinute) / 60.0)
	b := &bucket{limiter: rate.NewLimiter(perSecond, rl.config.BurstSize), lastSeen: time.Now()}
	rl.buckets[key] = b
	return b.limiter
}

// Allow implements Limiter
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l := rl.bucketFor(key)
	now := time.Now()

	r := l.ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: time.Minute}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Remaining: 0, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int(math.Max(0, l.TokensAt(now)))}, nil
}

// RedisRateLimiter shares the budget across replicas
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter creates a Redis-backed limiter
func NewRedisRateLimiter(client redis.UniversalClient, config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
		prefix: "membership:ratelimit:",
	}
}

// Limit returns the configured requests per minute
func (rl *RedisRateLimiter) Limit() int {
	return rl.limit.Rate
}

// Allow implements Limiter
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests.
// A limiter error lets the request through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithKind(c, http.StatusTooManyRequests, "rate_limited", gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Priority: authenticated caller > IP address
func getRateLimitKey(c *gin.Context) string {
	if callerID := c.GetString(CallerIDKey); callerID != "" {
		return "caller:" + callerID
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
