package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig tunes the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, BurstSize: 200}
}

// bucket tracks how many tokens a single client has left. Refill happens
// lazily on each take, based on how much time passed since the last one.
type bucket struct {
	level float64
	seen  time.Time
}

// limiter maps client keys to buckets. The clock is injectable so tests
// can refill buckets without sleeping.
type limiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	clients map[string]*bucket
	now     func() time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{
		cfg:     cfg,
		clients: make(map[string]*bucket),
		now:     time.Now,
	}
}

// take consumes one token for key, reporting whether the request may
// proceed and, when it may not, how many seconds until a token is back.
func (l *limiter) take(key string) (ok bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.clients[key]
	if !exists {
		b = &bucket{level: float64(l.cfg.BurstSize), seen: now}
		l.clients[key] = b
	}

	b.level += now.Sub(b.seen).Seconds() * l.cfg.RequestsPerSecond
	if b.level > float64(l.cfg.BurstSize) {
		b.level = float64(l.cfg.BurstSize)
	}
	b.seen = now

	if b.level >= 1 {
		b.level--
		return true, 0
	}
	if l.cfg.RequestsPerSecond <= 0 {
		return false, 1
	}
	return false, int((1-b.level)/l.cfg.RequestsPerSecond) + 1
}

// clientKey scopes the bucket to the caller. Authenticated requests get a
// tenant-qualified key so one clinic cannot exhaust another's budget from
// behind a shared proxy.
func clientKey(c echo.Context) string {
	key := c.RealIP()
	if tenantID, ok := c.Get("jwt_tenant_id").(string); ok {
		key = tenantID + ":" + key
	}
	return key
}

// RateLimit rejects requests beyond cfg's sustained rate with 429 and a
// Retry-After hint.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, retryAfter := l.take(clientKey(c))
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
