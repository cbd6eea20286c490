package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// idleExpiry is how long a client's limiter survives without requests.
const idleExpiry = 10 * time.Minute

type Config struct {
	MaxRequestsPerMinute int
	// Burst defaults to MaxRequestsPerMinute.
	Burst  int
	Logger *zap.Logger
}

// RateLimiter throttles API clients, keyed by X-Client-ID when present and
// by remote IP otherwise.
type RateLimiter struct {
	limiters *gocache.Cache
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.MaxRequestsPerMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &RateLimiter{
		limiters: gocache.New(idleExpiry, 5*time.Minute),
		limit:    rate.Limit(float64(cfg.MaxRequestsPerMinute) / 60),
		burst:    cfg.Burst,
		logger:   cfg.Logger,
	}
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if clientID := c.Get("X-Client-ID"); clientID != "" {
			key = clientID
		}

		if !rl.allow(key) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, "60")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	var l *rate.Limiter
	if v, ok := rl.limiters.Get(key); ok {
		l = v.(*rate.Limiter)
	} else {
		l = rate.NewLimiter(rl.limit, rl.burst)
	}
	// Re-set on every hit so only idle clients expire.
	rl.limiters.SetDefault(key, l)
	rl.mu.Unlock()

	return l.Allow()
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	return rl.limiters.ItemCount()
}
