package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration. A non-positive
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// limiterStore holds one token bucket per client IP.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   RateLimitConfig
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)
		s.limiters[key] = l
	}
	return l
}

// RateLimit rejects requests from a client IP that exceeds its budget with
// 429 and a Retry-After header.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	store := &limiterStore{limiters: make(map[string]*rate.Limiter), config: cfg}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l := store.get(c.RealIP())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			if !l.Allow() {
				retryAfter := int(math.Ceil(1 / cfg.RequestsPerSecond))
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
