package governance

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultRequestsPerSecond = 100

// RateLimiterConfig defines per-route rate limit settings.
type RateLimiterConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" json:"requestsPerSecond"`
	BurstSize         int `yaml:"burst_size" json:"burstSize"`
}

func (c RateLimiterConfig) normalized() RateLimiterConfig {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.BurstSize <= 0 {
		c.BurstSize = c.RequestsPerSecond
	}
	return c
}

// RateLimiter implements token bucket rate limiting per route.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter with the provided configuration.
func NewRateLimiter(config map[string]RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	rl.Configure(config)
	return rl
}

// Configure replaces the per-route limits. Routes that keep a limit keep their
// limiter, so tokens already available are not reset.
func (rl *RateLimiter) Configure(config map[string]RateLimiterConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limiters := make(map[string]*rate.Limiter, len(config))
	for routeID, cfg := range config {
		cfg = cfg.normalized()
		if limiter, exists := rl.limiters[routeID]; exists {
			limiter.SetLimitAt(now, rate.Limit(cfg.RequestsPerSecond))
			limiter.SetBurstAt(now, cfg.BurstSize)
			limiters[routeID] = limiter
			continue
		}
		limiters[routeID] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize)
	}
	rl.limiters = limiters
}

// Allow reports whether a request on routeID may proceed. Routes without a
// configured limit are always allowed.
func (rl *RateLimiter) Allow(routeID string) bool {
	rl.mu.RLock()
	limiter, exists := rl.limiters[routeID]
	rl.mu.RUnlock()

	if !exists {
		return true
	}
	return limiter.AllowN(rl.now(), 1)
}

// RateLimitStats exposes current state of a route limiter.
type RateLimitStats struct {
	Limit     int     `json:"limit"`
	BurstSize int     `json:"burstSize"`
	Available float64 `json:"available"`
}

// Stats returns current rate limit statistics for all routes.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	now := rl.now()
	stats := make(map[string]RateLimitStats, len(rl.limiters))
	for routeID, limiter := range rl.limiters {
		stats[routeID] = RateLimitStats{
			Limit:     int(limiter.Limit()),
			BurstSize: limiter.Burst(),
			Available: limiter.TokensAt(now),
		}
	}
	return stats
}

// Middleware rejects requests over the routeID limit with 429.
func (rl *RateLimiter) Middleware(routeID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(routeID) {
				rl.writeHeaders(w, routeID)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"success":false,"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) writeHeaders(w http.ResponseWriter, routeID string) {
	stat, ok := rl.Stats()[routeID]
	if !ok {
		return
	}
	remaining := int(stat.Available)
	if remaining < 0 {
		remaining = 0
	}
	WriteRateLimitHeaders(w, stat.Limit, remaining, rl.now().Add(time.Second))
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetTime time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}
