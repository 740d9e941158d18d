package webapi

import (
	"sync"
	"time"
)

// rateLimiter enforces a sliding-window request budget per caller plus a
// minimum spacing between consecutive requests.
type rateLimiter struct {
	mu          sync.Mutex
	history     map[string][]time.Time
	limit       int
	window      time.Duration
	minInterval time.Duration
	now         func() time.Time
}

func newRateLimiter(limit int, window time.Duration, minInterval time.Duration) *rateLimiter {
	return &rateLimiter{
		history:     map[string][]time.Time{},
		limit:       limit,
		window:      window,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Allow records the request when it fits the budget and reports the verdict.
func (limiter *rateLimiter) Allow(key string) bool {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := limiter.now()
	cutoff := now.Add(-limiter.window)

	recent := limiter.history[key][:0]
	for _, stamp := range limiter.history[key] {
		if stamp.After(cutoff) {
			recent = append(recent, stamp)
		}
	}

	if len(recent) >= limiter.limit {
		limiter.history[key] = recent
		return false
	}
	if limiter.minInterval > 0 && len(recent) > 0 && now.Sub(recent[len(recent)-1]) < limiter.minInterval {
		limiter.history[key] = recent
		return false
	}

	limiter.history[key] = append(recent, now)
	return true
}
