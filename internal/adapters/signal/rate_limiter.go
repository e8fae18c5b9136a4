package signal

import (
	"sync"
	"time"
)

// AuthRateLimiter caps authenticate attempts per login inside a sliding
// window, so a misbehaving client cannot hammer the registry.
type AuthRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func NewAuthRateLimiter(limit int, interval time.Duration) *AuthRateLimiter {
	return &AuthRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *AuthRateLimiter) Allow(login string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[login]

	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[login] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[login] = fresh

	return true
}
