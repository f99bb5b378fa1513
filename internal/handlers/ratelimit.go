package handlers

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AnalyzeLimiter limits analyze requests per owner with a token bucket each.
type AnalyzeLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAnalyzeLimiter allows perMinute analyses per owner, in bursts of up to perMinute. A
// non-positive perMinute disables limiting.
func NewAnalyzeLimiter(perMinute int) *AnalyzeLimiter {
	if perMinute <= 0 {
		return &AnalyzeLimiter{rate: rate.Inf}
	}
	return &AnalyzeLimiter{
		limiters:  make(map[string]*limiterEntry),
		rate:      rate.Limit(float64(perMinute) / 60),
		burst:     perMinute,
		cleanupAt: time.Now().Add(5 * time.Minute),
	}
}

// Allow reports whether owner may start another analysis now.
func (l *AnalyzeLimiter) Allow(owner string) bool {
	if l.rate == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(5 * time.Minute)
	}

	entry, exists := l.limiters[owner]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[owner] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// cleanup drops limiters idle for ten minutes. Must be called with mu held.
func (l *AnalyzeLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-10 * time.Minute)
	for owner, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, owner)
		}
	}
}
