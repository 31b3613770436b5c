package tool

import (
	"sync"
	"time"
)

// RateLimiter caps calls per key within a sliding window. The payment tool
// keys it by customer phone, so one conversation hitting the cap does not
// block checkout links for everyone else.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time // for testing
}

// NewRateLimiter creates a limiter allowing limit calls per key per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether a call for key is within the limit, recording it
// when allowed. Expired entries are trimmed on every call so idle keys do
// not accumulate.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	recent := r.calls[key]
	n := 0
	for _, t := range recent {
		if t.After(cutoff) {
			recent[n] = t
			n++
		}
	}
	recent = recent[:n]

	if len(recent) >= r.limit {
		r.calls[key] = recent
		return false
	}

	r.calls[key] = append(recent, now)

	// Drop other keys whose windows have fully expired.
	for k, ts := range r.calls {
		if k == key {
			continue
		}
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(r.calls, k)
		}
	}
	return true
}

// Reset forgets all recorded calls for every key.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[string][]time.Time)
}
