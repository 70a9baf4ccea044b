package orchestrator

import (
	"sync"
	"time"
)

const (
	// DefaultChatLimit is the maximum number of chat events accepted per
	// viewer per minute when no explicit limit is configured.
	DefaultChatLimit = 10

	// defaultChatWindow is the sliding window duration.
	defaultChatWindow = time.Minute
)

// chatLimiter enforces a per-viewer sliding-window rate limit on chat
// events, keeping a single spamming viewer from monopolizing the persona.
//
// It holds the event timestamps for each viewer within the current window
// and prunes stale entries on every Allow call, bounding memory to O(limit)
// entries per active viewer.
//
// chatLimiter is safe for concurrent use from multiple goroutines.
type chatLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time // viewer → event timestamps in window
}

// newChatLimiter returns a limiter that allows at most limit chat events per
// viewer within window.
//
// If limit ≤ 0 it defaults to DefaultChatLimit.
// If window ≤ 0 it defaults to one minute.
func newChatLimiter(limit int, window time.Duration) *chatLimiter {
	if limit <= 0 {
		limit = DefaultChatLimit
	}
	if window <= 0 {
		window = defaultChatWindow
	}
	return &chatLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
}

// Allow returns true when the viewer is permitted another chat event and
// records the current timestamp. Returns false when the viewer has exhausted
// their quota for the current window.
func (r *chatLimiter) Allow(viewer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	// Prune timestamps that have fallen outside the window.
	existing := r.counters[viewer]
	valid := existing[:0] // reuse backing array
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= r.limit {
		r.counters[viewer] = valid
		return false
	}

	r.counters[viewer] = append(valid, now)
	return true
}

// Remaining returns the number of chat events the viewer can still send
// within the current window.
func (r *chatLimiter) Remaining(viewer string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	count := 0
	for _, t := range r.counters[viewer] {
		if t.After(cutoff) {
			count++
		}
	}
	rem := r.limit - count
	if rem < 0 {
		return 0
	}
	return rem
}
