package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/velvetcat/aiko/internal/aiko/event"
)

// DefaultSTMCapacity is the short-term window size when none is configured.
const DefaultSTMCapacity = 15

// ShortTermMemory is a fixed-capacity rolling window of recent turns.
// Insertion beyond capacity silently evicts the oldest entry. There is no
// ranking and no filtering — STM is unconditional recency.
//
// Implemented as a ring buffer over a fixed backing array. A mutex guards
// the indices so the structure stays correct even though a single brain
// instance is the only expected writer.
type ShortTermMemory struct {
	mu      sync.Mutex
	entries []Entry // backing array, len == capacity
	head    int     // index of the oldest entry
	size    int     // number of live entries, ≤ capacity
}

// NewShortTerm creates a short-term memory holding at most capacity entries.
// A capacity ≤ 0 falls back to DefaultSTMCapacity.
func NewShortTerm(capacity int) *ShortTermMemory {
	if capacity <= 0 {
		capacity = DefaultSTMCapacity
	}
	return &ShortTermMemory{entries: make([]Entry, capacity)}
}

// Add records a turn and returns the stored entry. When the window is full
// the oldest entry is evicted; the only signal is the side effect.
// A zero timestamp is filled with the current time.
func (s *ShortTermMemory) Add(e Entry) Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Source == "" {
		e.Source = event.SourceUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tail := (s.head + s.size) % len(s.entries)
	s.entries[tail] = e
	if s.size < len(s.entries) {
		s.size++
	} else {
		// Window full: the slot we just wrote was the oldest entry.
		s.head = (s.head + 1) % len(s.entries)
	}

	slog.Debug("stm: added entry",
		"role", e.Role,
		"source", e.Source,
		"content_len", len(e.Content),
		"entries", s.size,
	)
	return e
}

// Recent returns the most recent n entries, oldest first. n ≤ 0 returns the
// whole window. The returned slice is a copy.
func (s *ShortTermMemory) Recent(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.size
	if n > 0 && n < count {
		count = n
	}
	if count == 0 {
		return nil
	}

	out := make([]Entry, count)
	start := s.size - count
	for i := range count {
		out[i] = s.entries[(s.head+start+i)%len(s.entries)]
	}
	return out
}

// Messages returns the most recent n entries as role/content pairs.
func (s *ShortTermMemory) Messages(n int) []Message {
	recent := s.Recent(n)
	msgs := make([]Message, len(recent))
	for i, e := range recent {
		msgs[i] = e.ToMessage()
	}
	return msgs
}

// Clear discards every entry.
func (s *ShortTermMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = 0
	s.size = 0
	slog.Debug("stm: cleared")
}

// Len returns the number of live entries.
func (s *ShortTermMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Cap returns the configured window capacity.
func (s *ShortTermMemory) Cap() int {
	return len(s.entries)
}
