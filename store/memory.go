package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired entries are removed
const DefaultSweepInterval = time.Minute

// entry holds the counters for one key
type entry struct {
	count    int
	resetAt  time.Time
	requests []time.Time // append-only during a window, pruned on sliding reads
}

// MemoryStore keeps counters in a process-local map.
// It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger

	stopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithLogger sets the logger used by the sweep loop
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment registers a request and returns the fixed-window counter
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		// The sliding log does not reset at fixed-window boundaries:
		// timestamps still inside the trailing window survive the rollover,
		// so a burst straddling the boundary is still counted.
		var carried []time.Time
		if ok {
			carried = prune(e.requests, now.Add(-window))
		}
		e = &entry{
			count:    1,
			resetAt:  now.Add(window),
			requests: append(carried, now),
		}
		s.entries[key] = e
		return Counter{Count: e.count, ResetAt: e.resetAt}, nil
	}

	e.count++
	e.requests = append(e.requests, now)
	return Counter{Count: e.count, ResetAt: e.resetAt}, nil
}

// SlidingWindow counts requests newer than now-window and drops the rest
func (s *MemoryStore) SlidingWindow(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0, nil
	}

	e.requests = prune(e.requests, s.now().Add(-window))
	return len(e.requests), nil
}

// Decrement removes the latest request from key's counters
func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.count > 0 {
		e.count--
	}
	if n := len(e.requests); n > 0 {
		e.requests = e.requests[:n-1]
	}
	return nil
}

// Reset deletes the entry for key
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Sweep removes every entry whose window has passed.
// Returns the number of entries removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.resetAt.Before(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs Sweep every interval until Stop is called.
// Calling Start on a running store is a no-op.
func (s *MemoryStore) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					s.logger.Debug("swept expired rate limit entries", "removed", removed)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit
func (s *MemoryStore) Stop() {
	s.stopMu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.stopMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Close stops the sweep loop and drops all entries
func (s *MemoryStore) Close() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	return nil
}

// prune returns the timestamps after cutoff, reusing the backing array
func prune(requests []time.Time, cutoff time.Time) []time.Time {
	kept := requests[:0]
	for _, at := range requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}
