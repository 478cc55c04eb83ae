package store

import (
	"context"
	"time"
)

// Counter is the fixed-window state of a key after an increment
type Counter struct {
	Count   int       // Requests counted in the current window
	ResetAt time.Time // When the current window clears
}

// Store defines the interface for windowed request counting.
// MemoryStore is process-local; RedisStore shares counts between instances.
type Store interface {
	// Increment registers a request for key and returns the fixed-window counter.
	// A missing or expired entry starts a new window of the given length.
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)

	// SlidingWindow returns how many requests for key fall inside the trailing window
	// and prunes older timestamps.
	SlidingWindow(ctx context.Context, key string, window time.Duration) (int, error)

	// Decrement takes back the most recent request for key.
	Decrement(ctx context.Context, key string) error

	// Reset deletes all state for key.
	Reset(ctx context.Context, key string) error

	Close() error
}
