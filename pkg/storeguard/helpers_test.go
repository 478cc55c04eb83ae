package storeguard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yourusername/storeguard/store"
)

// fakeClock is a manually advanced clock shared by stores and limiters
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_250)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errStoreDown = errors.New("store down")

// failingStore fails every call
type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (store.Counter, error) {
	return store.Counter{}, errStoreDown
}

func (failingStore) SlidingWindow(context.Context, string, time.Duration) (int, error) {
	return 0, errStoreDown
}

func (failingStore) Decrement(context.Context, string) error { return errStoreDown }
func (failingStore) Reset(context.Context, string) error     { return errStoreDown }
func (failingStore) Close() error                            { return nil }

type decision struct {
	policy   string
	clientID string
	allowed  bool
}

// recorder captures limiter, detector and adaptive events
type recorder struct {
	mu          sync.Mutex
	decisions   []decision
	analyses    int
	suspicious  int
	blocks      int
	multipliers map[string]float64
}

func newRecorder() *recorder {
	return &recorder{multipliers: make(map[string]float64)}
}

func (r *recorder) RecordDecision(policy, clientID string, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, decision{policy, clientID, allowed})
}

func (r *recorder) RecordAnalysis(suspicious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses++
	if suspicious {
		r.suspicious++
	}
}

func (r *recorder) RecordBlock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks++
}

func (r *recorder) SetMultiplier(policy string, multiplier float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.multipliers[policy] = multiplier
}

// fixedSampler reports constant resource usage
type fixedSampler struct {
	cpu, memory float64
}

func (s fixedSampler) Sample() (float64, float64) {
	return s.cpu, s.memory
}
