package storeguard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourusername/storeguard/core"
	"github.com/yourusername/storeguard/middleware"
	"github.com/yourusername/storeguard/store"
)

// Algorithm selects the counting scheme used by Check
type Algorithm int

const (
	// FixedWindow counts per fixed window; bursts are possible at window edges
	FixedWindow Algorithm = iota
	// SlidingWindow counts over a moving window using a timestamp log
	SlidingWindow
)

func (a Algorithm) String() string {
	if a == FixedWindow {
		return "fixed"
	}
	return "sliding"
}

// DecisionRecorder receives every rate limit decision
type DecisionRecorder interface {
	RecordDecision(policy, clientID string, allowed bool)
}

// Limiter applies rate limit policies on top of a Store.
// Decisions never fail closed: when the store errors the request is
// allowed and the error is returned alongside the result.
type Limiter struct {
	store    store.Store
	resolver *Resolver
	recorder DecisionRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// LimiterOption configures a Limiter
type LimiterOption func(*Limiter)

// WithLimiterResolver sets how clients are identified
func WithLimiterResolver(resolver *Resolver) LimiterOption {
	return func(l *Limiter) {
		l.resolver = resolver
	}
}

// WithDecisionRecorder reports each decision, e.g. to metrics
func WithDecisionRecorder(recorder DecisionRecorder) LimiterOption {
	return func(l *Limiter) {
		l.recorder = recorder
	}
}

// WithLimiterLogger sets the logger
func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithLimiterClock replaces time.Now; it should match the store's clock
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter over s
func NewLimiter(s store.Store, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:    s,
		resolver: NewResolver(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolver returns the resolver used to identify clients
func (l *Limiter) Resolver() *Resolver {
	return l.resolver
}

// RateLimit runs the fixed-window check for the request's client
func (l *Limiter) RateLimit(r *http.Request, cfg core.Config) (core.Result, error) {
	return l.Check(r.Context(), l.resolver.Resolve(r, cfg.Identifier), cfg, FixedWindow)
}

// SlidingWindowRateLimit runs the sliding-window check for the request's client
func (l *Limiter) SlidingWindowRateLimit(r *http.Request, cfg core.Config) (core.Result, error) {
	return l.Check(r.Context(), l.resolver.Resolve(r, cfg.Identifier), cfg, SlidingWindow)
}

// Check registers a request from clientID under cfg and decides it
func (l *Limiter) Check(ctx context.Context, clientID string, cfg core.Config, algorithm Algorithm) (core.Result, error) {
	key := cfg.Key(clientID)

	var (
		result core.Result
		err    error
	)
	switch algorithm {
	case FixedWindow:
		result, err = l.fixedWindow(ctx, key, cfg)
	default:
		result, err = l.slidingWindow(ctx, key, cfg)
	}

	if l.recorder != nil {
		l.recorder.RecordDecision(cfg.KeyPrefix, clientID, result.Success)
	}
	return result, err
}

func (l *Limiter) fixedWindow(ctx context.Context, key string, cfg core.Config) (core.Result, error) {
	now := l.now()

	counter, err := l.store.Increment(ctx, key, cfg.Window)
	if err != nil {
		return l.failOpen(cfg, now), fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return core.FixedWindow(counter.Count, cfg.MaxRequests, counter.ResetAt, now), nil
}

func (l *Limiter) slidingWindow(ctx context.Context, key string, cfg core.Config) (core.Result, error) {
	now := l.now()

	count, err := l.store.SlidingWindow(ctx, key, cfg.Window)
	if err != nil {
		return l.failOpen(cfg, now), fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	result := core.SlidingWindow(count, cfg.MaxRequests, cfg.Window, now)

	// Rejected requests are recorded too, so retry storms keep the count up.
	if _, err := l.store.Increment(ctx, key, cfg.Window); err != nil {
		return result, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return result, nil
}

func (l *Limiter) failOpen(cfg core.Config, now time.Time) core.Result {
	return core.SlidingWindow(0, cfg.MaxRequests, cfg.Window, now)
}

// Reset clears the counters of clientID under cfg
func (l *Limiter) Reset(ctx context.Context, clientID string, cfg core.Config) error {
	if err := l.store.Reset(ctx, cfg.Key(clientID)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return nil
}

// WithRateLimit guards next with the sliding-window limiter. Rejected
// requests get a 429 JSON response; allowed ones reach next with the
// same X-RateLimit-* headers set.
func (l *Limiter) WithRateLimit(cfg core.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.serve(w, r, cfg, next)
	})
}

// WithAdaptiveRateLimit is WithRateLimit with the policy read from an
// AdaptiveLimiter on every request
func (l *Limiter) WithAdaptiveRateLimit(adaptive *AdaptiveLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.serve(w, r, adaptive.Config(), next)
	})
}

// Middleware returns WithRateLimit in router middleware form
func (l *Limiter) Middleware(cfg core.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return l.WithRateLimit(cfg, next)
	}
}

func (l *Limiter) serve(w http.ResponseWriter, r *http.Request, cfg core.Config, next http.Handler) {
	clientID := l.resolver.Resolve(r, cfg.Identifier)

	result, err := l.Check(r.Context(), clientID, cfg, SlidingWindow)
	if err != nil {
		l.logger.Error("rate limit check failed, allowing request",
			"policy", cfg.KeyPrefix,
			"client", clientID,
			"error", err,
		)
	}

	if !result.Success {
		l.logger.Debug("rate limit exceeded",
			"policy", cfg.KeyPrefix,
			"client", clientID,
			"retry_after", result.RetryAfter,
		)
		middleware.WriteTooManyRequests(w, result)
		return
	}

	middleware.SetRateLimitHeaders(w.Header(), result)

	if !cfg.SkipSuccessfulRequests && !cfg.SkipFailedRequests {
		next.ServeHTTP(w, r)
		return
	}

	rec := middleware.NewStatusRecorder(w)
	next.ServeHTTP(rec, r)

	failed := rec.Status >= http.StatusBadRequest
	if (failed && cfg.SkipFailedRequests) || (!failed && cfg.SkipSuccessfulRequests) {
		ctx := context.WithoutCancel(r.Context())
		if err := l.store.Decrement(ctx, cfg.Key(clientID)); err != nil {
			l.logger.Error("failed to uncount request", "policy", cfg.KeyPrefix, "client", clientID, "error", err)
		}
	}
}
