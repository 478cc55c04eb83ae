package storeguard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourusername/storeguard/core"
	"github.com/yourusername/storeguard/metrics"
	"github.com/yourusername/storeguard/store"
)

// Guard wires the store, limiter, DDoS detector and adaptive limiter
// built from one Config, and owns their background loops.
type Guard struct {
	config   *Config
	store    store.Store
	resolver *Resolver
	limiter  *Limiter
	detector *Detector
	adaptive *AdaptiveLimiter
	metrics  *metrics.Metrics
	tracker  *metrics.LoadTracker
	monitor  *metrics.LoadMonitor
	logger   *slog.Logger

	now       func() time.Time
	customKey KeyFunc
	sampler   metrics.ResourceSampler
}

// NewGuard creates a Guard with the given options.
// If no options are provided, it uses the built-in presets and an in-memory store.
//
// Example:
//
//	guard, err := NewGuard(
//	    WithConfigFile("storeguard.yaml"),
//	    WithLogger(logger),
//	)
func NewGuard(opts ...Option) (*Guard, error) {
	g := &Guard{
		config: NewConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if g.metrics == nil {
		g.metrics = metrics.NewMetrics()
	}

	if err := g.buildResolver(); err != nil {
		return nil, err
	}

	if g.store == nil {
		s, err := g.buildStore()
		if err != nil {
			return nil, err
		}
		g.store = s
	}

	g.limiter = NewLimiter(g.store,
		WithLimiterResolver(g.resolver),
		WithDecisionRecorder(g.metrics),
		WithLimiterLogger(g.logger),
		WithLimiterClock(g.now),
	)

	if g.config.Detector.Enabled {
		g.detector = NewDetector(
			WithDetectorResolver(g.resolver),
			WithDetectorRecorder(g.metrics),
			WithDetectorLogger(g.logger),
			WithDetectorClock(g.now),
			WithBlockDuration(g.config.Detector.BlockDuration),
		)
	}

	g.tracker = metrics.NewLoadTracker()
	if g.config.Adaptive.Enabled {
		base, err := g.config.GetPolicy(g.config.Adaptive.Policy)
		if err != nil {
			return nil, err
		}
		g.adaptive = NewAdaptiveLimiter(g.config.Adaptive.Policy, base, g.metrics, g.logger)
		g.monitor = metrics.NewLoadMonitor(g.tracker, g.sampler, func(load core.LoadMetrics) {
			g.adaptive.AdjustLimits(load)
		}, g.logger)
	}

	return g, nil
}

func (g *Guard) buildResolver() error {
	proxies, err := ParseTrustedProxies(g.config.Proxy.TrustedProxies)
	if err != nil {
		return err
	}

	opts := []ResolverOption{WithTrustedProxies(proxies...)}
	if g.config.Proxy.TrustForwardedHeaders {
		opts = append(opts, TrustForwardedHeaders())
	}
	if g.customKey != nil {
		opts = append(opts, WithCustomKey(g.customKey))
	}
	g.resolver = NewResolver(opts...)
	return nil
}

func (g *Guard) buildStore() (store.Store, error) {
	switch g.config.Store.Type {
	case StoreMemory, "":
		g.logger.Warn("using in-memory rate limit store; limits are per instance")
		return store.NewMemoryStore(store.WithClock(g.now), store.WithLogger(g.logger)), nil

	case StoreRedis:
		redisStore := store.NewRedisStore(g.config.Store.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisStore.Ping(ctx); err != nil {
			_ = redisStore.Close()
			return nil, fmt.Errorf("%w: failed to connect to redis at %s: %v", ErrStoreFailed, g.config.Store.Redis.Addr, err)
		}
		g.logger.Info("connected to redis", "addr", g.config.Store.Redis.Addr)
		return redisStore, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStore, g.config.Store.Type)
}

// Policy returns the effective policy for name; the adaptive policy is
// returned already scaled.
func (g *Guard) Policy(name string) (core.Config, error) {
	if g.adaptive != nil && g.adaptive.Name() == name {
		return g.adaptive.Config(), nil
	}
	return g.config.GetPolicy(name)
}

// Protect wraps next with the detector, load tracking and the named policy
func (g *Guard) Protect(policy string, next http.Handler) (http.Handler, error) {
	cfg, err := g.config.GetPolicy(policy)
	if err != nil {
		return nil, err
	}

	var h http.Handler
	if g.adaptive != nil && g.adaptive.Name() == policy {
		h = g.limiter.WithAdaptiveRateLimit(g.adaptive, next)
	} else {
		h = g.limiter.WithRateLimit(cfg, next)
	}

	if g.detector != nil {
		h = g.detector.Middleware(h)
	}
	return g.tracker.Middleware(h), nil
}

// Middleware returns Protect in router middleware form
func (g *Guard) Middleware(policy string) (func(http.Handler) http.Handler, error) {
	if _, err := g.config.GetPolicy(policy); err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		h, _ := g.Protect(policy, next)
		return h
	}, nil
}

// MustMiddleware is Middleware that panics on an unknown policy
func (g *Guard) MustMiddleware(policy string) func(http.Handler) http.Handler {
	mw, err := g.Middleware(policy)
	if err != nil {
		panic(err)
	}
	return mw
}

// Start launches the store sweep, detector cleanup and load sampling
func (g *Guard) Start() {
	if ms, ok := g.store.(*store.MemoryStore); ok {
		ms.Start(g.config.Store.CleanupInterval)
	}
	if g.detector != nil {
		g.detector.Start(g.config.Detector.CleanupInterval)
	}
	if g.monitor != nil {
		g.monitor.Start(g.config.Adaptive.SampleInterval)
	}
}

// Stop halts every background loop. The guard stays usable.
func (g *Guard) Stop() {
	if g.monitor != nil {
		g.monitor.Stop()
	}
	if g.detector != nil {
		g.detector.Stop()
	}
	if ms, ok := g.store.(*store.MemoryStore); ok {
		ms.Stop()
	}
}

// Close stops the guard and releases the store
func (g *Guard) Close() error {
	g.Stop()
	return g.store.Close()
}

// Config returns the configuration the guard was built from
func (g *Guard) Config() *Config {
	return g.config
}

func (g *Guard) Store() store.Store {
	return g.store
}

// Resolver returns the resolver shared by the limiter and detector
func (g *Guard) Resolver() *Resolver {
	return g.resolver
}

func (g *Guard) Limiter() *Limiter {
	return g.limiter
}

func (g *Guard) Metrics() *metrics.Metrics {
	return g.metrics
}

func (g *Guard) LoadTracker() *metrics.LoadTracker {
	return g.tracker
}

// Detector returns the DDoS detector, nil when disabled
func (g *Guard) Detector() *Detector {
	return g.detector
}

// Adaptive returns the adaptive limiter, nil when disabled
func (g *Guard) Adaptive() *AdaptiveLimiter {
	return g.adaptive
}
