package storeguard

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/storeguard/metrics"
	"github.com/yourusername/storeguard/store"
)

// Option is a functional option for configuring a Guard.
type Option func(*Guard) error

// WithStore sets a custom store for the guard.
// If not provided, the store is built from the configuration.
func WithStore(s store.Store) Option {
	return func(g *Guard) error {
		if s == nil {
			return fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
		}
		g.store = s
		return nil
	}
}

// WithConfig sets the configuration for the guard.
func WithConfig(config *Config) Option {
	return func(g *Guard) error {
		if config == nil {
			return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
		}
		config.ApplyDefaults()
		if err := config.Validate(); err != nil {
			return err
		}
		g.config = config
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(g *Guard) error {
		config, err := LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		g.config = config
		return nil
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		g.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics tracker. By default the guard creates its own.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) error {
		if m == nil {
			return fmt.Errorf("%w: metrics cannot be nil", ErrInvalidConfig)
		}
		g.metrics = m
		return nil
	}
}

// WithClock replaces time.Now in every component, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		g.now = now
		return nil
	}
}

// WithKeyFunc sets how the custom identifier derives client keys.
func WithKeyFunc(fn KeyFunc) Option {
	return func(g *Guard) error {
		if fn == nil {
			return fmt.Errorf("%w: key func cannot be nil", ErrInvalidConfig)
		}
		g.customKey = fn
		return nil
	}
}

// WithResourceSampler replaces the CPU/memory sampler fed to the adaptive limiter.
func WithResourceSampler(sampler metrics.ResourceSampler) Option {
	return func(g *Guard) error {
		if sampler == nil {
			return fmt.Errorf("%w: sampler cannot be nil", ErrInvalidConfig)
		}
		g.sampler = sampler
		return nil
	}
}
