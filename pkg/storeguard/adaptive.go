package storeguard

import (
	"log/slog"
	"sync"

	"github.com/yourusername/storeguard/core"
)

// MultiplierRecorder publishes the adaptive multiplier
type MultiplierRecorder interface {
	SetMultiplier(policy string, multiplier float64)
}

// AdaptiveLimiter scales a base policy down under load. The multiplier is
// recomputed from scratch on every AdjustLimits call, so it only stays
// current while load metrics keep arriving.
type AdaptiveLimiter struct {
	name     string
	base     core.Config
	recorder MultiplierRecorder
	logger   *slog.Logger

	mu         sync.RWMutex
	multiplier float64
}

// NewAdaptiveLimiter wraps base; name labels logs and metrics
func NewAdaptiveLimiter(name string, base core.Config, recorder MultiplierRecorder, logger *slog.Logger) *AdaptiveLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AdaptiveLimiter{
		name:       name,
		base:       base,
		recorder:   recorder,
		logger:     logger,
		multiplier: 1.0,
	}
	a.publish(1.0)
	return a
}

// AdjustLimits recomputes the multiplier from load and returns it
func (a *AdaptiveLimiter) AdjustLimits(load core.LoadMetrics) float64 {
	multiplier := core.Multiplier(load)

	a.mu.Lock()
	previous := a.multiplier
	a.multiplier = multiplier
	a.mu.Unlock()

	if multiplier != previous {
		a.logger.Info("adaptive rate limit adjusted",
			"policy", a.name,
			"multiplier", multiplier,
			"max_requests", core.Scale(a.base, multiplier).MaxRequests,
			"cpu", load.CPUUsage,
			"memory", load.MemoryUsage,
			"error_rate", load.ErrorRate,
			"response_time", load.ResponseTime,
		)
	}
	a.publish(multiplier)
	return multiplier
}

// Config returns the base policy scaled by the current multiplier
func (a *AdaptiveLimiter) Config() core.Config {
	return core.Scale(a.base, a.Multiplier())
}

// Base returns the unscaled policy
func (a *AdaptiveLimiter) Base() core.Config {
	return a.base
}

// Name returns the policy name
func (a *AdaptiveLimiter) Name() string {
	return a.name
}

// Multiplier returns the current multiplier
func (a *AdaptiveLimiter) Multiplier() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.multiplier
}

// Reset restores the multiplier to 1
func (a *AdaptiveLimiter) Reset() {
	a.mu.Lock()
	a.multiplier = 1.0
	a.mu.Unlock()
	a.publish(1.0)
}

func (a *AdaptiveLimiter) publish(multiplier float64) {
	if a.recorder != nil {
		a.recorder.SetMultiplier(a.name, multiplier)
	}
}
