package core

import "time"

// Load thresholds for adaptive limiting
const (
	CPUHighThreshold      = 80.0
	CPUElevatedThreshold  = 60.0
	MemoryHighThreshold   = 80.0
	ErrorRateThreshold    = 0.1
	ResponseTimeThreshold = time.Second
)

// Multiplier computes the scaling factor for a base limit from scratch.
// Each red signal applies its own penalty and penalties compound, so two
// simultaneous signals shed more load than either alone.
func Multiplier(m LoadMetrics) float64 {
	multiplier := 1.0

	switch {
	case m.CPUUsage > CPUHighThreshold:
		multiplier *= 0.5
	case m.CPUUsage > CPUElevatedThreshold:
		multiplier *= 0.75
	}

	if m.MemoryUsage > MemoryHighThreshold {
		multiplier *= 0.5
	}
	if m.ErrorRate > ErrorRateThreshold {
		multiplier *= 0.6
	}
	if m.ResponseTime > ResponseTimeThreshold {
		multiplier *= 0.7
	}

	return multiplier
}

// Scale returns cfg with MaxRequests floored to base*multiplier, never below one.
func Scale(cfg Config, multiplier float64) Config {
	scaled := int(float64(cfg.MaxRequests) * multiplier)
	if scaled < 1 {
		scaled = 1
	}
	cfg.MaxRequests = scaled
	return cfg
}
