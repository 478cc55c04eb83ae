package storeguard

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/storeguard/core"
)

func TestAdaptiveLimiter_Compounds(t *testing.T) {
	api, ok := core.Preset("api")
	require.True(t, ok)
	rec := newRecorder()
	adaptive := NewAdaptiveLimiter("api", api, rec, nil)

	multiplier := adaptive.AdjustLimits(core.LoadMetrics{CPUUsage: 90, ErrorRate: 0.2})
	assert.InDelta(t, 0.3, multiplier, 1e-9)
	assert.InDelta(t, 0.3, adaptive.Multiplier(), 1e-9)
	assert.Equal(t, 18, adaptive.Config().MaxRequests)
	assert.Equal(t, 60, adaptive.Base().MaxRequests)
	assert.Equal(t, api.Window, adaptive.Config().Window)
	assert.InDelta(t, 0.3, rec.multipliers["api"], 1e-9)
}

func TestAdaptiveLimiter_RecomputesFromScratch(t *testing.T) {
	api, _ := core.Preset("api")
	adaptive := NewAdaptiveLimiter("api", api, nil, nil)

	adaptive.AdjustLimits(core.LoadMetrics{CPUUsage: 70})
	assert.InDelta(t, 0.75, adaptive.Multiplier(), 1e-9)
	assert.Equal(t, 45, adaptive.Config().MaxRequests)

	adaptive.AdjustLimits(core.LoadMetrics{CPUUsage: 10, ResponseTime: 100 * time.Millisecond})
	assert.Equal(t, 1.0, adaptive.Multiplier())
	assert.Equal(t, api, adaptive.Config())
}

func TestAdaptiveLimiter_NeverBelowOne(t *testing.T) {
	auth, _ := core.Preset("auth")
	adaptive := NewAdaptiveLimiter("auth", auth, nil, nil)

	adaptive.AdjustLimits(core.LoadMetrics{
		CPUUsage:     95,
		MemoryUsage:  95,
		ErrorRate:    0.5,
		ResponseTime: 2 * time.Second,
	})
	assert.InDelta(t, 0.105, adaptive.Multiplier(), 1e-9)
	assert.Equal(t, 1, adaptive.Config().MaxRequests)
}

func TestAdaptiveLimiter_Reset(t *testing.T) {
	api, _ := core.Preset("api")
	rec := newRecorder()
	adaptive := NewAdaptiveLimiter("api", api, rec, nil)
	assert.Equal(t, 1.0, rec.multipliers["api"])

	adaptive.AdjustLimits(core.LoadMetrics{MemoryUsage: 85})
	assert.Equal(t, 0.5, rec.multipliers["api"])

	adaptive.Reset()
	assert.Equal(t, 1.0, adaptive.Multiplier())
	assert.Equal(t, 1.0, rec.multipliers["api"])
	assert.Equal(t, "api", adaptive.Name())
}

func TestLimiter_WithAdaptiveRateLimit(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock)
	adaptive := NewAdaptiveLimiter("test", testPolicy(time.Minute, 4), nil, nil)
	adaptive.AdjustLimits(core.LoadMetrics{CPUUsage: 85})

	handler := limiter.WithAdaptiveRateLimit(adaptive, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/products", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Relief takes effect on the next request.
	adaptive.AdjustLimits(core.LoadMetrics{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "4", rr.Header().Get("X-RateLimit-Limit"))
}
