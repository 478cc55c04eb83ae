package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/storeguard/core"
	"github.com/yourusername/storeguard/metrics"
	"github.com/yourusername/storeguard/pkg/storeguard"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T, mutate func(*storeguard.Config)) (*storeguard.Guard, http.Handler) {
	t.Helper()

	config := storeguard.NewConfig()
	if mutate != nil {
		mutate(config)
	}
	guard, err := storeguard.NewGuard(storeguard.WithConfig(config), storeguard.WithLogger(discardLogger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = guard.Close() })

	r := chi.NewRouter()
	r.Mount("/admin", NewHandler(guard, discardLogger).Routes())
	return guard, r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCheckRateLimit(t *testing.T) {
	_, srv := newTestServer(t, func(c *storeguard.Config) {
		c.Policies["auth"] = core.Config{Window: time.Minute, MaxRequests: 2, Identifier: core.IdentifierIP, KeyPrefix: "auth"}
	})

	for i := 0; i < 2; i++ {
		rr := do(t, srv, http.MethodPost, "/admin/check", CheckRequest{ClientID: "user-1", Policy: "auth"})
		require.Equal(t, http.StatusOK, rr.Code)

		var result core.Result
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.Limit)
		assert.Equal(t, 1-i, result.Remaining)
	}

	rr := do(t, srv, http.MethodPost, "/admin/check", CheckRequest{ClientID: "user-1", Policy: "auth"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	var result core.Result
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.False(t, result.Success)
	assert.Equal(t, int64(60), result.RetryAfter)
}

func TestCheckRateLimit_FixedWindow(t *testing.T) {
	_, srv := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/admin/check", CheckRequest{ClientID: "k", Policy: "api", Algorithm: "fixed"})
	require.Equal(t, http.StatusOK, rr.Code)

	var result core.Result
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.Equal(t, 59, result.Remaining)
}

func TestCheckRateLimit_BadRequests(t *testing.T) {
	_, srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"invalid json", "{", http.StatusBadRequest, "invalid_request"},
		{"missing client", CheckRequest{Policy: "api"}, http.StatusBadRequest, "missing_client_id"},
		{"bad algorithm", CheckRequest{ClientID: "k", Policy: "api", Algorithm: "bucket"}, http.StatusBadRequest, "invalid_algorithm"},
		{"unknown policy", CheckRequest{ClientID: "k", Policy: "checkout"}, http.StatusNotFound, "unknown_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/admin/check", tt.body)
			assert.Equal(t, tt.status, rr.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Error)
		})
	}
}

func TestResetLimit(t *testing.T) {
	_, srv := newTestServer(t, func(c *storeguard.Config) {
		c.Policies["auth"] = core.Config{Window: time.Minute, MaxRequests: 1, Identifier: core.IdentifierIP, KeyPrefix: "auth"}
	})

	check := CheckRequest{ClientID: "203.0.113.4", Policy: "auth"}
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/admin/check", check).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, srv, http.MethodPost, "/admin/check", check).Code)

	rr := do(t, srv, http.MethodDelete, "/admin/limits/auth/203.0.113.4", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/admin/check", check).Code)

	rr = do(t, srv, http.MethodDelete, "/admin/limits/checkout/203.0.113.4", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBlockLifecycle(t *testing.T) {
	guard, srv := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/admin/block", BlockRequest{IP: "198.51.100.9", Reason: "card testing"})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, guard.Detector().IsBlocked("198.51.100.9"))

	rr = do(t, srv, http.MethodGet, "/admin/blocked", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var blocked []storeguard.BlockedIP
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&blocked))
	require.Len(t, blocked, 1)
	assert.Equal(t, "198.51.100.9", blocked[0].IP)
	assert.Equal(t, "card testing", blocked[0].Reason)

	rr = do(t, srv, http.MethodGet, "/admin/blocked/198.51.100.9", nil)
	var status BlockStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, BlockStatus{IP: "198.51.100.9", Blocked: true}, status)

	rr = do(t, srv, http.MethodDelete, "/admin/block/198.51.100.9", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, guard.Detector().IsBlocked("198.51.100.9"))

	rr = do(t, srv, http.MethodGet, "/admin/blocked/198.51.100.9", nil)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.False(t, status.Blocked)
}

func TestBlockIP_DefaultReason(t *testing.T) {
	guard, srv := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/admin/block", BlockRequest{IP: "2001:db8::1"})
	require.Equal(t, http.StatusCreated, rr.Code)

	blocked := guard.Detector().BlockedIPs()
	require.Len(t, blocked, 1)
	assert.Equal(t, "Manual block", blocked[0].Reason)
}

func TestBlockIP_MatchesForwardedIPv6(t *testing.T) {
	guard, srv := newTestServer(t, func(c *storeguard.Config) {
		c.Proxy.TrustForwardedHeaders = true
	})

	forwarded := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
		req.Header.Set("X-Forwarded-For", "2001:DB8:0:0::1")
		return req
	}

	rr := do(t, srv, http.MethodPost, "/admin/block", BlockRequest{IP: "2001:db8::1"})
	require.Equal(t, http.StatusCreated, rr.Code)

	analysis := guard.Detector().AnalyzeRequest(forwarded())
	assert.Equal(t, "2001:db8::1", analysis.IP)
	assert.True(t, analysis.Blocked)

	rr = do(t, srv, http.MethodDelete, "/admin/block/2001:DB8::1", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, guard.Detector().AnalyzeRequest(forwarded()).Blocked)
}

func TestBlockIP_Invalid(t *testing.T) {
	_, srv := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/admin/block", BlockRequest{IP: "not-an-ip"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodPost, "/admin/block", "{")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodGet, "/admin/blocked/nope", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListSuspicious(t *testing.T) {
	guard, srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/", nil)
	req.RemoteAddr = "203.0.113.77:5555"
	req.Header.Set("User-Agent", "python-requests")
	guard.Detector().AnalyzeRequest(req)

	rr := do(t, srv, http.MethodGet, "/admin/suspicious", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var ips []storeguard.SuspiciousIP
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ips))
	require.Len(t, ips, 1)
	assert.Equal(t, "203.0.113.77", ips[0].IP)
	assert.Equal(t, 15, ips[0].Score)
}

func TestDetectorDisabled(t *testing.T) {
	_, srv := newTestServer(t, func(c *storeguard.Config) {
		c.Detector.Enabled = false
	})

	for _, path := range []string{"/admin/suspicious", "/admin/blocked", "/admin/blocked/192.0.2.1"} {
		rr := do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
	rr := do(t, srv, http.MethodPost, "/admin/block", BlockRequest{IP: "192.0.2.1"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdaptiveEndpoints(t *testing.T) {
	_, srv := newTestServer(t, func(c *storeguard.Config) {
		c.Adaptive.Enabled = true
		c.Adaptive.Policy = "api"
	})

	rr := do(t, srv, http.MethodGet, "/admin/adaptive", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status AdaptiveStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, AdaptiveStatus{Policy: "api", Multiplier: 1, BaseMaxRequests: 60, MaxRequests: 60}, status)

	rr = do(t, srv, http.MethodPost, "/admin/load", LoadRequest{CPUUsage: 90, ErrorRate: 0.2})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.InDelta(t, 0.3, status.Multiplier, 1e-9)
	assert.Equal(t, 18, status.MaxRequests)

	rr = do(t, srv, http.MethodPost, "/admin/load", LoadRequest{ResponseTimeMs: 1500})
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.InDelta(t, 0.7, status.Multiplier, 1e-9)
	assert.Equal(t, 42, status.MaxRequests)

	rr = do(t, srv, http.MethodPost, "/admin/adaptive/reset", nil)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, 1.0, status.Multiplier)
	assert.Equal(t, 60, status.MaxRequests)

	rr = do(t, srv, http.MethodPost, "/admin/load", "{")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdaptiveDisabled(t *testing.T) {
	_, srv := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/admin/adaptive", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/admin/load", LoadRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/admin/adaptive/reset", nil).Code)
}

func TestSnapshot(t *testing.T) {
	guard, srv := newTestServer(t, nil)
	guard.Metrics().RecordDecision("api", "client-1", true)
	guard.Metrics().RecordDecision("api", "client-1", false)

	rr := do(t, srv, http.MethodGet, "/admin/snapshot", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var snapshot metrics.Snapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snapshot))
	assert.Equal(t, int64(2), snapshot.TotalRequests)
	assert.Equal(t, int64(1), snapshot.BlockedRequests)
	require.Len(t, snapshot.TopClients, 1)
	assert.Equal(t, "client-1", snapshot.TopClients[0].ClientID)
}

func TestMetricsHandler_MethodNotAllowed(t *testing.T) {
	h := NewMetricsHandler(metrics.NewMetrics())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/snapshot", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
