package api

import (
	"encoding/json"
	"net/http"

	"github.com/yourusername/storeguard/metrics"
)

// MetricsProvider defines the interface for getting metrics
type MetricsProvider interface {
	GetSnapshot() *metrics.Snapshot
}

// MetricsHandler serves the JSON snapshot read by the dashboard
type MetricsHandler struct {
	provider MetricsProvider
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(provider MetricsProvider) *MetricsHandler {
	return &MetricsHandler{provider: provider}
}

// ServeHTTP handles the snapshot endpoint
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(h.provider.GetSnapshot())
}
