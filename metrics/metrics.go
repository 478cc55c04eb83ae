package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks guard decisions, both as an in-process snapshot for the
// dashboard and as prometheus collectors for scraping.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	blockedRequests atomic.Int64
	suspicious      atomic.Int64
	ipBlocks        atomic.Int64

	// Per-client stats
	mu          sync.RWMutex
	clientStats map[string]*ClientStats
	startTime   time.Time

	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	analyses   *prometheus.CounterVec
	blocks     prometheus.Counter
	multiplier *prometheus.GaugeVec
}

// ClientStats tracks statistics for a specific client
type ClientStats struct {
	ClientID        string    `json:"client_id"`
	TotalRequests   int64     `json:"total_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
	BlockedRequests int64     `json:"blocked_requests"`
	LastRequestAt   time.Time `json:"last_request_at"`
	FirstRequestAt  time.Time `json:"first_request_at"`
}

// NewMetrics creates a metrics tracker with its own prometheus registry
func NewMetrics() *Metrics {
	m := &Metrics{
		clientStats: make(map[string]*ClientStats),
		startTime:   time.Now(),
		registry:    prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeguard_requests_total",
			Help: "Rate limit decisions by policy and outcome",
		}, []string{"policy", "outcome"}),

		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeguard_ddos_analyses_total",
			Help: "Requests analysed by the DDoS detector by verdict",
		}, []string{"verdict"}),

		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storeguard_ddos_blocks_total",
			Help: "IP addresses blocked by the DDoS detector",
		}),

		multiplier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storeguard_adaptive_multiplier",
			Help: "Current adaptive limit multiplier by policy",
		}, []string{"policy"}),
	}

	m.registry.MustRegister(m.requests, m.analyses, m.blocks, m.multiplier)
	return m
}

// RecordDecision records a rate limit check
func (m *Metrics) RecordDecision(policy, clientID string, allowed bool) {
	m.totalRequests.Add(1)

	outcome := "allowed"
	if allowed {
		m.allowedRequests.Add(1)
	} else {
		m.blockedRequests.Add(1)
		outcome = "limited"
	}
	m.requests.WithLabelValues(policy, outcome).Inc()

	// Update per-client stats
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	stats, exists := m.clientStats[clientID]
	if !exists {
		stats = &ClientStats{
			ClientID:       clientID,
			FirstRequestAt: now,
		}
		m.clientStats[clientID] = stats
	}

	stats.TotalRequests++
	if allowed {
		stats.AllowedRequests++
	} else {
		stats.BlockedRequests++
	}
	stats.LastRequestAt = now
}

// RecordAnalysis records one DDoS detector verdict
func (m *Metrics) RecordAnalysis(suspicious bool) {
	verdict := "clean"
	if suspicious {
		verdict = "suspicious"
		m.suspicious.Add(1)
	}
	m.analyses.WithLabelValues(verdict).Inc()
}

// RecordBlock records an IP being blocked
func (m *Metrics) RecordBlock() {
	m.ipBlocks.Add(1)
	m.blocks.Inc()
}

// SetMultiplier publishes the adaptive multiplier for a policy
func (m *Metrics) SetMultiplier(policy string, multiplier float64) {
	m.multiplier.WithLabelValues(policy).Set(multiplier)
}

// Registry exposes the collectors, e.g. for gathering in tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Copy client stats
	topClients := make([]*ClientStats, 0, len(m.clientStats))
	for _, stats := range m.clientStats {
		copied := *stats
		topClients = append(topClients, &copied)
	}

	// Top 10 by total requests
	sort.SliceStable(topClients, func(i, j int) bool {
		return topClients[i].TotalRequests > topClients[j].TotalRequests
	})
	if len(topClients) > 10 {
		topClients = topClients[:10]
	}

	uptime := time.Since(m.startTime)

	return &Snapshot{
		TotalRequests:      m.totalRequests.Load(),
		AllowedRequests:    m.allowedRequests.Load(),
		BlockedRequests:    m.blockedRequests.Load(),
		SuspiciousRequests: m.suspicious.Load(),
		BlockedIPs:         m.ipBlocks.Load(),
		UniqueClients:      int64(len(m.clientStats)),
		TopClients:         topClients,
		UptimeSeconds:      int64(uptime.Seconds()),
		StartTime:          m.startTime,
	}
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TotalRequests      int64          `json:"total_requests"`
	AllowedRequests    int64          `json:"allowed_requests"`
	BlockedRequests    int64          `json:"blocked_requests"`
	SuspiciousRequests int64          `json:"suspicious_requests"`
	BlockedIPs         int64          `json:"blocked_ips"`
	UniqueClients      int64          `json:"unique_clients"`
	TopClients         []*ClientStats `json:"top_clients"`
	UptimeSeconds      int64          `json:"uptime_seconds"`
	StartTime          time.Time      `json:"start_time"`
}
