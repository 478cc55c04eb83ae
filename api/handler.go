package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yourusername/storeguard/core"
	"github.com/yourusername/storeguard/pkg/storeguard"
)

// Handler serves the admin API of a Guard
type Handler struct {
	guard  *storeguard.Guard
	logger *slog.Logger
}

// NewHandler creates a new admin API handler
func NewHandler(guard *storeguard.Guard, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{guard: guard, logger: logger}
}

// Routes returns the admin routes, to be mounted under /admin
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/check", h.CheckRateLimit)
	r.Delete("/limits/{policy}/{client}", h.ResetLimit)

	r.Get("/suspicious", h.ListSuspicious)
	r.Get("/blocked", h.ListBlocked)
	r.Get("/blocked/{ip}", h.GetBlocked)
	r.Post("/block", h.BlockIP)
	r.Delete("/block/{ip}", h.UnblockIP)

	r.Get("/adaptive", h.GetAdaptive)
	r.Post("/adaptive/reset", h.ResetAdaptive)
	r.Post("/load", h.ReportLoad)

	r.Method(http.MethodGet, "/snapshot", NewMetricsHandler(h.guard.Metrics()))
	return r
}

// CheckRequest asks for a rate limit decision on behalf of a client
type CheckRequest struct {
	ClientID  string `json:"client_id"`           // Required: IP, user or API key
	Policy    string `json:"policy"`              // Required: policy name, e.g. "api"
	Algorithm string `json:"algorithm,omitempty"` // "fixed" or "sliding" (default)
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// BlockRequest is the body of POST /block
type BlockRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason,omitempty"`
}

// BlockStatus reports whether one IP is blocked
type BlockStatus struct {
	IP      string `json:"ip"`
	Blocked bool   `json:"blocked"`
}

// LoadRequest reports server load from an external monitor
type LoadRequest struct {
	CPUUsage       float64 `json:"cpuUsage"`
	MemoryUsage    float64 `json:"memoryUsage"`
	ErrorRate      float64 `json:"errorRate"`
	ResponseTimeMs int64   `json:"responseTimeMs"`
}

// AdaptiveStatus describes the adaptive policy
type AdaptiveStatus struct {
	Policy          string  `json:"policy"`
	Multiplier      float64 `json:"multiplier"`
	BaseMaxRequests int     `json:"baseMaxRequests"`
	MaxRequests     int     `json:"maxRequests"`
}

// CheckRateLimit handles POST /check requests
func (h *Handler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.ClientID == "" {
		h.sendError(w, http.StatusBadRequest, "missing_client_id", "client_id is required")
		return
	}

	algorithm := storeguard.SlidingWindow
	switch req.Algorithm {
	case "", "sliding":
	case "fixed":
		algorithm = storeguard.FixedWindow
	default:
		h.sendError(w, http.StatusBadRequest, "invalid_algorithm", "algorithm must be fixed or sliding")
		return
	}

	policy, ok := h.policy(w, req.Policy)
	if !ok {
		return
	}

	result, err := h.guard.Limiter().Check(r.Context(), req.ClientID, policy, algorithm)
	if err != nil {
		h.logger.Error("rate limit check failed", "client", req.ClientID, "policy", req.Policy, "error", err)
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusTooManyRequests
	}
	h.sendJSON(w, status, result)
}

// ResetLimit clears one client's counters under a policy
func (h *Handler) ResetLimit(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.policy(w, chi.URLParam(r, "policy"))
	if !ok {
		return
	}

	client := chi.URLParam(r, "client")
	if err := h.guard.Limiter().Reset(r.Context(), client, policy); err != nil {
		h.logger.Error("failed to reset limit", "client", client, "error", err)
		h.sendError(w, http.StatusInternalServerError, "store_error", "Failed to reset rate limit")
		return
	}

	h.logger.Info("rate limit reset", "policy", policy.KeyPrefix, "client", client)
	w.WriteHeader(http.StatusNoContent)
}

// ListSuspicious handles GET /suspicious
func (h *Handler) ListSuspicious(w http.ResponseWriter, r *http.Request) {
	detector, ok := h.detector(w)
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, detector.SuspiciousIPs())
}

// ListBlocked handles GET /blocked
func (h *Handler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	detector, ok := h.detector(w)
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, detector.BlockedIPs())
}

// GetBlocked handles GET /blocked/{ip}
func (h *Handler) GetBlocked(w http.ResponseWriter, r *http.Request) {
	detector, ok := h.detector(w)
	if !ok {
		return
	}
	ip, ok := h.ipParam(w, chi.URLParam(r, "ip"))
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, BlockStatus{IP: ip, Blocked: detector.IsBlocked(ip)})
}

// BlockIP handles POST /block
func (h *Handler) BlockIP(w http.ResponseWriter, r *http.Request) {
	detector, ok := h.detector(w)
	if !ok {
		return
	}

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	ip, ok := h.ipParam(w, req.IP)
	if !ok {
		return
	}
	if req.Reason == "" {
		req.Reason = "Manual block"
	}

	detector.BlockIP(ip, req.Reason)
	h.sendJSON(w, http.StatusCreated, BlockStatus{IP: ip, Blocked: true})
}

// UnblockIP handles DELETE /block/{ip}
func (h *Handler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	detector, ok := h.detector(w)
	if !ok {
		return
	}
	ip, ok := h.ipParam(w, chi.URLParam(r, "ip"))
	if !ok {
		return
	}

	detector.UnblockIP(ip)
	w.WriteHeader(http.StatusNoContent)
}

// GetAdaptive handles GET /adaptive
func (h *Handler) GetAdaptive(w http.ResponseWriter, r *http.Request) {
	adaptive, ok := h.adaptive(w)
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, adaptiveStatus(adaptive))
}

// ResetAdaptive handles POST /adaptive/reset
func (h *Handler) ResetAdaptive(w http.ResponseWriter, r *http.Request) {
	adaptive, ok := h.adaptive(w)
	if !ok {
		return
	}
	adaptive.Reset()
	h.sendJSON(w, http.StatusOK, adaptiveStatus(adaptive))
}

// ReportLoad handles POST /load. The reading replaces the current
// multiplier until the next sample arrives.
func (h *Handler) ReportLoad(w http.ResponseWriter, r *http.Request) {
	adaptive, ok := h.adaptive(w)
	if !ok {
		return
	}

	var req LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	adaptive.AdjustLimits(core.LoadMetrics{
		CPUUsage:     req.CPUUsage,
		MemoryUsage:  req.MemoryUsage,
		ErrorRate:    req.ErrorRate,
		ResponseTime: time.Duration(req.ResponseTimeMs) * time.Millisecond,
	})
	h.sendJSON(w, http.StatusOK, adaptiveStatus(adaptive))
}

func adaptiveStatus(adaptive *storeguard.AdaptiveLimiter) AdaptiveStatus {
	return AdaptiveStatus{
		Policy:          adaptive.Name(),
		Multiplier:      adaptive.Multiplier(),
		BaseMaxRequests: adaptive.Base().MaxRequests,
		MaxRequests:     adaptive.Config().MaxRequests,
	}
}

func (h *Handler) policy(w http.ResponseWriter, name string) (core.Config, bool) {
	policy, err := h.guard.Policy(name)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "unknown_policy", err.Error())
		return core.Config{}, false
	}
	return policy, true
}

func (h *Handler) detector(w http.ResponseWriter) (*storeguard.Detector, bool) {
	detector := h.guard.Detector()
	if detector == nil {
		h.sendError(w, http.StatusNotFound, "detector_disabled", "DDoS detection is disabled")
		return nil, false
	}
	return detector, true
}

func (h *Handler) adaptive(w http.ResponseWriter) (*storeguard.AdaptiveLimiter, bool) {
	adaptive := h.guard.Adaptive()
	if adaptive == nil {
		h.sendError(w, http.StatusNotFound, "adaptive_disabled", "Adaptive rate limiting is disabled")
		return nil, false
	}
	return adaptive, true
}

func (h *Handler) ipParam(w http.ResponseWriter, raw string) (string, bool) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_ip", storeguard.ErrInvalidIP.Error()+": "+raw)
		return "", false
	}
	return addr.String(), true
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.sendJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
