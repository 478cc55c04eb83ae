package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/yourusername/storeguard/core"
)

// Header names shared by allowed and rejected responses
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// ErrorBody is the JSON body of a rejected request
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

// SetRateLimitHeaders adds the X-RateLimit-* headers for a result
func SetRateLimitHeaders(h http.Header, result core.Result) {
	h.Set(HeaderLimit, strconv.Itoa(result.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(result.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(result.Reset, 10))
}

// WriteTooManyRequests answers 429 with the rate limit headers and a JSON body
func WriteTooManyRequests(w http.ResponseWriter, result core.Result) {
	SetRateLimitHeaders(w.Header(), result)
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(result.RetryAfter, 10))

	writeJSON(w, http.StatusTooManyRequests, ErrorBody{
		Error:      "Too Many Requests",
		Message:    "Rate limit exceeded. Please try again in " + strconv.FormatInt(result.RetryAfter, 10) + " seconds.",
		RetryAfter: result.RetryAfter,
	})
}

// WriteForbidden answers 403 for clients that are blocked outright
func WriteForbidden(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusForbidden, ErrorBody{
		Error:   "Forbidden",
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StatusRecorder remembers the status code written by a handler
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

// NewStatusRecorder wraps w; the status defaults to 200 until written
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
