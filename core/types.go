package core

import (
	"errors"
	"fmt"
	"time"
)

// Identifier selects how a client is recognised for rate limiting
type Identifier string

const (
	IdentifierIP      Identifier = "ip"
	IdentifierUser    Identifier = "user"
	IdentifierSession Identifier = "session"
	IdentifierCustom  Identifier = "custom"
)

// Valid reports whether the identifier is one of the known kinds
func (i Identifier) Valid() bool {
	switch i {
	case IdentifierIP, IdentifierUser, IdentifierSession, IdentifierCustom:
		return true
	}
	return false
}

var (
	ErrInvalidWindow      = errors.New("window must be positive")
	ErrInvalidMaxRequests = errors.New("max requests must be positive")
	ErrInvalidIdentifier  = errors.New("unknown identifier")
)

// Config defines a rate limiting policy
type Config struct {
	Window      time.Duration `yaml:"window" json:"window"`             // Length of the counting window
	MaxRequests int           `yaml:"max_requests" json:"max_requests"` // Requests allowed per window
	Identifier  Identifier    `yaml:"identifier" json:"identifier"`     // How clients are keyed
	KeyPrefix   string        `yaml:"key_prefix" json:"key_prefix"`     // Namespace for store keys

	SkipSuccessfulRequests bool `yaml:"skip_successful_requests,omitempty" json:"skip_successful_requests,omitempty"`
	SkipFailedRequests     bool `yaml:"skip_failed_requests,omitempty" json:"skip_failed_requests,omitempty"`
}

// Validate checks the policy invariants
func (c Config) Validate() error {
	if c.Window <= 0 {
		return ErrInvalidWindow
	}
	if c.MaxRequests <= 0 {
		return ErrInvalidMaxRequests
	}
	if !c.Identifier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, c.Identifier)
	}
	return nil
}

// Key returns the store key for a client under this policy
func (c Config) Key(clientID string) string {
	return c.KeyPrefix + ":" + clientID
}

// Result is the outcome of a rate limit check
type Result struct {
	Success    bool  `json:"success"`
	Limit      int   `json:"limit"`
	Remaining  int   `json:"remaining"`
	Reset      int64 `json:"reset"`                 // Unix seconds when the counter clears
	RetryAfter int64 `json:"retryAfter,omitempty"` // Seconds to wait, zero when Success
}

// LoadMetrics carries the server load signals used by adaptive limiting
type LoadMetrics struct {
	CPUUsage     float64       `json:"cpuUsage"`     // Percent, 0-100
	MemoryUsage  float64       `json:"memoryUsage"`  // Percent, 0-100
	ErrorRate    float64       `json:"errorRate"`    // Ratio, 0-1
	ResponseTime time.Duration `json:"responseTime"` // Average latency
}
