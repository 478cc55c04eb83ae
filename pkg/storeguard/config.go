package storeguard

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/storeguard/core"
	"github.com/yourusername/storeguard/store"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds the guard configuration.
type Config struct {
	// Policies maps policy names to rate limits. It starts out holding the
	// built-in presets; an entry in the file replaces the preset of that name.
	Policies map[string]core.Config `yaml:"policies,omitempty"`

	Proxy    ProxyConfig    `yaml:"proxy"`
	Store    StoreConfig    `yaml:"store"`
	Detector DetectorConfig `yaml:"detector"`
	Adaptive AdaptiveConfig `yaml:"adaptive"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProxyConfig describes which forwarding headers can be believed.
// Correct client IPs depend on a reverse proxy that overwrites
// X-Forwarded-For; without one these headers are client-controlled.
type ProxyConfig struct {
	// TrustForwardedHeaders honours X-Forwarded-For / X-Real-IP from any peer
	TrustForwardedHeaders bool `yaml:"trust_forwarded_headers"`

	// TrustedProxies lists CIDRs or IPs whose forwarding headers are honoured
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// StoreConfig selects the counter backend
type StoreConfig struct {
	Type            string            `yaml:"type"`             // memory or redis
	CleanupInterval time.Duration     `yaml:"cleanup_interval"` // memory sweep interval
	Redis           store.RedisConfig `yaml:"redis"`
}

// DetectorConfig configures the DDoS detector
type DetectorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	BlockDuration   time.Duration `yaml:"block_duration"`
}

// AdaptiveConfig configures load-based scaling of one policy
type AdaptiveConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Policy         string        `yaml:"policy"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// AdminConfig protects the admin API, dashboard data and /metrics.
// With no token every admin request is rejected with 401.
type AdminConfig struct {
	Token string `yaml:"token"`

	// Addr serves the admin surface on its own listener instead of the
	// storefront one, e.g. "127.0.0.1:9090"
	Addr string `yaml:"addr,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Policies: core.Presets(),
		Store: StoreConfig{
			Type:            StoreMemory,
			CleanupInterval: store.DefaultSweepInterval,
			Redis:           store.RedisConfig{Addr: "localhost:6379"},
		},
		Detector: DetectorConfig{
			Enabled:         true,
			CleanupInterval: DefaultDetectorCleanupInterval,
			BlockDuration:   DefaultBlockDuration,
		},
		Adaptive: AdaptiveConfig{
			Enabled:        false,
			Policy:         "api",
			SampleInterval: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds the configuration in order: .env file, defaults,
// YAML file (when path is set), environment overrides, validation.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to load .env: %v", ErrInvalidConfig, err)
	}

	cfg := NewConfig()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromFile loads configuration from a YAML file on top of the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyEnvOverrides applies STOREGUARD_* environment variables
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("STOREGUARD_STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("STOREGUARD_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("STOREGUARD_REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("STOREGUARD_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: invalid STOREGUARD_REDIS_DB: %v", ErrInvalidConfig, err)
		}
		c.Store.Redis.DB = db
	}
	if v := os.Getenv("STOREGUARD_TRUST_FORWARDED_HEADERS"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: invalid STOREGUARD_TRUST_FORWARDED_HEADERS: %v", ErrInvalidConfig, err)
		}
		c.Proxy.TrustForwardedHeaders = trust
	}
	if v := os.Getenv("STOREGUARD_ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("STOREGUARD_ADMIN_ADDR"); v != "" {
		c.Admin.Addr = v
	}
	if v := os.Getenv("STOREGUARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// ApplyDefaults fills gaps left by a partial file
func (c *Config) ApplyDefaults() {
	if c.Policies == nil {
		c.Policies = core.Presets()
	}
	for name, policy := range c.Policies {
		if policy.KeyPrefix == "" {
			policy.KeyPrefix = name
		}
		if policy.Identifier == "" {
			policy.Identifier = core.IdentifierIP
		}
		c.Policies[name] = policy
	}

	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	if c.Store.CleanupInterval == 0 {
		c.Store.CleanupInterval = store.DefaultSweepInterval
	}
	if c.Detector.CleanupInterval == 0 {
		c.Detector.CleanupInterval = DefaultDetectorCleanupInterval
	}
	if c.Detector.BlockDuration == 0 {
		c.Detector.BlockDuration = DefaultBlockDuration
	}
	if c.Adaptive.SampleInterval == 0 {
		c.Adaptive.SampleInterval = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Policies) == 0 {
		return fmt.Errorf("%w: no policies configured", ErrInvalidConfig)
	}
	for name, policy := range c.Policies {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%w: invalid policy %s: %w", ErrInvalidConfig, name, err)
		}
	}

	if _, err := ParseTrustedProxies(c.Proxy.TrustedProxies); err != nil {
		return err
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("%w: redis store requires an address", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %w: %s", ErrInvalidConfig, ErrUnknownStore, c.Store.Type)
	}

	if c.Store.CleanupInterval < 0 || c.Detector.CleanupInterval < 0 || c.Detector.BlockDuration < 0 {
		return fmt.Errorf("%w: intervals cannot be negative", ErrInvalidConfig)
	}

	if c.Adaptive.Enabled {
		if _, ok := c.Policies[c.Adaptive.Policy]; !ok {
			return fmt.Errorf("%w: adaptive policy: %w: %s", ErrInvalidConfig, ErrUnknownPolicy, c.Adaptive.Policy)
		}
		if c.Adaptive.SampleInterval <= 0 {
			return fmt.Errorf("%w: adaptive sample interval must be positive", ErrInvalidConfig)
		}
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// GetPolicy returns the named policy.
func (c *Config) GetPolicy(name string) (core.Config, error) {
	policy, ok := c.Policies[name]
	if !ok {
		return core.Config{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
	return policy, nil
}

// SetPolicy adds or replaces a named policy.
func (c *Config) SetPolicy(name string, policy core.Config) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Policies == nil {
		c.Policies = make(map[string]core.Config)
	}
	c.Policies[name] = policy
	return nil
}

// NewLogger builds a slog logger writing to w
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
}
