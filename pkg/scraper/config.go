package scraper

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/OpenScraper/internal/archive"
	"github.com/PentesterFlow/OpenScraper/internal/browser"
	apperrors "github.com/PentesterFlow/OpenScraper/internal/errors"
	"github.com/PentesterFlow/OpenScraper/internal/logger"
	"github.com/PentesterFlow/OpenScraper/internal/ratelimit"
)

// Config holds all service configuration.
type Config struct {
	// HTTP listener
	Server ServerConfig `json:"server" yaml:"server"`

	// Browser pool
	Browser browser.Config `json:"browser" yaml:"browser"`

	// Admission limits per target host
	RateLimit ratelimit.Config `json:"rate_limit" yaml:"rate_limit"`

	// Retries for transient capture failures
	Retry apperrors.RetryConfig `json:"retry" yaml:"retry"`

	// Per-host circuit breaker around the browser
	CircuitBreaker apperrors.CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`

	// Capture archive
	Archive archive.Config `json:"archive" yaml:"archive"`

	// Logging
	Log LogConfig `json:"log" yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen          string        `json:"listen" yaml:"listen"`
	RequestTimeout  time.Duration `json:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `json:"max_body_bytes" yaml:"max_body_bytes"`

	// Browser origins allowed to call the API. Empty disables CORS.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":3000",
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Browser:        browser.DefaultConfig(),
		RateLimit:      ratelimit.DefaultConfig(),
		Retry:          apperrors.DefaultRetryConfig(),
		CircuitBreaker: apperrors.DefaultCircuitBreakerConfig(),
		Archive:        archive.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// LoadFromFile loads configuration from a file (JSON or YAML). Missing
// fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. A .json suffix selects JSON,
// anything else YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request timeout must be positive")
	}
	if c.Browser.PoolSize < 1 {
		return fmt.Errorf("browser pool size must be at least 1")
	}
	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("browser timeout must be positive")
	}
	if c.Browser.IdleQuiet < 0 || c.Browser.IdleTimeout < 0 {
		return fmt.Errorf("browser idle durations must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.PerHostRPS < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1")
	}
	if c.CircuitBreaker.FailureThreshold < 1 || c.CircuitBreaker.SuccessThreshold < 1 {
		return fmt.Errorf("circuit breaker thresholds must be at least 1")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive path is required when the archive is enabled")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Retry.RetryableTypes = append([]apperrors.ErrorType(nil), c.Retry.RetryableTypes...)
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return &clone
}
