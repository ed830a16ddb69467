// Package config provides configuration structures and loading logic for the
// txguard service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/rojo-labs/txguard/internal/governance"
	"github.com/rojo-labs/txguard/pkg/domain"
	"github.com/rojo-labs/txguard/pkg/eip712"
	"github.com/rojo-labs/txguard/pkg/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TXGUARD_"

// Defaults.
const (
	DefaultAddress      = ":8080"
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultShutdown     = 5 * time.Second
	DefaultLogLevel     = "info"
)

// Config holds the global configuration for the service.
type Config struct {
	Server     ServerConfig                            `yaml:"server" envPrefix:"SERVER_"`
	Logging    LoggingConfig                           `yaml:"logging" envPrefix:"LOG_"`
	Telemetry  TelemetryConfig                         `yaml:"telemetry" envPrefix:"OTLP_"`
	RateLimits map[string]governance.RateLimiterConfig `yaml:"rate_limits"`
	Registry   RegistryConfig                          `yaml:"registry" envPrefix:"REGISTRY_"`
	Preflight  PreflightConfig                         `yaml:"preflight" envPrefix:"PREFLIGHT_"`
	Heuristics HeuristicsConfig                        `yaml:"heuristics" envPrefix:"HEURISTICS_"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"ADDRESS"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"otlp_endpoint" env:"ENDPOINT"`
	Insecure    bool              `yaml:"insecure" env:"INSECURE"`
	ServiceName string            `yaml:"service_name" env:"SERVICE_NAME"`
	Environment string            `yaml:"environment" env:"ENVIRONMENT"`
	SampleRatio float64           `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
	Headers     map[string]string `yaml:"headers" env:"HEADERS"`
}

// RegistryConfig points at the watched policy and trust seed file.
type RegistryConfig struct {
	File string `yaml:"file" env:"FILE"`
}

// PreflightConfig controls the Rego security checks.
type PreflightConfig struct {
	ModuleFile string `yaml:"module_file" env:"MODULE_FILE"`
	Entrypoint string `yaml:"entrypoint" env:"ENTRYPOINT"`
	CacheSize  int    `yaml:"cache_size" env:"CACHE_SIZE"`
}

// HeuristicsConfig extends the default typed-data heuristic tables.
type HeuristicsConfig struct {
	HighRiskDomainNames       []string `yaml:"high_risk_domain_names" env:"HIGH_RISK_DOMAIN_NAMES"`
	SuspiciousMessagePatterns []string `yaml:"suspicious_message_patterns" env:"SUSPICIOUS_MESSAGE_PATTERNS"`
	SuspiciousContracts       []string `yaml:"suspicious_contracts" env:"SUSPICIOUS_CONTRACTS"`
}

// Extensions converts the section to inspector table extensions.
func (h HeuristicsConfig) Extensions() eip712.Extensions {
	return eip712.Extensions{
		HighRiskDomainNames:       h.HighRiskDomainNames,
		SuspiciousMessagePatterns: h.SuspiciousMessagePatterns,
		SuspiciousContracts:       h.SuspiciousContracts,
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdown,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
		Telemetry: TelemetryConfig{
			SampleRatio: 1,
		},
		RateLimits: map[string]governance.RateLimiterConfig{
			"evaluate": {RequestsPerSecond: 50, BurstSize: 100},
			"inspect":  {RequestsPerSecond: 50, BurstSize: 100},
			"validate": {RequestsPerSecond: 50, BurstSize: 100},
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks every section and fills in missing defaults.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("%w: server: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %w", domain.ErrConfigInvalid, err)
	}
	for route, limit := range c.RateLimits {
		if limit.RequestsPerSecond < 0 || limit.BurstSize < 0 {
			return fmt.Errorf("%w: rate limit %q must not be negative", domain.ErrConfigInvalid, route)
		}
	}
	if err := c.Preflight.Validate(); err != nil {
		return fmt.Errorf("%w: preflight: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Heuristics.Validate(); err != nil {
		return fmt.Errorf("%w: heuristics: %w", domain.ErrConfigInvalid, err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = DefaultAddress
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdown
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = DefaultLogLevel
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate performs validation of telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio %v must be between 0 and 1", c.SampleRatio)
	}
	return nil
}

// Validate performs validation of the preflight configuration.
func (c *PreflightConfig) Validate() error {
	if c.CacheSize < -1 {
		return fmt.Errorf("cache_size %d must be -1 (disabled), 0 (default) or positive", c.CacheSize)
	}
	return nil
}

// Validate checks that patterns compile and contracts are well formed.
func (c *HeuristicsConfig) Validate() error {
	for _, expr := range c.SuspiciousMessagePatterns {
		if _, err := eip712.CompilePattern(expr); err != nil {
			return fmt.Errorf("suspicious message pattern %q: %w", expr, err)
		}
	}
	for _, address := range c.SuspiciousContracts {
		if !storage.ValidAddress(address) {
			return fmt.Errorf("suspicious contract %q: %w", address, domain.ErrInvalidAddress)
		}
	}
	return nil
}
