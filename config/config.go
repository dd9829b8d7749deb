package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/c360/sensorsim/broker"
	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/inventory"
	"github.com/c360/sensorsim/sensor"
)

// Config is the complete simulator configuration
type Config struct {
	Inventory  InventoryConfig  `json:"inventory" yaml:"inventory"`
	Broker     broker.Config    `json:"broker" yaml:"broker"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// InventoryConfig addresses the sensor inventory service
type InventoryConfig struct {
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	RetryAttempts     int           `json:"retry_attempts" yaml:"retry_attempts"`
}

// SimulationConfig holds the per-category profiles. File layers override
// them field by field, so a layer may set only a rate.
type SimulationConfig struct {
	Profiles map[sensor.Category]sensor.Profile `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path" yaml:"path"`
}

// LogConfig selects the log level and handler format
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	b := broker.DefaultConfig()
	b.URL = ""
	return &Config{
		Inventory: InventoryConfig{
			BaseURL:       inventory.DefaultBaseURL,
			Timeout:       10 * time.Second,
			Burst:         1,
			RetryAttempts: 3,
		},
		Broker: b,
		Simulation: SimulationConfig{
			Profiles: sensor.DefaultProfiles(),
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// finalize fills values that depend on other settings.
func (c *Config) finalize() {
	if c.Broker.Kind == "" {
		c.Broker.Kind = broker.KindAMQP
	}
	if c.Broker.URL == "" {
		c.Broker.URL = broker.DefaultURL(c.Broker.Kind)
	}
	if c.Broker.Queue == "" {
		c.Broker.Queue = sensor.DefaultQueue
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	u, err := url.Parse(c.Inventory.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: inventory.base_url %q must be an http(s) URL", errors.ErrInvalidConfig, c.Inventory.BaseURL),
			"Config", "Validate", "inventory.base_url")
	}
	if c.Inventory.Timeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: inventory.timeout must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "inventory.timeout")
	}
	if c.Inventory.RequestsPerSecond < 0 || c.Inventory.Burst < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: inventory rate limit must not be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "inventory.requests_per_second")
	}
	if c.Inventory.RetryAttempts < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: inventory.retry_attempts must be at least 1", errors.ErrInvalidConfig),
			"Config", "Validate", "inventory.retry_attempts")
	}

	if err := c.Broker.Validate(); err != nil {
		return err
	}

	if _, err := c.Registry(); err != nil {
		return err
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metrics.port %d out of range", errors.ErrInvalidConfig, c.Metrics.Port),
			"Config", "Validate", "metrics.port")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metrics.path must start with /", errors.ErrInvalidConfig),
			"Config", "Validate", "metrics.path")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: log.format %q (want text or json)", errors.ErrInvalidConfig, c.Log.Format),
			"Config", "Validate", "log.format")
	}
	return nil
}

// Registry builds the category profiles with this configuration's overrides.
func (c *Config) Registry() (*sensor.Registry, error) {
	r, err := sensor.NewRegistry(c.Simulation.Profiles)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Registry", "simulation.profiles")
	}
	return r, nil
}

// String renders the configuration with the broker password redacted.
func (c *Config) String() string {
	password := ""
	if c.Broker.Password != "" {
		password = "***"
	}
	return fmt.Sprintf("inventory=%s broker=%s(%s, queue=%s, user=%s, password=%s) profiles=%d metrics_port=%d",
		c.Inventory.BaseURL, c.Broker.Kind, c.Broker.URL, c.Broker.Queue,
		c.Broker.Username, password, len(c.Simulation.Profiles), c.Metrics.Port)
}
