// Package broker publishes readings to a message broker. Every Publish call
// opens its own connection, makes sure the destination exists, sends one
// message and releases everything it opened, whatever the outcome.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/natsclient"
	"github.com/c360/sensorsim/pkg/tlsutil"
)

// Kind names a broker backend
type Kind string

// Supported backends.
const (
	KindAMQP Kind = "amqp"
	KindNATS Kind = "nats"
	KindMQTT Kind = "mqtt"
)

// Connector publishes one payload to a named queue per call. Faults are
// reported as *errors.PublishError.
type Connector interface {
	Publish(ctx context.Context, queue string, payload []byte) error
	Kind() Kind
}

// Config selects and parameterizes a backend
type Config struct {
	Kind           Kind          `json:"kind" yaml:"kind"`
	URL            string        `json:"url" yaml:"url"`
	Queue          string        `json:"queue" yaml:"queue"`
	Username       string        `json:"username" yaml:"username"`
	Password       string        `json:"password" yaml:"password"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	// TLS applies to amqps://, tls:// and ssl:// URLs. NATS always
	// negotiates TLS once it is enabled.
	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls"`
}

// DefaultConfig targets a local RabbitMQ with the stock admin account.
func DefaultConfig() Config {
	return Config{
		Kind:           KindAMQP,
		URL:            "amqp://localhost:5672/",
		Queue:          "data_queue",
		Username:       "admin",
		Password:       "admin",
		ConnectTimeout: 5 * time.Second,
	}
}

// DefaultURL returns the conventional local address for a backend.
func DefaultURL(kind Kind) string {
	switch kind {
	case KindNATS:
		return "nats://localhost:4222"
	case KindMQTT:
		return "tcp://localhost:1883"
	default:
		return "amqp://localhost:5672/"
	}
}

// Validate checks the backend kind and required fields
func (c Config) Validate() error {
	switch c.Kind {
	case KindAMQP, KindNATS, KindMQTT:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: unknown broker kind %q", errors.ErrInvalidConfig, c.Kind),
			"Config", "Validate", "broker.kind")
	}
	if c.URL == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: broker.url", errors.ErrMissingConfig), "Config", "Validate", "broker.url")
	}
	if c.Queue == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: broker.queue", errors.ErrMissingConfig), "Config", "Validate", "broker.queue")
	}
	if c.ConnectTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative connect_timeout", errors.ErrInvalidConfig),
			"Config", "Validate", "broker.connect_timeout")
	}
	return c.TLS.Validate()
}

// New builds the connector selected by cfg.Kind.
func New(cfg Config, logger *slog.Logger) (Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("broker", string(cfg.Kind))

	tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindNATS:
		c := NewNATSConnector(cfg, logger)
		if tlsConfig != nil {
			c.options = append(c.options, natsclient.WithTLS(tlsConfig))
		}
		return c, nil
	case KindMQTT:
		c := NewMQTTConnector(cfg, logger)
		c.tls = tlsConfig
		return c, nil
	default:
		c := NewAMQPConnector(cfg, logger)
		c.tls = tlsConfig
		return c, nil
	}
}

func connectTimeout(cfg Config) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}
	return 5 * time.Second
}

// release closes a resource on the way out of Publish. Close failures are
// logged and do not override the publish outcome.
func release(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Debug("Release failed", "resource", what, "error", err)
	}
}
