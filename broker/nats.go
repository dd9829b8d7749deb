package broker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/natsclient"
)

type natsSession interface {
	Connect(ctx context.Context) error
	EnsureStream(ctx context.Context, name string, subjects ...string) (jetstream.Stream, error)
	PublishToStream(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) error
	Close() error
}

type natsSessionFunc func(url string, opts ...natsclient.ClientOption) (natsSession, error)

func newNATSSession(url string, opts ...natsclient.ClientOption) (natsSession, error) {
	client, err := natsclient.NewClient(url, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NATSConnector publishes to a JetStream stream whose subject is the queue name
type NATSConnector struct {
	url     string
	timeout time.Duration
	options []natsclient.ClientOption
	logger  *slog.Logger
	session natsSessionFunc
}

// NewNATSConnector creates a JetStream connector
func NewNATSConnector(cfg Config, logger *slog.Logger) *NATSConnector {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []natsclient.ClientOption{
		natsclient.WithTimeout(connectTimeout(cfg)),
		natsclient.WithClientName("sensorsim"),
		natsclient.WithLogger(logger),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	return &NATSConnector{
		url:     cfg.URL,
		timeout: connectTimeout(cfg),
		options: opts,
		logger:  logger,
		session: newNATSSession,
	}
}

// Kind returns KindNATS
func (c *NATSConnector) Kind() Kind { return KindNATS }

// StreamName derives a valid JetStream stream name from a queue name.
func StreamName(queue string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_", "\\", "_").
		Replace(strings.ToUpper(queue))
}

// Publish ensures the stream capturing queue exists and publishes payload to it.
func (c *NATSConnector) Publish(ctx context.Context, queue string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.NewPublishError(string(KindNATS), queue, "connect", err)
	}

	session, err := c.session(c.url, c.options...)
	if err != nil {
		return errors.NewPublishError(string(KindNATS), queue, "connect", err)
	}
	defer release(c.logger, "connection", session.Close)

	connectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := session.Connect(connectCtx); err != nil {
		return errors.NewPublishError(string(KindNATS), queue, "connect", err)
	}

	if _, err := session.EnsureStream(ctx, StreamName(queue), queue); err != nil {
		return errors.NewPublishError(string(KindNATS), queue, "declare", err)
	}

	if err := session.PublishToStream(ctx, queue, payload, jetstream.WithMsgID(uuid.NewString())); err != nil {
		return errors.NewPublishError(string(KindNATS), queue, "publish", err)
	}
	return nil
}
