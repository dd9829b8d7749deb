package broker

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/c360/sensorsim/errors"
)

type amqpConnection interface {
	Channel() (amqpChannel, error)
	Close() error
}

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type amqpDialFunc func(ctx context.Context, url string, cfg amqp.Config) (amqpConnection, error)

// amqpConn adapts *amqp.Connection to amqpConnection.
type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (amqpChannel, error) {
	return c.Connection.Channel()
}

func dialAMQP(_ context.Context, url string, cfg amqp.Config) (amqpConnection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

// AMQPConnector publishes to a RabbitMQ queue through the default exchange
type AMQPConnector struct {
	url      string
	username string
	password string
	timeout  time.Duration
	tls      *tls.Config
	logger   *slog.Logger
	dial     amqpDialFunc
	now      func() time.Time
}

// NewAMQPConnector creates an AMQP 0-9-1 connector
func NewAMQPConnector(cfg Config, logger *slog.Logger) *AMQPConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPConnector{
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  connectTimeout(cfg),
		logger:   logger,
		dial:     dialAMQP,
		now:      time.Now,
	}
}

// Kind returns KindAMQP
func (c *AMQPConnector) Kind() Kind { return KindAMQP }

func (c *AMQPConnector) config(ctx context.Context) amqp.Config {
	cfg := amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": "sensorsim",
		},
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: c.timeout}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Bounds the handshake; the library clears it once the connection is open.
			if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	}
	if c.tls != nil {
		cfg.TLSClientConfig = c.tls
	}
	if c.username != "" {
		cfg.SASL = []amqp.Authentication{&amqp.PlainAuth{Username: c.username, Password: c.password}}
	}
	return cfg
}

// Publish declares queue (non-durable) and publishes payload to it.
func (c *AMQPConnector) Publish(ctx context.Context, queue string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.NewPublishError(string(KindAMQP), queue, "connect", err)
	}

	conn, err := c.dial(ctx, c.url, c.config(ctx))
	if err != nil {
		return errors.NewPublishError(string(KindAMQP), queue, "connect", err)
	}
	defer release(c.logger, "connection", conn.Close)

	ch, err := conn.Channel()
	if err != nil {
		return errors.NewPublishError(string(KindAMQP), queue, "channel", err)
	}
	defer release(c.logger, "channel", ch.Close)

	if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		return errors.NewPublishError(string(KindAMQP), queue, "declare", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    c.now().UTC(),
		AppId:        "sensorsim",
		Body:         payload,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return errors.NewPublishError(string(KindAMQP), queue, "publish", err)
	}
	return nil
}
