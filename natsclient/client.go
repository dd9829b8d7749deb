// Package natsclient provides a NATS JetStream client for publishing readings.
package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorsim/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by operations attempted before Connect succeeds.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Client wraps a NATS connection and its JetStream context
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	timeout       time.Duration
	drainTimeout  time.Duration
	maxReconnects int
	username      string
	password      string
	token         string
	clientName    string
	tlsConfig     *tls.Config

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "url")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
		maxReconnects: 0,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	return opts
}

// Connect establishes the connection and the JetStream context. A canceled
// ctx abandons the attempt; a connection that completes afterwards is closed.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "Connect", "client closed")
	}
	c.status.Store(StatusConnecting)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		c.status.Store(StatusDisconnected)
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}
	if res.err != nil {
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		res.conn.Close()
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "initialize JetStream")
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = js
	c.mu.Unlock()

	c.status.Store(StatusConnected)
	c.logger.Debug("Connected to NATS", "url", c.url)
	return nil
}

// Close closes the connection. Calling Close more than once is a no-op.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	c.status.Store(StatusClosed)
	if conn != nil {
		conn.Close()
	}
	return nil
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil || c.conn == nil || !c.conn.IsConnected() {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// EnsureStream creates the stream, or updates it so it captures subjects.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects ...string) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", fmt.Sprintf("declare stream %s", name))
	}
	return stream, nil
}

// PublishToStream publishes to a subject captured by a JetStream stream and
// waits for the acknowledgement.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data, opts...); err != nil {
		return errors.WrapTransient(err, "Client", "PublishToStream", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}
