// Package inventory is the client for the sensor inventory REST service, the
// single source of truth for which sensors exist.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/metric"
	"github.com/c360/sensorsim/pkg/retry"
	"github.com/c360/sensorsim/sensor"
)

// DefaultBaseURL is the collection endpoint of a locally running inventory service.
const DefaultBaseURL = "http://localhost:8000/api/sensors"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

var errRetryableStatus = stderrors.New("retryable status")

// Registration is the payload for creating a sensor
type Registration struct {
	Name          string `json:"name"`
	Category      string `json:"type"`
	WalletAddress string `json:"wallet_address"`
}

// Client talks to the inventory service over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Config
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit throttles outgoing requests. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics counts requests by operation and status.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// DefaultRetry retries transient failures three times: network faults, 5xx
// and 429 responses.
func DefaultRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = 200 * time.Millisecond
	cfg.MaxDelay = 2 * time.Second
	cfg.ShouldRetry = errors.IsTransient
	return cfg
}

// NewClient creates a client for the collection at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 0),
		retry:      DefaultRetry(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "inventory")
	return c
}

// BaseURL returns the collection URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) itemURL(id string) string {
	return c.baseURL + "/" + url.PathEscape(id)
}

type response struct {
	status int
	body   []byte
}

// send performs one logical request. Transient failures are retried; the
// final response is returned with a nil error whatever its status, and a
// non-nil error means no response was obtained. POST is not idempotent, so it
// is only retried when the connection was never established.
func (c *Client) send(ctx context.Context, op, method, target string, payload any) (response, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return response{}, errors.WrapInvalid(err, "Client", op, "encode request")
		}
	}

	cfg := c.retry
	switch {
	case method == http.MethodPost:
		cfg.ShouldRetry = dialFailure
	case cfg.ShouldRetry == nil:
		cfg.ShouldRetry = errors.IsTransient
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Debug("Retrying inventory request", "operation", op, "attempt", attempt, "delay", delay, "error", err)
	}

	resp, err := retry.DoWithResult(ctx, cfg, func() (response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return response{}, retry.NonRetryable(errors.WrapTransient(err, "Client", op, "rate limit wait"))
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return response{}, retry.NonRetryable(errors.WrapInvalid(err, "Client", op, "build request"))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.RecordInventoryRequest(op, "error")
			if ctx.Err() != nil {
				return response{}, retry.NonRetryable(errors.WrapTransient(err, "Client", op, "http request"))
			}
			return response{}, errors.WrapTransient(err, "Client", op, "http request")
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
		if err != nil {
			c.metrics.RecordInventoryRequest(op, "error")
			return response{}, errors.WrapTransient(err, "Client", op, "read response")
		}
		c.metrics.RecordInventoryRequest(op, strconv.Itoa(httpResp.StatusCode))

		got := response{status: httpResp.StatusCode, body: data}
		if retryableStatus(got.status) {
			return got, errors.WrapTransient(fmt.Errorf("%w: %d", errRetryableStatus, got.status), "Client", op, "response status")
		}
		return got, nil
	})

	if err != nil && resp.status != 0 && stderrors.Is(err, errRetryableStatus) {
		return resp, nil
	}
	return resp, err
}

// dialFailure reports whether err means the request never reached the server.
func dialFailure(err error) bool {
	var opErr *net.OpError
	return stderrors.As(err, &opErr) && opErr.Op == "dial"
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// CreateSensor registers a sensor. Any status other than 201 is a RegistrationError.
func (c *Client) CreateSensor(ctx context.Context, name, category, walletAddress string) error {
	resp, err := c.send(ctx, "CreateSensor", http.MethodPost, c.baseURL, Registration{
		Name:          name,
		Category:      category,
		WalletAddress: walletAddress,
	})
	if err != nil {
		return &errors.RegistrationError{Name: name, Err: err}
	}
	if resp.status != http.StatusCreated {
		return &errors.RegistrationError{Name: name, StatusCode: resp.status}
	}
	c.logger.Info("Created sensor", "sensor", name, "category", category)
	return nil
}

// ListSensors returns every registered sensor. Any status other than 200 is a LookupError.
func (c *Client) ListSensors(ctx context.Context) ([]sensor.Identity, error) {
	resp, err := c.send(ctx, "ListSensors", http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, &errors.LookupError{Err: err}
	}
	if resp.status != http.StatusOK {
		return nil, &errors.LookupError{StatusCode: resp.status}
	}

	var identities []sensor.Identity
	if err := json.Unmarshal(resp.body, &identities); err != nil {
		return nil, &errors.LookupError{Err: fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)}
	}
	return identities, nil
}

// GetSensor fetches one sensor. A 404 yields an error matching ErrSensorNotFound.
func (c *Client) GetSensor(ctx context.Context, id string) (sensor.Identity, error) {
	resp, err := c.send(ctx, "GetSensor", http.MethodGet, c.itemURL(id), nil)
	if err != nil {
		return sensor.Identity{}, &errors.LookupError{Err: err}
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return sensor.Identity{}, fmt.Errorf("sensor %s: %w", id, errors.ErrSensorNotFound)
	default:
		return sensor.Identity{}, &errors.LookupError{StatusCode: resp.status}
	}

	var identity sensor.Identity
	if err := json.Unmarshal(resp.body, &identity); err != nil {
		return sensor.Identity{}, &errors.LookupError{Err: fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)}
	}
	return identity, nil
}

// DeleteSensor removes a sensor. Any status other than 204 is a DeletionError.
func (c *Client) DeleteSensor(ctx context.Context, id string) error {
	resp, err := c.send(ctx, "DeleteSensor", http.MethodDelete, c.itemURL(id), nil)
	if err != nil {
		return &errors.DeletionError{SensorID: id, Err: err}
	}
	if resp.status != http.StatusNoContent {
		return &errors.DeletionError{SensorID: id, StatusCode: resp.status}
	}
	return nil
}

// DeleteAllSensors lists the inventory and deletes each sensor in order. The
// first rejected deletion ends the sweep; sensors deleted before it stay deleted.
func (c *Client) DeleteAllSensors(ctx context.Context) error {
	identities, err := c.ListSensors(ctx)
	if err != nil {
		return err
	}
	for _, id := range identities {
		if err := c.DeleteSensor(ctx, id.ID); err != nil {
			return err
		}
		c.logger.Info("Deleted sensor", "sensor_id", id.ID, "sensor", id.DisplayName)
	}
	return nil
}

// CreateFleet registers every entry in order, stopping at the first failure.
func (c *Client) CreateFleet(ctx context.Context, fleet []Registration) error {
	for _, r := range fleet {
		if err := c.CreateSensor(ctx, r.Name, r.Category, r.WalletAddress); err != nil {
			return err
		}
	}
	return nil
}
