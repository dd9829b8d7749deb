package broker

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go/jetstream"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/natsclient"
	"github.com/c360/sensorsim/pkg/tlsutil"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"nats", func(c *Config) { c.Kind = KindNATS }, false},
		{"mqtt", func(c *Config) { c.Kind = KindMQTT }, false},
		{"unknown kind", func(c *Config) { c.Kind = "kafka" }, true},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"missing queue", func(c *Config) { c.Queue = "" }, true},
		{"negative timeout", func(c *Config) { c.ConnectTimeout = -time.Second }, true},
		{"tls", func(c *Config) { c.TLS = tlsutil.ClientConfig{Enabled: true, MinVersion: "1.3"} }, false},
		{"tls bad version", func(c *Config) { c.TLS = tlsutil.ClientConfig{Enabled: true, MinVersion: "1.1"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []Kind{KindAMQP, KindNATS, KindMQTT} {
		t.Run(string(kind), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Kind = kind
			cfg.URL = DefaultURL(kind)

			c, err := New(cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, kind, c.Kind())
		})
	}

	cfg := DefaultConfig()
	cfg.Kind = "zmq"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestNew_TLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "amqps://localhost:5671/"
	cfg.TLS = tlsutil.ClientConfig{Enabled: true, ServerName: "rabbit.local"}

	c, err := New(cfg, nil)
	require.NoError(t, err)
	amqpCfg := c.(*AMQPConnector).config(context.Background())
	require.NotNil(t, amqpCfg.TLSClientConfig)
	assert.Equal(t, "rabbit.local", amqpCfg.TLSClientConfig.ServerName)

	cfg.Kind = KindMQTT
	cfg.URL = "ssl://localhost:8883"
	c, err = New(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, c.(*MQTTConnector).options().TLSConfig)

	cfg.Kind = KindNATS
	cfg.URL = "tls://localhost:4222"
	c, err = New(cfg, nil)
	require.NoError(t, err)
	plain := NewNATSConnector(cfg, nil)
	assert.Len(t, c.(*NATSConnector).options, len(plain.options)+1)

	cfg.TLS.CAFiles = []string{"/nonexistent/ca.pem"}
	_, err = New(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "DATA_QUEUE", StreamName("data_queue"))
	assert.Equal(t, "SENSORS_READINGS__", StreamName("sensors.readings.>"))
}

// AMQP fakes

type fakeAMQP struct {
	mu            sync.Mutex
	dialErr       error
	channelErr    error
	declareErr    error
	publishErr    error
	connClosed    int
	channelClosed int
	declared      []string
	published     []amqp.Publishing
	routingKeys   []string
}

func (f *fakeAMQP) dial(context.Context, string, amqp.Config) (amqpConnection, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return &fakeAMQPConn{f: f}, nil
}

type fakeAMQPConn struct{ f *fakeAMQP }

func (c *fakeAMQPConn) Channel() (amqpChannel, error) {
	if c.f.channelErr != nil {
		return nil, c.f.channelErr
	}
	return &fakeAMQPChannel{f: c.f}, nil
}

func (c *fakeAMQPConn) Close() error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.connClosed++
	return nil
}

type fakeAMQPChannel struct{ f *fakeAMQP }

func (ch *fakeAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, _ amqp.Table) (amqp.Queue, error) {
	if durable || autoDelete || exclusive || noWait {
		return amqp.Queue{}, stderrors.New("unexpected queue flags")
	}
	if ch.f.declareErr != nil {
		return amqp.Queue{}, ch.f.declareErr
	}
	ch.f.mu.Lock()
	defer ch.f.mu.Unlock()
	ch.f.declared = append(ch.f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeAMQPChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if exchange != "" {
		return stderrors.New("expected default exchange")
	}
	if ch.f.publishErr != nil {
		return ch.f.publishErr
	}
	ch.f.mu.Lock()
	defer ch.f.mu.Unlock()
	ch.f.routingKeys = append(ch.f.routingKeys, key)
	ch.f.published = append(ch.f.published, msg)
	return nil
}

func (ch *fakeAMQPChannel) Close() error {
	ch.f.mu.Lock()
	defer ch.f.mu.Unlock()
	ch.f.channelClosed++
	return nil
}

func newTestAMQP(f *fakeAMQP) *AMQPConnector {
	c := NewAMQPConnector(DefaultConfig(), nil)
	c.dial = f.dial
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestAMQPConnector_Publish(t *testing.T) {
	f := &fakeAMQP{}
	c := newTestAMQP(f)

	err := c.Publish(context.Background(), "data_queue", []byte(`{"sensorId":"s1"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"data_queue"}, f.declared)
	assert.Equal(t, []string{"data_queue"}, f.routingKeys)
	require.Len(t, f.published, 1)
	msg := f.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, `{"sensorId":"s1"}`, string(msg.Body))
	assert.NotEmpty(t, msg.MessageId)
	assert.Equal(t, 1, f.connClosed)
	assert.Equal(t, 1, f.channelClosed)
}

func TestAMQPConnector_ReleasesOnEveryFailure(t *testing.T) {
	boom := stderrors.New("boom")

	tests := []struct {
		name          string
		fake          *fakeAMQP
		stage         string
		connClosed    int
		channelClosed int
	}{
		{"dial", &fakeAMQP{dialErr: boom}, "connect", 0, 0},
		{"channel", &fakeAMQP{channelErr: boom}, "channel", 1, 0},
		{"declare", &fakeAMQP{declareErr: boom}, "declare", 1, 1},
		{"publish", &fakeAMQP{publishErr: boom}, "publish", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestAMQP(tt.fake).Publish(context.Background(), "data_queue", []byte("{}"))
			require.Error(t, err)

			var pe *errors.PublishError
			require.True(t, stderrors.As(err, &pe))
			assert.Equal(t, tt.stage, pe.Stage)
			assert.Equal(t, "amqp", pe.Broker)
			assert.ErrorIs(t, err, boom)
			assert.True(t, errors.IsTransient(err))

			assert.Equal(t, tt.connClosed, tt.fake.connClosed)
			assert.Equal(t, tt.channelClosed, tt.fake.channelClosed)
		})
	}
}

func TestAMQPConnector_CanceledContext(t *testing.T) {
	f := &fakeAMQP{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestAMQP(f).Publish(ctx, "data_queue", []byte("{}"))
	assert.ErrorIs(t, err, errors.ErrPublish)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.published)
}

func TestAMQPConnector_Config(t *testing.T) {
	c := NewAMQPConnector(DefaultConfig(), nil)
	cfg := c.config(context.Background())

	require.Len(t, cfg.SASL, 1)
	plain, ok := cfg.SASL[0].(*amqp.PlainAuth)
	require.True(t, ok)
	assert.Equal(t, "admin", plain.Username)
	assert.NotNil(t, cfg.Dial)
	assert.Nil(t, cfg.TLSClientConfig)
}

// NATS fakes

type fakeNATSSession struct {
	connectErr error
	streamErr  error
	publishErr error
	closed     int
	streams    []string
	subjects   []string
	payloads   [][]byte
}

func (s *fakeNATSSession) Connect(context.Context) error { return s.connectErr }

func (s *fakeNATSSession) EnsureStream(_ context.Context, name string, subjects ...string) (jetstream.Stream, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	s.streams = append(s.streams, name)
	s.subjects = append(s.subjects, subjects...)
	return nil, nil
}

func (s *fakeNATSSession) PublishToStream(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.payloads = append(s.payloads, data)
	return nil
}

func (s *fakeNATSSession) Close() error {
	s.closed++
	return nil
}

func newTestNATS(s *fakeNATSSession) *NATSConnector {
	cfg := DefaultConfig()
	cfg.Kind = KindNATS
	cfg.URL = DefaultURL(KindNATS)
	c := NewNATSConnector(cfg, nil)
	c.session = func(string, ...natsclient.ClientOption) (natsSession, error) { return s, nil }
	return c
}

func TestNATSConnector_Publish(t *testing.T) {
	s := &fakeNATSSession{}
	err := newTestNATS(s).Publish(context.Background(), "data_queue", []byte(`{"value":1}`))

	require.NoError(t, err)
	assert.Equal(t, []string{"DATA_QUEUE"}, s.streams)
	assert.Equal(t, []string{"data_queue"}, s.subjects)
	assert.Len(t, s.payloads, 1)
	assert.Equal(t, 1, s.closed)
}

func TestNATSConnector_Failures(t *testing.T) {
	boom := stderrors.New("boom")
	tests := []struct {
		name    string
		session *fakeNATSSession
		stage   string
	}{
		{"connect", &fakeNATSSession{connectErr: boom}, "connect"},
		{"stream", &fakeNATSSession{streamErr: boom}, "declare"},
		{"publish", &fakeNATSSession{publishErr: boom}, "publish"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestNATS(tt.session).Publish(context.Background(), "data_queue", []byte("{}"))

			var pe *errors.PublishError
			require.True(t, stderrors.As(err, &pe))
			assert.Equal(t, tt.stage, pe.Stage)
			assert.Equal(t, 1, tt.session.closed, "session released on failure")
		})
	}
}

func TestNATSConnector_InvalidURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = KindNATS
	c := NewNATSConnector(cfg, nil)
	c.url = ""

	err := c.Publish(context.Background(), "data_queue", []byte("{}"))
	assert.ErrorIs(t, err, errors.ErrPublish)
}

// MQTT fakes

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTTClient struct {
	mqtt.Client // unused methods panic

	connectToken mqtt.Token
	publishErr   error
	topics       []string
	qos          []byte
	disconnects  int
}

func (c *fakeMQTTClient) Connect() mqtt.Token { return c.connectToken }
func (c *fakeMQTTClient) IsConnected() bool   { return false }
func (c *fakeMQTTClient) Disconnect(uint)     { c.disconnects++ }

func (c *fakeMQTTClient) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.qos = append(c.qos, qos)
	return doneToken(c.publishErr)
}

func newTestMQTT(client *fakeMQTTClient) *MQTTConnector {
	cfg := DefaultConfig()
	cfg.Kind = KindMQTT
	cfg.URL = DefaultURL(KindMQTT)
	c := NewMQTTConnector(cfg, nil)
	c.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }
	return c
}

func TestMQTTConnector_Publish(t *testing.T) {
	client := &fakeMQTTClient{connectToken: doneToken(nil)}
	err := newTestMQTT(client).Publish(context.Background(), "data_queue", []byte("{}"))

	require.NoError(t, err)
	assert.Equal(t, []string{"data_queue"}, client.topics)
	assert.Equal(t, []byte{1}, client.qos)
	assert.Equal(t, 1, client.disconnects)
}

func TestMQTTConnector_ConnectFailure(t *testing.T) {
	client := &fakeMQTTClient{connectToken: doneToken(stderrors.New("not authorized"))}
	err := newTestMQTT(client).Publish(context.Background(), "data_queue", []byte("{}"))

	var pe *errors.PublishError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, "connect", pe.Stage)
	assert.Empty(t, client.topics)
}

func TestMQTTConnector_PublishFailureDisconnects(t *testing.T) {
	client := &fakeMQTTClient{connectToken: doneToken(nil), publishErr: stderrors.New("nack")}
	err := newTestMQTT(client).Publish(context.Background(), "data_queue", []byte("{}"))

	var pe *errors.PublishError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, "publish", pe.Stage)
	assert.Equal(t, 1, client.disconnects)
}

func TestMQTTConnector_ContextCancelledWhileConnecting(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	client := &fakeMQTTClient{connectToken: pending}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := newTestMQTT(client).Publish(ctx, "data_queue", []byte("{}"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(pending.done)
}
