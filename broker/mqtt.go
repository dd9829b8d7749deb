package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/c360/sensorsim/errors"
)

const (
	mqttQoS             = 1
	mqttDisconnectQuiet = 250 // milliseconds
)

// MQTTConnector publishes to an MQTT topic named after the queue
type MQTTConnector struct {
	url       string
	username  string
	password  string
	timeout   time.Duration
	tls       *tls.Config
	logger    *slog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTConnector creates an MQTT connector
func NewMQTTConnector(cfg Config, logger *slog.Logger) *MQTTConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTConnector{
		url:       cfg.URL,
		username:  cfg.Username,
		password:  cfg.Password,
		timeout:   connectTimeout(cfg),
		logger:    logger,
		newClient: mqtt.NewClient,
	}
}

// Kind returns KindMQTT
func (c *MQTTConnector) Kind() Kind { return KindMQTT }

func (c *MQTTConnector) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.url).
		SetClientID("sensorsim-" + uuid.NewString()).
		SetConnectTimeout(c.timeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true)
	if c.username != "" {
		opts.SetUsername(c.username).SetPassword(c.password)
	}
	if c.tls != nil {
		opts.SetTLSConfig(c.tls)
	}
	return opts
}

// Publish connects, publishes payload at QoS 1 and disconnects. Topics need no
// declaration.
func (c *MQTTConnector) Publish(ctx context.Context, queue string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.NewPublishError(string(KindMQTT), queue, "connect", err)
	}

	client := c.newClient(c.options())
	connect := client.Connect()
	if err := awaitToken(ctx, connect); err != nil {
		// A connect that completes after cancellation still has to be released.
		go func() {
			<-connect.Done()
			if client.IsConnected() {
				client.Disconnect(0)
			}
		}()
		return errors.NewPublishError(string(KindMQTT), queue, "connect", err)
	}
	defer client.Disconnect(mqttDisconnectQuiet)

	if err := awaitToken(ctx, client.Publish(queue, mqttQoS, false, payload)); err != nil {
		return errors.NewPublishError(string(KindMQTT), queue, "publish", err)
	}
	return nil
}

// awaitToken waits for a paho token or ctx, whichever finishes first.
func awaitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for broker: %w", ctx.Err())
	}
}
