package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
	"github.com/tphakala/coughdetect/internal/privacy"
)

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	internalClient  mqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	metrics         *metrics.MQTTMetrics
}

// NewClient creates a new MQTT client from the mqtt settings. Each client
// gets a unique client ID so several detectors can share a broker.
func NewClient(settings *conf.MQTTSettings, m *metrics.MQTTMetrics) (Client, error) {
	if settings.Broker == "" {
		return nil, errors.Newf("mqtt broker not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cfg := DefaultConfig()
	cfg.Broker = settings.Broker
	cfg.ClientID = "coughdetect-" + uuid.NewString()[:8]
	cfg.Username = settings.Username
	cfg.Password = settings.Password
	cfg.Retain = settings.Retain
	if settings.Topic != "" {
		cfg.Topic = settings.Topic
	}

	return &client{config: cfg, metrics: m}, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(fmt.Errorf("invalid broker URL: %w", privacy.WrapError(err))).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", privacy.SanitizeBrokerURL(c.config.Broker)).
			Build()
	}

	host := u.Hostname()
	if host == "" {
		return errors.Newf("broker URL %q has no host", privacy.SanitizeBrokerURL(c.config.Broker)).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(fmt.Errorf("failed to resolve hostname %s: %w", host, err)).
				Component("mqtt").
				Category(errors.CategoryNetwork).
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = mqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("broker", privacy.SanitizeBrokerURL(c.config.Broker)).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordConnectionEvent(metrics.MQTTFailed)
		return errors.New(fmt.Errorf("connection error: %w", privacy.WrapError(err))).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", privacy.SanitizeBrokerURL(c.config.Broker)).
			Build()
	}

	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, 0, c.config.Retain, payload)

	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		c.metrics.RecordPublish(metrics.StatusTimeout, 0, 0)
		return errors.Newf("publish timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordPublish(metrics.StatusError, 0, 0)
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	c.metrics.RecordPublish(metrics.StatusSuccess, time.Since(start).Seconds(), len(payload))
	GetLogger().Debug("published message", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil && c.internalClient.IsConnectionOpen() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.SetConnected(false)
	}
}

func (c *client) onConnect(mqtt.Client) {
	GetLogger().Info("connected to MQTT broker", logger.String("broker", privacy.SanitizeBrokerURL(c.config.Broker)))
	c.metrics.SetConnected(true)
}

func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	GetLogger().Warn("connection to MQTT broker lost",
		logger.String("broker", privacy.SanitizeBrokerURL(c.config.Broker)),
		logger.Error(err))
	c.metrics.SetConnected(false)
	c.metrics.RecordConnectionEvent(metrics.MQTTLost)
}

func (c *client) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	GetLogger().Info("reconnecting to MQTT broker", logger.String("broker", privacy.SanitizeBrokerURL(c.config.Broker)))
	c.metrics.RecordConnectionEvent(metrics.MQTTReconnecting)
}
