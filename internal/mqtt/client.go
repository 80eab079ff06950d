package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
)

// Publisher sends detection events to the broker. It is safe for
// concurrent use.
type Publisher struct {
	config    Config
	mu        sync.Mutex
	client    paho.Client
	newClient func(*paho.ClientOptions) paho.Client
	log       logger.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClientFactory replaces the paho client constructor, for tests.
func WithClientFactory(f func(*paho.ClientOptions) paho.Client) Option {
	return func(p *Publisher) { p.newClient = f }
}

// NewPublisher creates a disconnected Publisher.
func NewPublisher(config Config, log logger.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		config:    config,
		newClient: paho.NewClient,
		log:       log.Module("mqtt"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect establishes the broker connection. Paho reconnects on its own
// after a connection loss.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		return nil
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = p.newClient(opts)
	token := p.client.Connect()
	if err := waitToken(ctx, token, p.config.ConnectTimeout); err != nil {
		return mqttError(err, "connect", p.config.Broker)
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.IsConnected()
}

// PublishDetection publishes d to "<topic>/<user>".
func (p *Publisher) PublishDetection(ctx context.Context, d *entities.Detection) error {
	payload, err := json.Marshal(NewDetectionDTO(d))
	if err != nil {
		return fmt.Errorf("failed to marshal detection: %w", err)
	}
	topic := p.config.Topic + "/" + d.UserID

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil || !p.client.IsConnected() {
		return mqttError(errors.NewStd("not connected to MQTT broker"), "publish", p.config.Broker)
	}

	token := p.client.Publish(topic, 0, p.config.Retain, payload)
	if err := waitToken(ctx, token, p.config.PublishTimeout); err != nil {
		return mqttError(err, "publish", p.config.Broker)
	}
	p.log.Debug("detection published",
		logger.String("topic", topic),
		logger.Int64("detection_id", int64(d.ID)))
	return nil
}

// Disconnect closes the connection to the MQTT broker.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(uint(p.config.DisconnectTimeout.Milliseconds()))
	}
}

func (p *Publisher) onConnect(paho.Client) {
	p.log.Info("connected to MQTT broker", logger.String("broker", p.config.Broker))
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.log.Warn("connection to MQTT broker lost",
		logger.String("broker", p.config.Broker),
		logger.Error(err))
}

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.NewStd("timeout waiting for broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mqttError(err error, operation, broker string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTTPublish).
		Context("operation", operation).
		Context("broker", broker).
		Build()
}
