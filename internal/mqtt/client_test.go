package mqtt

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type message struct {
	topic   string
	retain  bool
	payload []byte
}

// fakeClient records publishes. Unused paho.Client methods panic through
// the nil embedded interface.
type fakeClient struct {
	paho.Client
	mu         sync.Mutex
	connected  bool
	connectErr error
	published  []message
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return newToken(c.connectErr)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, message{topic, retained, payload.([]byte)})
	return newToken(nil)
}

func newTestPublisher(fake *fakeClient) *Publisher {
	cfg := ConfigFromSettings(&conf.MQTTSettings{Broker: "tcp://broker.test:1883", Retain: true})
	return NewPublisher(cfg, logger.NewNopLogger(),
		WithClientFactory(func(*paho.ClientOptions) paho.Client { return fake }))
}

func TestPublishDetection(t *testing.T) {
	fake := &fakeClient{}
	p := newTestPublisher(fake)
	require.NoError(t, p.Connect(t.Context()))
	require.True(t, p.IsConnected())

	d := &entities.Detection{
		ID:              7,
		UserID:          "alice",
		TimestampUTC:    time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC),
		ClassID:         42,
		ClassName:       "Cough",
		Probability:     0.91,
		ClipStoragePath: "users/alice/clips/x.wav",
	}
	require.NoError(t, p.PublishDetection(t.Context(), d))

	require.Len(t, fake.published, 1)
	msg := fake.published[0]
	assert.Equal(t, "pendant/detections/alice", msg.topic)
	assert.True(t, msg.retain)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.InDelta(t, 7, got["detectionId"], 0)
	assert.Equal(t, "2024-03-10", got["date"])
	assert.Equal(t, "14:30:00", got["time"])
	assert.Equal(t, "Cough", got["className"])
	assert.NotContains(t, got, "runId")

	p.Disconnect()
	assert.False(t, p.IsConnected())
}

func TestPublishDetection_NotConnected(t *testing.T) {
	p := newTestPublisher(&fakeClient{})
	err := p.PublishDetection(t.Context(), &entities.Detection{UserID: "alice"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

func TestConnect_Failure(t *testing.T) {
	p := newTestPublisher(&fakeClient{connectErr: errors.NewStd("refused")})
	err := p.Connect(t.Context())
	require.Error(t, err)
	assert.False(t, p.IsConnected())
}
