// Package classifier sends audio to the audio-event classification service
// and filters the returned candidates.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/httpclient"
	"github.com/tphakala/pendant-go/internal/logger"
)

// maxResponseBytes bounds the JSON event list.
const maxResponseBytes = 16 << 20

// Event is one classified audio event, offset relative to the submitted audio.
type Event struct {
	OffsetSeconds float64
	ClassID       int
	ClassName     string
	Probability   float64
}

// Offset returns the event offset as a duration.
func (e Event) Offset() time.Duration {
	return time.Duration(e.OffsetSeconds * float64(time.Second))
}

// APICallRecorder receives one entry per classifier request.
type APICallRecorder interface {
	RecordAPICall(endpoint string, statusCode int, durationMs int64, bytes int64)
}

// Client posts WAV audio to the classifier service.
type Client struct {
	client   *httpclient.Client
	endpoint string
	log      logger.Logger
}

// Option configures a Client.
type Option func(*httpclient.Config)

// WithTransport replaces the HTTP transport, for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *httpclient.Config) { c.Transport = rt }
}

// NewClient creates a classifier client from settings.
func NewClient(settings *conf.ClassifierSettings, log logger.Logger, opts ...Option) (*Client, error) {
	endpoint, err := url.JoinPath(settings.URL, settings.Path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Context("url", settings.URL).
			Build()
	}
	cfg := httpclient.Config{DefaultTimeout: settings.Timeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		client:   httpclient.New(&cfg),
		endpoint: endpoint,
		log:      log.Module("classifier"),
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.Close()
}

// Classify submits WAV audio and returns the raw, unfiltered events.
// Malformed entries are skipped with a warning; a malformed body is an error.
func (c *Client) Classify(ctx context.Context, audio []byte, sampleRate int, rec APICallRecorder) ([]Event, error) {
	endpoint := c.endpoint
	if sampleRate > 0 {
		endpoint += "?sample_rate=" + strconv.Itoa(sampleRate)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")

	begin := time.Now()
	resp, cancel, err := c.client.Do(ctx, req)
	defer cancel()
	if err != nil {
		recordCall(rec, c.endpoint, 0, time.Since(begin), 0)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifierError(err, "request")
	}

	body, err := httpclient.ReadBody(resp, maxResponseBytes)
	recordCall(rec, c.endpoint, resp.StatusCode, time.Since(begin), int64(len(body)))
	if err != nil {
		return nil, classifierError(err, "read_response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("classifier returned status %d", resp.StatusCode).
			Component("classifier").
			Category(errors.CategoryAudioAnalysis).
			Context("status_code", resp.StatusCode).
			Build()
	}

	events, err := c.parseEvents(body)
	if err != nil {
		return nil, classifierError(err, "parse_response")
	}
	c.log.Debug("classified audio",
		logger.Int("audio_bytes", len(audio)),
		logger.Int("events", len(events)),
		logger.Duration("elapsed", time.Since(begin)))
	return events, nil
}

// parseEvents reads {"events":[{"offset_seconds","class_id","class_name","probability"}]}.
func (c *Client) parseEvents(body []byte) ([]Event, error) {
	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, err
	}
	items, err := root.GetObjectArray("events")
	if err != nil {
		return nil, fmt.Errorf("missing events array: %w", err)
	}

	events := make([]Event, 0, len(items))
	for i, item := range items {
		ev, err := parseEvent(item)
		if err != nil {
			c.log.Warn("skipping malformed classifier event",
				logger.Int("index", i),
				logger.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseEvent(item *jason.Object) (Event, error) {
	offset, err := item.GetFloat64("offset_seconds")
	if err != nil {
		return Event{}, err
	}
	classID, err := item.GetInt64("class_id")
	if err != nil {
		return Event{}, err
	}
	name, err := item.GetString("class_name")
	if err != nil {
		return Event{}, err
	}
	prob, err := item.GetFloat64("probability")
	if err != nil {
		return Event{}, err
	}
	if offset < 0 || prob < 0 || prob > 1 {
		return Event{}, fmt.Errorf("out of range event: offset=%g probability=%g", offset, prob)
	}
	return Event{
		OffsetSeconds: offset,
		ClassID:       int(classID),
		ClassName:     name,
		Probability:   prob,
	}, nil
}

func recordCall(rec APICallRecorder, endpoint string, status int, elapsed time.Duration, n int64) {
	if rec != nil {
		rec.RecordAPICall(endpoint, status, elapsed.Milliseconds(), n)
	}
}

func classifierError(err error, operation string) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryAudioAnalysis).
		Context("operation", operation).
		Build()
}
