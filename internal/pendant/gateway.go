// Package pendant downloads time-windowed audio from the pendant audio API.
package pendant

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/httpclient"
	"github.com/tphakala/pendant-go/internal/logger"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound means the API has no audio for the requested range.
	ErrNotFound = errors.NewStd("no audio for range")

	// ErrTransient marks upstream failures worth retrying on a later run.
	ErrTransient = errors.NewStd("transient upstream error")
)

// maxAudioBytes bounds one download; a 2h mono 16 kHz 16-bit WAV is ~230 MB.
const maxAudioBytes = 512 << 20

// APICallRecorder receives one entry per upstream request.
type APICallRecorder interface {
	RecordAPICall(endpoint string, statusCode int, durationMs int64, bytes int64)
}

// Gateway fetches raw audio for a user credential and UTC range.
type Gateway struct {
	client   *httpclient.Client
	endpoint string
	limiter  *rate.Limiter
	log      logger.Logger
}

// Option configures a Gateway.
type Option func(*httpclient.Config)

// WithTransport replaces the HTTP transport, for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *httpclient.Config) { c.Transport = rt }
}

// NewGateway creates a Gateway from the pendant settings.
func NewGateway(settings *conf.PendantSettings, log logger.Logger, opts ...Option) (*Gateway, error) {
	endpoint, err := url.JoinPath(settings.BaseURL, settings.Path)
	if err != nil {
		return nil, errors.New(err).
			Component("pendant").
			Category(errors.CategoryConfiguration).
			Context("base_url", settings.BaseURL).
			Build()
	}

	cfg := httpclient.Config{DefaultTimeout: settings.Timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	burst := max(settings.Burst, 1)
	return &Gateway{
		client:   httpclient.New(&cfg),
		endpoint: endpoint,
		limiter:  rate.NewLimiter(rate.Limit(settings.RateLimit), burst),
		log:      log.Module("pendant"),
	}, nil
}

// Close releases idle connections.
func (g *Gateway) Close() {
	g.client.Close()
}

// Fetch downloads audio for [startUTC,endUTC). It returns ErrNotFound for
// 404, an error wrapping ErrTransient for 429/502/503/504 and timeouts, and
// a plain error for everything else. Every attempt is reported to rec.
func (g *Gateway) Fetch(ctx context.Context, credential string, startUTC, endUTC time.Time, rec APICallRecorder) ([]byte, error) {
	if credential == "" {
		return nil, errors.Newf("missing pendant credential").
			Component("pendant").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("startMs", strconv.FormatInt(startUTC.UnixMilli(), 10))
	q.Set("endMs", strconv.FormatInt(endUTC.UnixMilli(), 10))
	q.Set("audioSource", "pendant")
	q.Set("format", "wav")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create pendant request: %w", err)
	}
	req.Header.Set("X-API-Key", credential)
	req.Header.Set("Accept", "audio/wav")

	log := g.log.With(
		logger.Time("start", startUTC),
		logger.Time("end", endUTC))

	begin := time.Now()
	resp, cancel, err := g.client.Do(ctx, req)
	defer cancel()
	if err != nil {
		record(rec, g.endpoint, 0, time.Since(begin), 0)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, g.transportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		record(rec, g.endpoint, resp.StatusCode, time.Since(begin), 0)
		return nil, statusError(resp.StatusCode, startUTC, endUTC)
	}

	data, err := httpclient.ReadBody(resp, maxAudioBytes)
	record(rec, g.endpoint, resp.StatusCode, time.Since(begin), int64(len(data)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, g.transportError(err)
	}
	if len(data) == 0 {
		return nil, errors.Newf("pendant API returned an empty body").
			Component("pendant").
			Category(errors.CategoryHTTP).
			Context("start", startUTC.Format(time.RFC3339)).
			Context("end", endUTC.Format(time.RFC3339)).
			Build()
	}

	log.Debug("downloaded audio",
		logger.Int("bytes", len(data)),
		logger.Duration("elapsed", time.Since(begin)))
	return data, nil
}

func record(rec APICallRecorder, endpoint string, status int, elapsed time.Duration, n int64) {
	if rec != nil {
		rec.RecordAPICall(endpoint, status, elapsed.Milliseconds(), n)
	}
}

// transportError classifies network failures. Only timeouts are transient.
func (g *Gateway) transportError(err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	if timeout {
		return errors.New(fmt.Errorf("%w: %w", ErrTransient, err)).
			Component("pendant").
			Category(errors.CategoryNetwork).
			Context("timeout", true).
			Build()
	}
	return errors.New(err).
		Component("pendant").
		Category(errors.CategoryNetwork).
		Context("timeout", false).
		Build()
}

func statusError(status int, start, end time.Time) error {
	switch status {
	case http.StatusNotFound:
		return errors.New(ErrNotFound).
			Component("pendant").
			Category(errors.CategoryNotFound).
			Context("status_code", status).
			Build()
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return errors.New(fmt.Errorf("%w: status %d", ErrTransient, status)).
			Component("pendant").
			Category(errors.CategoryNetwork).
			Context("status_code", status).
			Build()
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Newf("pendant API rejected credential: status %d", status).
			Component("pendant").
			Category(errors.CategoryConfiguration).
			Context("status_code", status).
			Build()
	default:
		return errors.Newf("pendant API returned status %d", status).
			Component("pendant").
			Category(errors.CategoryHTTP).
			Context("status_code", status).
			Context("start", start.Format(time.RFC3339)).
			Context("end", end.Format(time.RFC3339)).
			Build()
	}
}

// IsTransient reports whether err should be retried on a later run.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound reports whether the API had no audio for the range.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
