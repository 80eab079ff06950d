package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
	metricspkg "github.com/tphakala/pendant-go/internal/observability/metrics"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Endpoint serves /metrics and /healthz.
type Endpoint struct {
	echo          *echo.Echo
	listenAddress string
	metrics       *Metrics
	health        HealthCheck
	log           logger.Logger
}

// NewEndpoint creates the metrics endpoint. It returns an error if metrics
// are disabled in settings.
func NewEndpoint(settings *conf.MetricsSettings, metrics *Metrics, health HealthCheck, log logger.Logger) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, errors.New(errors.NewStd("metrics endpoint not enabled in settings")).
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	ep := &Endpoint{
		echo:          e,
		listenAddress: settings.Listen,
		metrics:       metrics,
		health:        health,
		log:           log.Module("observability"),
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/healthz", ep.healthz)
	return ep, nil
}

// ServeHTTP lets the endpoint be exercised without a listener.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.echo.ServeHTTP(w, r)
}

func (e *Endpoint) healthz(c echo.Context) error {
	if e.health != nil {
		if err := e.health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start runs the HTTP server until quitChan is closed.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	wg.Go(func() {
		e.log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.echo.Start(e.listenAddress); err != nil && err != http.ErrServerClosed {
			e.log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		e.gracefulShutdown(quitChan)
	})
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	e.log.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.echo.Shutdown(ctx); err != nil {
		e.log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
