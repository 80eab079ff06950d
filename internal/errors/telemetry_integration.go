// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	reporterMu     sync.RWMutex
	globalReporter TelemetryReporter

	// hasActiveReporting gates the slow path in Build
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter installs the process-wide reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := globalReporter
	reporterMu.RUnlock()
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// InitSentry initializes the Sentry SDK and installs a SentryReporter.
// An empty DSN leaves telemetry disabled.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		SetTelemetryReporter(nil)
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		SendDefaultPII:   false,
	})
	if err != nil {
		return New(err).
			Component("errors").
			Category(CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// FlushSentry waits for buffered events to be delivered.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection.
// Expected conditions (not-found, conflicts) are not reported.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}
	if ee.Category == CategoryNotFound || ee.Category == CategoryConflict {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		level := levelFor(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  strings.TrimSpace(component + " " + string(ee.Category)),
			Value: message,
		}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryHTTP, CategoryTimeout, CategoryFileIO:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// PrivacyScrubber redacts sensitive data from a message.
type PrivacyScrubber func(string) string

var (
	scrubberMu     sync.RWMutex
	globalScrubber PrivacyScrubber

	urlQueryPattern = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
)

// SetPrivacyScrubber installs the scrubber applied to reported messages.
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	scrubberMu.Lock()
	defer scrubberMu.Unlock()
	globalScrubber = scrubber
}

// scrubMessage applies the installed scrubber, falling back to dropping
// URL query strings.
func scrubMessage(message string) string {
	scrubberMu.RLock()
	scrubber := globalScrubber
	scrubberMu.RUnlock()
	if scrubber != nil {
		return scrubber(message)
	}
	return urlQueryPattern.ReplaceAllString(message, "$1?[REDACTED]")
}
