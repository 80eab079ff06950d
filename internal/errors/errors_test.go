package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderCarriesContext(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("fetch failed for %s", "u1").
		Component("pendant").
		Category(CategoryNetwork).
		Priority("bogus").
		Context("status", 503).
		Build()

	assert.Equal(t, "pendant", ee.GetComponent())
	assert.Equal(t, PriorityMedium, ee.Priority)
	assert.Equal(t, 503, ee.GetContext()["status"])
	assert.True(t, IsCategory(ee, CategoryNetwork))
	assert.False(t, IsNotFound(ee))
}

func TestWrappedCategoryIsInherited(t *testing.T) {
	SetTelemetryReporter(nil)

	inner := New(NewStd("no such user")).Category(CategoryNotFound).Build()
	outer := New(fmt.Errorf("lookup: %w", inner)).Build()

	assert.Equal(t, CategoryNotFound, outer.Category)
	assert.True(t, IsNotFound(outer))
	assert.True(t, Is(outer, inner))
}

func TestReporterReceivesErrorsWithDetectedComponent(t *testing.T) {
	rep := &recordingReporter{}
	SetTelemetryReporter(rep)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("boom")).Category(CategoryDatabase).Build()

	require.Len(t, rep.reported, 1)
	assert.Same(t, ee, rep.reported[0])
	assert.NotEmpty(t, ee.GetComponent())
}

func TestScrubMessage_FallbackDropsQuery(t *testing.T) {
	scrubbed := scrubMessage("GET https://api.example.com/v1/download-audio?startMs=1&endMs=2")

	assert.NotContains(t, scrubbed, "startMs")
	assert.Equal(t, "GET https://api.example.com/v1/download-audio?[REDACTED]", scrubbed)
}

func TestScrubMessage_UsesInstalledScrubber(t *testing.T) {
	SetPrivacyScrubber(func(string) string { return "scrubbed" })
	t.Cleanup(func() { SetPrivacyScrubber(nil) })

	assert.Equal(t, "scrubbed", scrubMessage("api_key=secret123"))
}
