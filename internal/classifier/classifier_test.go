package classifier

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
)

const testEndpoint = "http://classifier.test/classify"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	settings := &conf.ClassifierSettings{URL: "http://classifier.test", Path: "/classify", Timeout: 5 * time.Second}
	c, err := NewClient(settings, logger.NewNopLogger(), WithTransport(transport))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, transport
}

func TestClassify_ParsesEvents(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodPost, testEndpoint, func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, "RIFF", string(body))
		assert.Equal(t, "audio/wav", req.Header.Get("Content-Type"))
		assert.Equal(t, "16000", req.URL.Query().Get("sample_rate"))
		return httpmock.NewStringResponse(http.StatusOK, `{"events":[
			{"offset_seconds": 12.5, "class_id": 42, "class_name": "Cough", "probability": 0.91},
			{"offset_seconds": "bad", "class_id": 1, "class_name": "Speech", "probability": 0.5},
			{"offset_seconds": 3, "class_id": 7, "class_name": "Laughter", "probability": 1.4},
			{"offset_seconds": 30, "class_id": 1, "class_name": "Speech", "probability": 0.6}
		]}`), nil
	})

	events, err := c.Classify(t.Context(), []byte("RIFF"), 16000, nil)
	require.NoError(t, err)
	require.Len(t, events, 2, "malformed and out-of-range entries are skipped")
	assert.Equal(t, Event{OffsetSeconds: 12.5, ClassID: 42, ClassName: "Cough", Probability: 0.91}, events[0])
	assert.Equal(t, 12500*time.Millisecond, events[0].Offset())
}

func TestClassify_Failures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom")},
		{"not json", httpmock.NewStringResponder(http.StatusOK, "<html>")},
		{"missing events", httpmock.NewStringResponder(http.StatusOK, `{"result": []}`)},
		{"connection failure", httpmock.ConnectionFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, transport := newTestClient(t)
			transport.RegisterResponder(http.MethodPost, testEndpoint, tt.responder)

			_, err := c.Classify(t.Context(), []byte("RIFF"), 0, nil)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryAudioAnalysis))
		})
	}
}

func TestFilter(t *testing.T) {
	f := NewFilter(&conf.ClassifierSettings{
		Threshold: 0.5,
		Include:   []string{"cough", "Laughter", "Snoring"},
		Exclude:   []string{"snoring"},
	})

	events := []Event{
		{OffsetSeconds: 10, ClassName: "Laughter", Probability: 0.6},
		{OffsetSeconds: 5, ClassName: "Cough", Probability: 0.7},
		{OffsetSeconds: 5, ClassName: "Laughter", Probability: 0.9},
		{OffsetSeconds: 1, ClassName: "Cough", Probability: 0.4},
		{OffsetSeconds: 2, ClassName: "Snoring", Probability: 0.99},
		{OffsetSeconds: 3, ClassName: "Speech", Probability: 0.99},
	}
	kept := f.Apply(events)

	require.Len(t, kept, 3)
	assert.Equal(t, "Laughter", kept[0].ClassName, "ties resolve most probable first")
	assert.Equal(t, "Cough", kept[1].ClassName)
	assert.InDelta(t, 10.0, kept[2].OffsetSeconds, 1e-9)

	open := NewFilter(&conf.ClassifierSettings{Threshold: 0})
	assert.Len(t, open.Apply(events), len(events))
}
