package clips

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/classifier"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/storage"
)

const testSampleRate = 8000

// rampWAV returns seconds of 16-bit mono audio where each sample encodes
// its frame index, so extracted ranges can be checked exactly.
func rampWAV(t *testing.T, seconds int) []byte {
	t.Helper()
	samples := make([]int, seconds*testSampleRate)
	for i := range samples {
		samples[i] = i % 30000
	}
	data, err := EncodeWAV(samples, testSampleRate, 1, 16)
	require.NoError(t, err)
	return data
}

func decodeSamples(t *testing.T, data []byte) []int {
	t.Helper()
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return buf.Data
}

func newTestExtractor(t *testing.T, padding time.Duration) (*Extractor, *storage.LocalStore) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewExtractor(store, padding, logger.NewNopLogger()), store
}

func TestProbe(t *testing.T) {
	info, err := Probe(rampWAV(t, 3))
	require.NoError(t, err)
	assert.Equal(t, Info{SampleRate: testSampleRate, Channels: 1, BitDepth: 16, Frames: 3 * testSampleRate}, info)
	assert.Equal(t, 3*time.Second, info.Duration())

	_, err = Probe([]byte("not a wav file at all"))
	assert.Error(t, err)
}

func TestExtract_PaddedAndClamped(t *testing.T) {
	x, store := newTestExtractor(t, time.Second)
	ctx := t.Context()
	fetchStart := time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)

	events := []classifier.Event{
		{OffsetSeconds: 0.5, ClassID: 1, ClassName: "Cough", Probability: 0.9},
		{OffsetSeconds: 5, ClassID: 2, ClassName: "Laughter", Probability: 0.754},
		{OffsetSeconds: 9.75, ClassID: 1, ClassName: "Cough", Probability: 0.6},
		{OffsetSeconds: 20, ClassID: 1, ClassName: "Cough", Probability: 0.6},
	}
	clips, err := x.Extract(ctx, "alice", rampWAV(t, 10), fetchStart, events)
	require.NoError(t, err)
	require.Len(t, clips, 4)

	// Clamped at the start of the audio.
	require.NoError(t, clips[0].Err)
	assert.Equal(t, fetchStart.Add(500*time.Millisecond), clips[0].Timestamp)
	data, err := store.Read(ctx, clips[0].Path)
	require.NoError(t, err)
	samples := decodeSamples(t, data)
	assert.Len(t, samples, 12001)
	assert.Equal(t, 0, samples[0])

	// Fully padded in the middle.
	require.NoError(t, clips[1].Err)
	assert.Equal(t, "users/alice/clips/2024/03/10/laughter_75p_20240310T050005.000Z.wav", clips[1].Path)
	data, err = store.Read(ctx, clips[1].Path)
	require.NoError(t, err)
	samples = decodeSamples(t, data)
	assert.Len(t, samples, 2*testSampleRate+1)
	assert.Equal(t, 32000%30000, samples[0])

	// Clamped at the end of the audio.
	require.NoError(t, clips[2].Err)
	data, err = store.Read(ctx, clips[2].Path)
	require.NoError(t, err)
	assert.Len(t, decodeSamples(t, data), 80000-70000)

	// Past the end.
	assert.ErrorIs(t, clips[3].Err, ErrOutsideAudio)
	exists, err := store.Exists(ctx, clips[3].Path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtract_ExistingClipIsNotRewritten(t *testing.T) {
	x, store := newTestExtractor(t, time.Second)
	ctx := t.Context()
	fetchStart := time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)
	ev := classifier.Event{OffsetSeconds: 2, ClassName: "Cough", Probability: 0.9}

	path := ClipPath("alice", ev.ClassName, ev.Probability, EventTime(fetchStart, ev))
	require.NoError(t, store.Write(ctx, path, []byte("kept")))

	clips, err := x.Extract(ctx, "alice", rampWAV(t, 4), fetchStart, []classifier.Event{ev})
	require.NoError(t, err)
	require.NoError(t, clips[0].Err)
	assert.True(t, clips[0].Reused)

	data, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), data)
}

func TestExtract_InvalidAudio(t *testing.T) {
	x, _ := newTestExtractor(t, time.Second)
	_, err := x.Extract(t.Context(), "alice", []byte("garbage"), time.Now(), []classifier.Event{{OffsetSeconds: 1}})
	assert.Error(t, err)
}

func TestClipPath(t *testing.T) {
	ts := time.Date(2024, 11, 3, 23, 59, 59, 999e6, time.FixedZone("X", 3600))
	tests := []struct {
		class string
		prob  float64
		want  string
	}{
		{"Cough", 0.912, "users/bob/clips/2024/11/03/cough_91p_20241103T225959.999Z.wav"},
		{"Baby cry, infant cry", 0.05, "users/bob/clips/2024/11/03/baby-cry-infant-cry_05p_20241103T225959.999Z.wav"},
		{"!!!", 1, "users/bob/clips/2024/11/03/event_100p_20241103T225959.999Z.wav"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClipPath("bob", tt.class, tt.prob, ts), tt.class)
	}
}

func TestClipPath_DistinctWithinOneSecond(t *testing.T) {
	ts := time.Date(2024, 6, 1, 0, 0, 40, 200e6, time.UTC)
	first := ClipPath("alice", "Laughter", 0.8, ts)
	second := ClipPath("alice", "Laughter", 0.8, ts.Add(500*time.Millisecond))

	assert.NotEqual(t, first, second)
	assert.Equal(t, "users/alice/clips/2024/06/01/laughter_80p_20240601T000040.200Z.wav", first)
}
