// Package clips cuts padded per-detection clips out of fetched raw audio.
package clips

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/tphakala/pendant-go/internal/classifier"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/storage"
)

// ErrOutsideAudio is reported for an event whose offset lies past the audio.
var ErrOutsideAudio = errors.NewStd("event offset outside audio")

const (
	clipTimeLayout = "20060102T150405.000Z"
	maxSlugLength  = 48
)

// Clip is the result of extracting one event.
type Clip struct {
	Event     classifier.Event
	Timestamp time.Time // absolute event time, UTC, millisecond precision
	Path      string    // storage key of the clip
	Reused    bool      // the key already existed and was not rewritten
	Err       error
}

// Extractor writes clips to a storage.Store.
type Extractor struct {
	store   storage.Store
	padding time.Duration
	log     logger.Logger
}

// NewExtractor creates an Extractor keeping padding audio on each side of
// an event.
func NewExtractor(store storage.Store, padding time.Duration, log logger.Logger) *Extractor {
	return &Extractor{
		store:   store,
		padding: padding,
		log:     log.Module("clips"),
	}
}

// EventTime returns the absolute time of ev in audio fetched from fetchStart.
func EventTime(fetchStart time.Time, ev classifier.Event) time.Time {
	return fetchStart.Add(ev.Offset()).UTC().Truncate(time.Millisecond)
}

// ClipPath returns the storage key for a clip of className at ts.
func ClipPath(userID, className string, probability float64, ts time.Time) string {
	ts = ts.UTC()
	pct := int(probability*100 + 0.5)
	pct = max(0, min(pct, 100))
	return fmt.Sprintf("%s%s/%s_%02dp_%s.wav",
		storage.ClipPrefix(userID),
		ts.Format("2006/01/02"),
		slug(className),
		pct,
		ts.Format(clipTimeLayout))
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if len(s) > maxSlugLength {
		s = strings.TrimSuffix(s[:maxSlugLength], "-")
	}
	if s == "" {
		return "event"
	}
	return s
}

type span struct {
	index    int
	from, to int64 // frames, end exclusive
	samples  []int
}

// Extract decodes raw once and writes one clip per event, in event order.
// A per-event failure is reported in Clip.Err; the returned error is set
// only when raw cannot be decoded. An existing clip key is kept as is.
func (x *Extractor) Extract(ctx context.Context, userID string, raw []byte, fetchStart time.Time, events []classifier.Event) ([]Clip, error) {
	dec, info, err := openWAV(raw)
	if err != nil {
		return nil, err
	}

	clips := make([]Clip, len(events))
	spans := make([]*span, 0, len(events))
	padFrames := int64(x.padding.Seconds() * float64(info.SampleRate))
	var lastFrame int64

	for i, ev := range events {
		ts := EventTime(fetchStart, ev)
		clips[i] = Clip{
			Event:     ev,
			Timestamp: ts,
			Path:      ClipPath(userID, ev.ClassName, ev.Probability, ts),
		}
		center := int64(ev.OffsetSeconds * float64(info.SampleRate))
		if center >= info.Frames {
			clips[i].Err = errors.New(ErrOutsideAudio).
				Component("clips").
				Category(errors.CategoryAudio).
				Context("offset_seconds", ev.OffsetSeconds).
				Context("audio_duration", info.Duration().String()).
				Build()
			continue
		}
		s := &span{
			index: i,
			from:  max(0, center-padFrames),
			to:    min(info.Frames, center+padFrames+1),
		}
		spans = append(spans, s)
		lastFrame = max(lastFrame, s.to)
	}

	if len(spans) > 0 {
		if err := readSpans(ctx, dec, info, spans, lastFrame); err != nil {
			return nil, err
		}
	}

	for _, s := range spans {
		c := &clips[s.index]
		c.Reused, c.Err = x.write(ctx, c.Path, s.samples, info)
	}
	return clips, nil
}

// readSpans streams PCM blocks and copies each span's frames.
func readSpans(ctx context.Context, dec *wav.Decoder, info Info, spans []*span, lastFrame int64) error {
	channels := int64(info.Channels)
	buf := &audio.IntBuffer{
		Data:   make([]int, info.SampleRate*info.Channels),
		Format: &audio.Format{SampleRate: info.SampleRate, NumChannels: info.Channels},
	}

	var frame int64
	for frame < lastFrame {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return audioError(err, "read_pcm")
		}
		if n == 0 {
			break
		}
		blockEnd := frame + int64(n)/channels
		for _, s := range spans {
			from, to := max(s.from, frame), min(s.to, blockEnd)
			if from >= to {
				continue
			}
			s.samples = append(s.samples, buf.Data[(from-frame)*channels:(to-frame)*channels]...)
		}
		frame = blockEnd
	}
	return nil
}

func (x *Extractor) write(ctx context.Context, key string, samples []int, info Info) (reused bool, err error) {
	exists, err := x.store.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		x.log.Debug("clip already stored", logger.String("path", key))
		return true, nil
	}
	if len(samples) == 0 {
		return false, audioError(ErrOutsideAudio, "slice")
	}
	data, err := EncodeWAV(samples, info.SampleRate, info.Channels, info.BitDepth)
	if err != nil {
		return false, err
	}
	if err := x.store.Write(ctx, key, data); err != nil {
		return false, err
	}
	x.log.Debug("clip written",
		logger.String("path", key),
		logger.Int("bytes", len(data)))
	return false, nil
}
