package clips

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/tphakala/pendant-go/internal/errors"
)

// Info describes decoded WAV audio.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
}

// Duration returns the audio length.
func (i Info) Duration() time.Duration {
	if i.SampleRate == 0 {
		return 0
	}
	return time.Duration(i.Frames) * time.Second / time.Duration(i.SampleRate)
}

// Probe validates WAV data and returns its format.
func Probe(data []byte) (Info, error) {
	_, info, err := openWAV(data)
	return info, err
}

// openWAV reads the header and positions the decoder at the PCM data.
func openWAV(data []byte) (*wav.Decoder, Info, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, Info{}, audioError(errors.NewStd("invalid WAV file format"), "read_info")
	}
	if dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32 {
		return nil, Info{}, audioError(fmt.Errorf("unsupported bit depth: %d", dec.BitDepth), "read_info")
	}
	if dec.NumChans < 1 || dec.NumChans > 2 {
		return nil, Info{}, audioError(fmt.Errorf("unsupported number of channels: %d", dec.NumChans), "read_info")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, Info{}, audioError(err, "seek_pcm")
	}

	bytesPerFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	return dec, Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Frames:     dec.PCMLen() / bytesPerFrame,
	}, nil
}

// seekableBuffer is an in-memory io.WriteSeeker for the WAV encoder, which
// seeks back to patch chunk sizes on Close.
type seekableBuffer struct {
	buf []byte
	pos int64
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.buf)) {
		b.buf = append(b.buf, make([]byte, end-int64(len(b.buf)))...)
	}
	copy(b.buf[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = b.pos + offset
	case io.SeekEnd:
		next = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	b.pos = next
	return next, nil
}

func (b *seekableBuffer) Bytes() []byte {
	return b.buf
}

// EncodeWAV encodes interleaved samples as a PCM WAV file.
func EncodeWAV(samples []int, sampleRate, channels, bitDepth int) ([]byte, error) {
	out := &seekableBuffer{}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, audioError(err, "encode")
	}
	if err := enc.Close(); err != nil {
		return nil, audioError(err, "encode_close")
	}
	return out.Bytes(), nil
}

func audioError(err error, operation string) error {
	return errors.New(err).
		Component("clips").
		Category(errors.CategoryAudio).
		Context("operation", operation).
		Build()
}
