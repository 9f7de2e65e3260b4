package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/judacas/AutoDJ/pkg/models"
)

// DefaultSampleRate is the analysis rate shared by fingerprinting and extraction.
const DefaultSampleRate = 11025

// Buffer is mono PCM normalized to [-1, 1].
type Buffer struct {
	Samples    []float64
	SampleRate int
	Channels   int // channel count of the source before downmixing
}

// DurationMs is the buffer length in milliseconds, rounded down.
func (b *Buffer) DurationMs() int64 {
	if b == nil || b.SampleRate == 0 {
		return 0
	}
	return int64(len(b.Samples)) * 1000 / int64(b.SampleRate)
}

// MsToSamples converts a millisecond offset at sampleRate into a sample index.
func MsToSamples(ms int64, sampleRate int) int {
	return int(ms * int64(sampleRate) / 1000)
}

// DecodeWAV reads a PCM WAV stream into a mono buffer. Channels are averaged.
func DecodeWAV(r io.ReadSeeker) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV stream", models.ErrDecode)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: reading PCM: %v", models.ErrDecode, err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		return nil, fmt.Errorf("%w: invalid channel count %d", models.ErrDecode, channels)
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", models.ErrDecode, bitDepth)
	}

	scale := 1.0 / float64(int64(1)<<(uint(bitDepth)-1))
	frames := len(pcm.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(pcm.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) * scale
	}

	if frames == 0 {
		return nil, fmt.Errorf("%w: no samples", models.ErrDecode)
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   channels,
	}, nil
}

// ReadWavAsFloat64 reads a PCM WAV file and returns mono, normalized samples
// and the sample rate.
func ReadWavAsFloat64(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	buf, err := DecodeWAV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return buf.Samples, buf.SampleRate, nil
}

// LoadConfig controls how arbitrary inputs are brought to analysis format.
type LoadConfig struct {
	SampleRate int
	TempDir    string
}

// LoadBytes decodes an in-memory WAV and resamples it to cfg.SampleRate.
func LoadBytes(data []byte, cfg LoadConfig) (*Buffer, error) {
	buf, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return conform(buf, cfg.SampleRate), nil
}

// LoadFile decodes any audio file into mono at cfg.SampleRate. WAV files are
// read directly; other containers go through ffmpeg first.
func LoadFile(ctx context.Context, path string, cfg LoadConfig) (*Buffer, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		buf, err := DecodeWAV(f)
		if err == nil {
			return conform(buf, cfg.SampleRate), nil
		}
		// Compressed or exotic WAV payloads: fall through to ffmpeg.
	}

	wavPath, err := ConvertToMonoWAV(ctx, path, cfg.TempDir, ConvertWAVConfig{SampleRate: cfg.SampleRate})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
	}
	defer os.Remove(wavPath)

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return conform(buf, cfg.SampleRate), nil
}

func conform(buf *Buffer, sampleRate int) *Buffer {
	if sampleRate == 0 || buf.SampleRate == sampleRate {
		return buf
	}
	return &Buffer{
		Samples:    Resample(buf.Samples, buf.SampleRate, sampleRate),
		SampleRate: sampleRate,
		Channels:   buf.Channels,
	}
}
