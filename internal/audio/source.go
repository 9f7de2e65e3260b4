package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/judacas/AutoDJ/pkg/models"
)

// Source gives random access to mono audio by millisecond range.
type Source interface {
	SampleRate() int
	DurationMs() int64
	// Read returns samples for [startMs, endMs). A range reaching past either
	// end of the audio is an ErrExtractionBoundary.
	Read(ctx context.Context, startMs, endMs int64) ([]float64, error)
}

// BufferSource serves reads from a fully decoded buffer.
type BufferSource struct {
	buf *Buffer
}

func NewBufferSource(buf *Buffer) *BufferSource {
	return &BufferSource{buf: buf}
}

func (s *BufferSource) SampleRate() int   { return s.buf.SampleRate }
func (s *BufferSource) DurationMs() int64 { return s.buf.DurationMs() }
func (s *BufferSource) Buffer() *Buffer   { return s.buf }

func (s *BufferSource) Read(ctx context.Context, startMs, endMs int64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from := MsToSamples(startMs, s.buf.SampleRate)
	to := MsToSamples(endMs, s.buf.SampleRate)
	if startMs < 0 || from > to || to > len(s.buf.Samples) {
		return nil, fmt.Errorf("%w: [%d,%d)ms outside %dms", models.ErrExtractionBoundary, startMs, endMs, s.DurationMs())
	}
	out := make([]float64, to-from)
	copy(out, s.buf.Samples[from:to])
	return out, nil
}

// FileSource decodes ranges lazily through ffmpeg. It suits long mixes that
// should not be held in memory in full.
type FileSource struct {
	path       string
	sampleRate int

	once       sync.Once
	durationMs int64
	metaErr   error
}

func NewFileSource(path string, sampleRate int) *FileSource {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	return &FileSource{path: path, sampleRate: sampleRate}
}

func (s *FileSource) SampleRate() int { return s.sampleRate }

func (s *FileSource) DurationMs() int64 {
	s.once.Do(func() {
		meta, err := ReadMetadataFFmpeg(context.Background(), s.path)
		if err != nil {
			s.metaErr = err
			return
		}
		s.durationMs = int64(meta.DurationSec * 1000)
	})
	return s.durationMs
}

func (s *FileSource) Read(ctx context.Context, startMs, endMs int64) ([]float64, error) {
	dur := s.DurationMs()
	if s.metaErr != nil {
		return nil, fmt.Errorf("%w: reading metadata of %s: %v", models.ErrDecode, s.path, s.metaErr)
	}
	if startMs < 0 || startMs > endMs || endMs > dur {
		return nil, fmt.Errorf("%w: [%d,%d)ms outside %dms", models.ErrExtractionBoundary, startMs, endMs, dur)
	}

	samples, err := ExtractSegment(ctx, s.path, startMs, endMs-startMs, s.sampleRate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", models.ErrExtractionBoundary, err)
	}

	want := MsToSamples(endMs, s.sampleRate) - MsToSamples(startMs, s.sampleRate)
	switch {
	case len(samples) > want:
		samples = samples[:want]
	case len(samples) < want:
		// ffmpeg stops a few samples early at container boundaries; pad with silence.
		samples = append(samples, make([]float64, want-len(samples))...)
	}
	return samples, nil
}
