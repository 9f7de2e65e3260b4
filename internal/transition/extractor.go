package transition

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/judacas/AutoDJ/pkg/models"
)

// ExtractorConfig shapes a rendered transition clip. Durations in ms.
type ExtractorConfig struct {
	LeadInMs           int64   // mix audio kept before the earlier boundary point
	LeadOutMs          int64   // mix audio kept after the later boundary point
	PadMs              int64   // clean song audio added on each side
	CrossfadeMs        int64   // splice length between clean audio and the mix
	MicroFadeMs        int64   // fade at the outer edges of the clip
	TargetLoudnessDBFS float64 // RMS target
	PeakCeiling        float64 // absolute sample ceiling after normalization
	MaxSliceMs         int64   // longest mix slice, centred on the boundary
}

func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		LeadInMs:           4000,
		LeadOutMs:          4000,
		PadMs:              3000,
		CrossfadeMs:        500,
		MicroFadeMs:        5,
		TargetLoudnessDBFS: -14,
		PeakCeiling:        0.98,
		MaxSliceMs:         30_000,
	}
}

func (c ExtractorConfig) Validate() error {
	if c.LeadInMs < 0 || c.LeadOutMs < 0 || c.PadMs < 0 || c.MicroFadeMs < 0 {
		return errors.New("transition: extractor durations must not be negative")
	}
	if c.CrossfadeMs < 0 || c.CrossfadeMs > c.PadMs {
		return fmt.Errorf("transition: crossfade %dms must be within [0, pad %dms]", c.CrossfadeMs, c.PadMs)
	}
	if c.MaxSliceMs <= 0 {
		return errors.New("transition: max slice must be positive")
	}
	if c.PeakCeiling <= 0 || c.PeakCeiling > 1 {
		return fmt.Errorf("transition: peak ceiling %v outside (0,1]", c.PeakCeiling)
	}
	return nil
}

type Extractor struct {
	cfg ExtractorConfig
	log Logger
}

func NewExtractor(cfg ExtractorConfig, log Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{cfg: cfg, log: log}, nil
}

func (e *Extractor) Config() ExtractorConfig { return e.cfg }

// SliceBounds returns the mix range [start, end) cut for c, clamped to the mix.
func (e *Extractor) SliceBounds(c models.TransitionCandidate, mixDurationMs int64) (int64, int64) {
	lo := min(c.Prev.EndMs, c.Next.StartMs)
	hi := max(c.Prev.EndMs, c.Next.StartMs)
	start, end := lo-e.cfg.LeadInMs, hi+e.cfg.LeadOutMs

	if end-start > e.cfg.MaxSliceMs {
		b := c.BoundaryMs()
		start = max(start, b-e.cfg.MaxSliceMs/2)
		end = min(end, b+e.cfg.MaxSliceMs/2)
	}
	start = max(start, 0)
	if mixDurationMs > 0 {
		end = min(end, mixDurationMs)
	}
	return start, end
}

// Extract renders the clip for c. prev and next supply clean song audio and
// may be nil; a clip missing either is marked degraded. A mix slice that
// cannot be read is an ErrExtractionBoundary.
func (e *Extractor) Extract(ctx context.Context, c models.TransitionCandidate, mix, prev, next audio.Source) (*models.TransitionClip, error) {
	start, end := e.SliceBounds(c, mix.DurationMs())
	if end <= start {
		return nil, fmt.Errorf("%w: empty slice for boundary %dms", models.ErrExtractionBoundary, c.BoundaryMs())
	}

	sr := mix.SampleRate()
	slice, err := mix.Read(ctx, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, models.ErrExtractionBoundary) {
			err = fmt.Errorf("%w: %v", models.ErrExtractionBoundary, err)
		}
		return nil, fmt.Errorf("slicing mix %s at [%d,%d)ms: %w", c.MixAssetHash, start, end, err)
	}

	meta := models.ClipMetadata{
		PrevSongID:   c.Prev.SongID,
		NextSongID:   c.Next.SongID,
		MixAssetHash: c.MixAssetHash,
		StartMs:      start,
		EndMs:        end,
		SampleRate:   sr,
		Quality:      c.Quality,
	}
	fade := audio.MsToSamples(e.cfg.CrossfadeMs, sr)
	out := slice

	// Lead: clean prev audio up to the slice start, then crossfaded over its
	// first CrossfadeMs.
	head, err := e.clean(ctx, prev, c.Prev, start-e.cfg.PadMs, start+e.cfg.CrossfadeMs, sr)
	switch {
	case err == nil:
		out = splice(head, out, fade)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		meta.Degraded = true
		meta.DegradedWhy = append(meta.DegradedWhy, fmt.Sprintf("previous song %s: %v", c.Prev.SongID, err))
	}

	tail, err := e.clean(ctx, next, c.Next, end-e.cfg.CrossfadeMs, end+e.cfg.PadMs, sr)
	switch {
	case err == nil:
		out = splice(out, tail, fade)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		meta.Degraded = true
		meta.DegradedWhy = append(meta.DegradedWhy, fmt.Sprintf("next song %s: %v", c.Next.SongID, err))
	}

	normalize(out, e.cfg.TargetLoudnessDBFS, e.cfg.PeakCeiling)
	microFade(out, audio.MsToSamples(e.cfg.MicroFadeMs, sr))

	wav, err := audio.EncodeWAV(out, sr)
	if err != nil {
		return nil, fmt.Errorf("encoding clip: %w", err)
	}
	meta.DurationMs = int64(len(out)) * 1000 / int64(sr)

	if meta.Degraded && e.log != nil {
		e.log.Warnf("degraded clip %s -> %s: %v", c.Prev.SongID, c.Next.SongID, meta.DegradedWhy)
	}
	return &models.TransitionClip{Meta: meta, Samples: out, SampleRate: sr, WAV: wav}, nil
}

// clean reads the song audio heard at mix range [fromMs, toMs) through the
// occurrence's alignment. Parts before the song starts or after it ends are
// silence; a range entirely outside the song is an error.
func (e *Extractor) clean(ctx context.Context, src audio.Source, occ models.Occurrence, fromMs, toMs int64, sr int) ([]float64, error) {
	if src == nil {
		return nil, errors.New("clean audio unavailable")
	}
	songFrom, songTo := occ.SongTimeMs(fromMs), occ.SongTimeMs(toMs)
	readFrom := max(songFrom, 0)
	readTo := min(songTo, src.DurationMs())
	if readTo <= readFrom {
		return nil, fmt.Errorf("%w: song range [%d,%d)ms outside %dms", models.ErrExtractionBoundary, songFrom, songTo, src.DurationMs())
	}

	got, err := src.Read(ctx, readFrom, readTo)
	if err != nil {
		return nil, err
	}
	if src.SampleRate() != sr {
		got = audio.Resample(got, src.SampleRate(), sr)
	}

	want := audio.MsToSamples(toMs, sr) - audio.MsToSamples(fromMs, sr)
	out := make([]float64, want)
	lead := min(audio.MsToSamples(readFrom-songFrom, sr), want)
	copy(out[lead:], got)
	return out, nil
}

// splice joins a and b, overlapping the last n samples of a with the first n
// of b under a smoothstep crossfade.
func splice(a, b []float64, n int) []float64 {
	n = min(n, len(a), len(b))
	out := make([]float64, 0, len(a)+len(b)-n)
	out = append(out, a[:len(a)-n]...)
	for i := range n {
		t := (float64(i) + 0.5) / float64(n)
		g := t * t * (3 - 2*t)
		out = append(out, a[len(a)-n+i]*(1-g)+b[i]*g)
	}
	return append(out, b[n:]...)
}

// normalize scales samples to targetDBFS RMS, then pulls the peak under ceiling.
func normalize(samples []float64, targetDBFS, ceiling float64) {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	if len(samples) == 0 || sum == 0 {
		return
	}
	gain := math.Pow(10, targetDBFS/20) / math.Sqrt(sum/float64(len(samples)))

	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s*gain))
	}
	if peak > ceiling {
		gain *= ceiling / peak
	}
	for i := range samples {
		samples[i] *= gain
	}
}

// microFade ramps the first and last n samples so the clip starts and ends at
// exactly zero.
func microFade(samples []float64, n int) {
	n = min(n, len(samples)/2)
	for i := range n {
		g := float64(i) / float64(n)
		samples[i] *= g
		samples[len(samples)-1-i] *= g
	}
}
