package fingerprint

import (
	"context"

	"github.com/judacas/AutoDJ/pkg/models"
)

// window is one slice of a long recording, in STFT frames.
type window struct {
	startFrame int // first global frame covered
	frames     int // frames covered
	ownFrom    int // first owned global frame
	ownTo      int // one past the last owned global frame
}

// planWindows splits totalFrames into overlapping windows whose owned ranges
// tile [0, totalFrames) exactly.
func planWindows(totalFrames int, cfg Config) []window {
	winFrames := int(cfg.MixWindowMs * int64(cfg.SampleRate) / 1000 / int64(cfg.HopSize))
	overlapFrames := int(cfg.MixOverlapMs * int64(cfg.SampleRate) / 1000 / int64(cfg.HopSize))
	if cfg.MixWindowMs <= 0 || winFrames >= totalFrames || overlapFrames >= winFrames {
		return []window{{startFrame: 0, frames: totalFrames, ownFrom: 0, ownTo: totalFrames}}
	}

	half := overlapFrames / 2
	step := winFrames - overlapFrames

	var out []window
	for start := 0; ; start += step {
		w := window{
			startFrame: start,
			frames:     min(winFrames, totalFrames-start),
			ownFrom:    start + half,
			ownTo:      start + winFrames - overlapFrames + half,
		}
		if start == 0 {
			w.ownFrom = 0
		}
		last := start+winFrames >= totalFrames
		if last {
			w.ownTo = totalFrames
		}
		out = append(out, w)
		if last {
			break
		}
	}
	return out
}

// GenerateWindowed fingerprints long audio window by window so peak memory is
// bounded by the window length. Windows overlap; each owns the anchors in its
// interior, so pairs spanning a window boundary are produced by the window
// that owns their anchor and the merged result matches Generate.
func GenerateWindowed(ctx context.Context, samples []float64, cfg Config) ([]models.Landmark, error) {
	if len(samples) < cfg.WindowSize {
		return nil, ErrShortInput
	}
	totalFrames := (len(samples)-cfg.WindowSize)/cfg.HopSize + 1
	plan := planWindows(totalFrames, cfg)
	if len(plan) == 1 {
		return Generate(samples, cfg)
	}

	var all []models.Landmark
	for _, w := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		from := w.startFrame * cfg.HopSize
		to := min(from+(w.frames-1)*cfg.HopSize+cfg.WindowSize, len(samples))

		spec, err := ComputeSpectrogramFromSamples(samples[from:to], cfg)
		if err != nil {
			return nil, err
		}
		peaks := ExtractPeaks(spec, cfg)
		all = append(all, pairPeaks(peaks, cfg, w.startFrame, w.ownFrom, w.ownTo)...)
	}
	return normalize(all), nil
}
