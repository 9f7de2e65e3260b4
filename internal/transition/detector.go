// Package transition finds song-to-song transitions among a mix's occurrences
// and renders clips of them.
package transition

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/judacas/AutoDJ/pkg/models"
)

// Logger is the subset of the project logger this package uses.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

// DetectorConfig bounds what counts as a transition. Durations in ms.
type DetectorConfig struct {
	MaxTransitionGapMs   int64 // silence allowed between prev end and next start
	MaxOverlapMs         int64 // overlap allowed between prev end and next start
	DuplicateToleranceMs int64 // different songs starting this close are ambiguous
	QualityWindowMs      int64 // mix audio inspected on each side of the boundary
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxTransitionGapMs:   30_000,
		MaxOverlapMs:         20_000,
		DuplicateToleranceMs: 2_000,
		QualityWindowMs:      3_000,
	}
}

func (c DetectorConfig) Validate() error {
	if c.MaxTransitionGapMs < 0 || c.MaxOverlapMs < 0 || c.DuplicateToleranceMs < 0 {
		return errors.New("transition: detector bounds must not be negative")
	}
	if c.QualityWindowMs <= 0 {
		return errors.New("transition: quality window must be positive")
	}
	return nil
}

type Detector struct {
	cfg DetectorConfig
	log Logger
}

func NewDetector(cfg DetectorConfig, log Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg, log: log}, nil
}

// Detect pairs consecutive occurrences of one mix. Candidates come back in
// mix order; pairs that look like a transition but cannot be trusted come back
// as diagnostics. mix may be nil, in which case quality is left unmeasured.
// The input slice is not modified.
func (d *Detector) Detect(ctx context.Context, mixHash string, occs []models.Occurrence, mix audio.Source) ([]models.TransitionCandidate, []models.Diagnostic, error) {
	sorted := make([]models.Occurrence, len(occs))
	copy(sorted, occs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartMs != sorted[j].StartMs {
			return sorted[i].StartMs < sorted[j].StartMs
		}
		return sorted[i].SongID < sorted[j].SongID
	})

	var (
		cands []models.TransitionCandidate
		diags []models.Diagnostic
	)
	for i := 1; i < len(sorted); i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		prev, next := sorted[i-1], sorted[i]
		gap := next.StartMs - prev.EndMs
		overlap := max(0, -gap)

		switch {
		case prev.SongID != next.SongID && next.StartMs-prev.StartMs <= d.cfg.DuplicateToleranceMs:
			diags = append(diags, models.Diagnostic{
				Kind: models.DiagnosticAmbiguousOverlap, Prev: prev, Next: next,
				Detail: fmt.Sprintf("starts %dms apart", next.StartMs-prev.StartMs),
			})
			continue
		case prev.SongID == next.SongID:
			diags = append(diags, models.Diagnostic{
				Kind: models.DiagnosticSelfTransition, Prev: prev, Next: next,
				Detail: fmt.Sprintf("gap %dms", gap),
			})
			continue
		case gap > d.cfg.MaxTransitionGapMs:
			continue
		case overlap > d.cfg.MaxOverlapMs:
			diags = append(diags, models.Diagnostic{
				Kind: models.DiagnosticExcessOverlap, Prev: prev, Next: next,
				Detail: fmt.Sprintf("overlap %dms exceeds %dms", overlap, d.cfg.MaxOverlapMs),
			})
			continue
		}

		c := models.TransitionCandidate{
			MixAssetHash: mixHash,
			Prev:         prev,
			Next:         next,
			GapMs:        gap,
			OverlapMs:    overlap,
			Quality:      models.QualityMetrics{OverlapMs: overlap},
		}
		if mix != nil {
			q, err := measureQuality(ctx, mix, c.BoundaryMs(), d.cfg.QualityWindowMs)
			switch {
			case err == nil:
				q.OverlapMs = overlap
				c.Quality = q
			case ctx.Err() != nil:
				return nil, nil, ctx.Err()
			case d.log != nil:
				d.log.Warnf("quality of %s -> %s at %dms not measured: %v", prev.SongID, next.SongID, c.BoundaryMs(), err)
			}
		}
		cands = append(cands, c)
	}

	if d.log != nil {
		d.log.Debugf("mix %s: %d occurrences, %d candidates, %d diagnostics", mixHash, len(sorted), len(cands), len(diags))
	}
	return cands, diags, nil
}
