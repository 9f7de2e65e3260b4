package transition

import (
	"context"
	"fmt"
	"math"

	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/judacas/AutoDJ/internal/fingerprint"
	"github.com/judacas/AutoDJ/pkg/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	qualityWindow = 1024
	qualityHop    = 256
	// frames either side of the boundary searched for the dip and the spike
	boundaryMs = 250
)

// measureQuality reads windowMs of mix audio on each side of boundaryMs and
// reports how pronounced the cut is: the RMS dip at the boundary relative to
// its surroundings, and the z-score of the strongest spectral-flux frame near
// the boundary.
func measureQuality(ctx context.Context, mix audio.Source, boundary, windowMs int64) (models.QualityMetrics, error) {
	from := max(0, boundary-windowMs)
	to := boundary + windowMs
	if dur := mix.DurationMs(); dur > 0 {
		to = min(to, dur)
	}
	if to <= from {
		return models.QualityMetrics{}, fmt.Errorf("%w: boundary %dms outside mix", models.ErrExtractionBoundary, boundary)
	}
	samples, err := mix.Read(ctx, from, to)
	if err != nil {
		return models.QualityMetrics{}, err
	}

	spec, err := fingerprint.STFT(samples, qualityWindow, qualityHop, fingerprint.Hamming(qualityWindow))
	if err != nil {
		return models.QualityMetrics{}, err
	}
	if len(spec) < 3 {
		return models.QualityMetrics{}, fmt.Errorf("boundary window of %d frames too short", len(spec))
	}

	sr := mix.SampleRate()
	frameMs := func(i int) int64 { return from + int64(i*qualityHop+qualityWindow/2)*1000/int64(sr) }
	near := func(i int) bool {
		d := frameMs(i) - boundary
		return d >= -boundaryMs && d <= boundaryMs
	}

	// RMS per frame in dB, from the hop-sized chunk at the frame centre.
	levels := make([]float64, len(spec))
	for i := range spec {
		start := i*qualityHop + (qualityWindow-qualityHop)/2
		chunk := samples[start : start+qualityHop]
		levels[i] = 20 * math.Log10(math.Sqrt(floats.Dot(chunk, chunk)/float64(len(chunk)))+1e-9)
	}

	var inner, outer []float64
	for i, l := range levels {
		if near(i) {
			inner = append(inner, l)
		} else {
			outer = append(outer, l)
		}
	}

	q := models.QualityMetrics{Measured: true}
	if len(inner) > 0 && len(outer) > 0 {
		q.EnergyDipDB = stat.Mean(outer, nil) - floats.Min(inner)
	}

	flux := make([]float64, len(spec)-1)
	for i := 1; i < len(spec); i++ {
		var f float64
		for k, m := range spec[i] {
			if d := m - spec[i-1][k]; d > 0 {
				f += d
			}
		}
		flux[i-1] = f
	}
	mean, std := stat.MeanStdDev(flux, nil)
	if std > 0 {
		peak := math.Inf(-1)
		for i, f := range flux {
			if near(i + 1) {
				peak = math.Max(peak, f)
			}
		}
		if !math.IsInf(peak, -1) {
			q.FluxSpikeZ = (peak - mean) / std
		}
	}
	return q, nil
}
