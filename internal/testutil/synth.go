// Package testutil builds deterministic synthetic songs and mixes for tests.
package testutil

import (
	"math"
	"math/rand"
)

const SampleRate = 11025

// Song renders a sequence of random chords. Every seed yields a different,
// reproducible track.
func Song(seed int64, durationMs int64, sampleRate int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(durationMs * int64(sampleRate) / 1000)
	out := make([]float64, n)

	for pos := 0; pos < n; {
		noteLen := int(float64(sampleRate) * (0.12 + 0.18*rng.Float64()))
		end := min(pos+noteLen, n)

		type partial struct{ freq, amp, phase float64 }
		parts := make([]partial, 3)
		for i := range parts {
			parts[i] = partial{
				freq:  150 + rng.Float64()*4350,
				amp:   0.1 + 0.2*rng.Float64(),
				phase: rng.Float64() * 2 * math.Pi,
			}
		}

		for i := pos; i < end; i++ {
			t := float64(i) / float64(sampleRate)
			var v float64
			for _, p := range parts {
				v += p.amp * math.Sin(2*math.Pi*p.freq*t+p.phase)
			}
			out[i] = v
		}
		pos = end
	}

	// light deterministic noise so no frame is perfectly tonal
	for i := range out {
		out[i] += 0.005 * (rng.Float64()*2 - 1)
	}
	return out
}

// Part places samples at a sample offset inside a mix.
type Part struct {
	Samples  []float64
	AtSample int
}

// HopAligned converts ms to a sample offset rounded down to a multiple of hop,
// so embedded audio lands on the same STFT frame grid as the original.
func HopAligned(ms int64, sampleRate, hop int) int {
	s := int(ms * int64(sampleRate) / 1000)
	return s - s%hop
}

// Mix sums parts into a buffer of totalSamples (grown if a part runs past it).
func Mix(totalSamples int, parts ...Part) []float64 {
	for _, p := range parts {
		totalSamples = max(totalSamples, p.AtSample+len(p.Samples))
	}
	out := make([]float64, totalSamples)
	for _, p := range parts {
		for i, v := range p.Samples {
			out[p.AtSample+i] += v
		}
	}
	return out
}

// Ms converts a sample count to milliseconds.
func Ms(samples, sampleRate int) int64 {
	return int64(samples) * 1000 / int64(sampleRate)
}

// Gain returns a copy of samples scaled by g.
func Gain(samples []float64, g float64) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = v * g
	}
	return out
}

// Noise renders n samples of uniform white noise in [-amp, amp].
func Noise(seed int64, n int, amp float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * (rng.Float64()*2 - 1)
	}
	return out
}

// Fade returns a copy of samples with linear ramps of fadeIn samples at the
// head and fadeOut samples at the tail.
func Fade(samples []float64, fadeIn, fadeOut int) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	for i := 0; i < fadeIn && i < len(out); i++ {
		out[i] *= float64(i) / float64(fadeIn)
	}
	for i := 0; i < fadeOut && i < len(out); i++ {
		out[len(out)-1-i] *= float64(i) / float64(fadeOut)
	}
	return out
}
