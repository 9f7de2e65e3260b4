package fingerprint

import (
	"math"
	"sort"
)

// Peak represents a spectral landmark used for fingerprinting.
type Peak struct {
	TimeIdx int     // frame index in the spectrogram
	FreqIdx int     // frequency bin index
	MagDB   float64 // magnitude in dB (useful for debugging/tuning)
}

// floor to avoid log(0)
const eps = 1e-10

// bandEdges builds log-spaced frequency bands clamped to nBins.
func bandEdges(nBins int) [][2]int {
	bands := [][2]int{{0, min(10, nBins)}}
	for start := 10; start < nBins; start *= 2 {
		end := min(start*2, nBins)
		bands = append(bands, [2]int{start, end})
		if end == nBins {
			break
		}
	}
	return bands
}

// ExtractPeaks finds robust spectral peaks (constellation points) from a
// time-major magnitude spectrogram. For every frame it keeps the strongest bin
// of each band when it clears the frame's band average by cfg.PeakMarginDB and
// is a local maximum in its time/frequency neighbourhood.
//
// Peaks are returned sorted by (time, frequency). The decision for frame t
// only looks at frames t-TimeNeighbour..t+TimeNeighbour, which is what makes
// windowed extraction agree with a single pass away from window edges.
func ExtractPeaks(spectrogram [][]float64, cfg Config) []Peak {
	if len(spectrogram) == 0 || len(spectrogram[0]) == 0 {
		return nil
	}

	nFrames := len(spectrogram)
	nBins := len(spectrogram[0])
	bands := bandEdges(nBins)

	peaks := make([]Peak, 0, nFrames*2)
	bandMaxMag := make([]float64, len(bands))
	bandMaxIdx := make([]int, len(bands))

	for t := 0; t < nFrames; t++ {
		frame := spectrogram[t]

		for bi, b := range bands {
			maxMag := 0.0
			maxIdx := b[0]
			for i := b[0]; i < b[1]; i++ {
				if frame[i] > maxMag {
					maxMag = frame[i]
					maxIdx = i
				}
			}
			bandMaxMag[bi] = maxMag
			bandMaxIdx[bi] = maxIdx
		}

		var sumDb float64
		for _, mag := range bandMaxMag {
			sumDb += 20.0 * math.Log10(mag+eps)
		}
		avgDb := sumDb / float64(len(bandMaxMag))

		for bi, mag := range bandMaxMag {
			if mag <= 0 {
				continue
			}
			bin := bandMaxIdx[bi]
			magDb := 20.0 * math.Log10(mag+eps)
			if magDb < avgDb+cfg.PeakMarginDB {
				continue
			}
			if !isLocalMax(spectrogram, t, bin, mag, cfg) {
				continue
			}
			peaks = append(peaks, Peak{TimeIdx: t, FreqIdx: bin, MagDB: magDb})
		}
	}

	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].TimeIdx == peaks[j].TimeIdx {
			return peaks[i].FreqIdx < peaks[j].FreqIdx
		}
		return peaks[i].TimeIdx < peaks[j].TimeIdx
	})

	return peaks
}

func isLocalMax(spectrogram [][]float64, t, bin int, mag float64, cfg Config) bool {
	nFrames := len(spectrogram)
	nBins := len(spectrogram[0])
	for dt := -cfg.TimeNeighbour; dt <= cfg.TimeNeighbour; dt++ {
		tIdx := t + dt
		if tIdx < 0 || tIdx >= nFrames {
			continue
		}
		for df := -cfg.FreqNeighbour; df <= cfg.FreqNeighbour; df++ {
			fIdx := bin + df
			if fIdx < 0 || fIdx >= nBins || (dt == 0 && df == 0) {
				continue
			}
			if spectrogram[tIdx][fIdx] > mag {
				return false
			}
		}
	}
	return true
}
