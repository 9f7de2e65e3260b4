package fingerprint

import (
	"encoding/binary"
	"slices"

	xxhash "github.com/OneOfOne/xxhash"
	"github.com/judacas/AutoDJ/pkg/models"
)

// Generate fingerprints samples in a single pass.
func Generate(samples []float64, cfg Config) ([]models.Landmark, error) {
	spec, err := ComputeSpectrogramFromSamples(samples, cfg)
	if err != nil {
		return nil, err
	}
	peaks := ExtractPeaks(spec, cfg)
	lms := pairPeaks(peaks, cfg, 0, 0, len(spec))
	return normalize(lms), nil
}

// pairPeaks turns peaks into landmarks. Peak frames are local to a window that
// starts at global frame offset; only anchors whose global frame lies in
// [ownFrom, ownTo) are emitted.
func pairPeaks(peaks []Peak, cfg Config, offset, ownFrom, ownTo int) []models.Landmark {
	out := make([]models.Landmark, 0, len(peaks)*cfg.FanOut)
	for i, anchor := range peaks {
		g := anchor.TimeIdx + offset
		if g < ownFrom {
			continue
		}
		if g >= ownTo {
			break
		}
		anchorMs := cfg.FrameMs(g)
		paired := 0
		for j := i + 1; j < len(peaks) && paired < cfg.FanOut; j++ {
			target := peaks[j]
			if target.TimeIdx-anchor.TimeIdx > cfg.MaxDeltaFrames {
				break
			}
			h, ok := createAddress(anchor, target, cfg)
			if !ok {
				continue
			}
			out = append(out, models.Landmark{Hash: h, AnchorMs: anchorMs})
			paired++
		}
	}
	return out
}

// normalize sorts by (AnchorMs, Hash) and drops exact duplicates.
func normalize(lms []models.Landmark) []models.Landmark {
	slices.SortFunc(lms, compareLandmarks)
	return slices.Compact(lms)
}

func compareLandmarks(a, b models.Landmark) int {
	switch {
	case a.AnchorMs < b.AnchorMs:
		return -1
	case a.AnchorMs > b.AnchorMs:
		return 1
	case a.Hash < b.Hash:
		return -1
	case a.Hash > b.Hash:
		return 1
	}
	return 0
}

// Digest hashes a normalized landmark set.
func Digest(lms []models.Landmark) uint64 {
	h := xxhash.New64()
	var b [8]byte
	for _, lm := range lms {
		binary.LittleEndian.PutUint32(b[:4], lm.Hash)
		binary.LittleEndian.PutUint32(b[4:], lm.AnchorMs)
		h.Write(b[:])
	}
	return h.Sum64()
}

// NewFingerprint wraps landmarks for assetHash and stamps the digest.
func NewFingerprint(assetHash string, lms []models.Landmark) models.Fingerprint {
	return models.Fingerprint{AssetHash: assetHash, Landmarks: lms, Digest: Digest(lms)}
}
