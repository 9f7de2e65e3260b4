package fingerprint

const (
	// Number of bits allocated to frequency indices (must fit number of FFT bins)
	MaxFreqBits = 9

	// Number of bits allocated to the quantized frame delta
	MaxDeltaBits = 14

	freqMask  = uint32(1)<<MaxFreqBits - 1
	deltaMask = uint32(1)<<MaxDeltaBits - 1
)

// PackHash lays out [anchorFreq 9b | targetFreq 9b | delta 14b].
func PackHash(anchorFreq, targetFreq, delta uint32) uint32 {
	return (anchorFreq&freqMask)<<(MaxDeltaBits+MaxFreqBits) |
		(targetFreq&freqMask)<<MaxDeltaBits |
		delta&deltaMask
}

// UnpackHash is the inverse of PackHash.
func UnpackHash(h uint32) (anchorFreq, targetFreq, delta uint32) {
	return h >> (MaxDeltaBits + MaxFreqBits), (h >> MaxDeltaBits) & freqMask, h & deltaMask
}

// createAddress quantizes an anchor/target pair into its 32-bit hash.
// ok==false when the pair falls outside the configured delta range or does not
// fit the bit layout.
func createAddress(anchor, target Peak, cfg Config) (uint32, bool) {
	dt := target.TimeIdx - anchor.TimeIdx
	if dt < cfg.MinDeltaFrames || dt > cfg.MaxDeltaFrames {
		return 0, false
	}

	af := uint32(anchor.FreqIdx / cfg.FreqQuant)
	tf := uint32(target.FreqIdx / cfg.FreqQuant)
	dq := uint32(dt / cfg.DeltaQuant)
	if af > freqMask || tf > freqMask || dq > deltaMask {
		return 0, false
	}
	return PackHash(af, tf, dq), true
}
