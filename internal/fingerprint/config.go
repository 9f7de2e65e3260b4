package fingerprint

import (
	"errors"
	"fmt"
)

// Config holds every tunable of the landmark fingerprint. Two fingerprints
// are only comparable when produced with the same Config.
type Config struct {
	SampleRate int
	WindowSize int // STFT window, samples
	HopSize    int // STFT hop, samples

	// Peak picking
	PeakMarginDB  float64 // dB above the frame's band average
	FreqNeighbour int     // +/- bins for the local-max check
	TimeNeighbour int     // +/- frames for the local-max check

	// Pairing
	FanOut         int
	MinDeltaFrames int
	MaxDeltaFrames int
	FreqQuant      int // frequency bins per hash step
	DeltaQuant     int // frames per hash step

	// Mix windowing
	MixWindowMs  int64
	MixOverlapMs int64
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     11025,
		WindowSize:     WindowSize,
		HopSize:        HopSize,
		PeakMarginDB:   3.0,
		FreqNeighbour:  3,
		TimeNeighbour:  1,
		FanOut:         6,
		MinDeltaFrames: 1,
		MaxDeltaFrames: 63,
		FreqQuant:      2,
		DeltaQuant:     2,
		MixWindowMs:    5 * 60 * 1000,
		MixOverlapMs:   30 * 1000,
	}
}

// FrameMs converts a frame index to the anchor time in milliseconds.
func (c Config) FrameMs(frame int) uint32 {
	return uint32(int64(frame) * int64(c.HopSize) * 1000 / int64(c.SampleRate))
}

func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("fingerprint: sample rate must be positive")
	}
	if c.WindowSize <= 0 || c.WindowSize&(c.WindowSize-1) != 0 {
		return fmt.Errorf("fingerprint: window size %d must be a power of two", c.WindowSize)
	}
	if c.HopSize <= 0 || c.HopSize > c.WindowSize {
		return fmt.Errorf("fingerprint: hop size %d must be in (0, window]", c.HopSize)
	}
	if c.WindowSize/2/max(c.FreqQuant, 1) > 1<<MaxFreqBits {
		return fmt.Errorf("fingerprint: %d bins do not fit in %d hash bits", c.WindowSize/2, MaxFreqBits)
	}
	if c.FanOut <= 0 {
		return errors.New("fingerprint: fan-out must be positive")
	}
	if c.FreqQuant <= 0 || c.DeltaQuant <= 0 {
		return errors.New("fingerprint: quantization steps must be positive")
	}
	if c.MinDeltaFrames < 1 || c.MaxDeltaFrames < c.MinDeltaFrames {
		return fmt.Errorf("fingerprint: invalid delta range [%d,%d]", c.MinDeltaFrames, c.MaxDeltaFrames)
	}
	if c.MaxDeltaFrames/c.DeltaQuant >= 1<<MaxDeltaBits {
		return fmt.Errorf("fingerprint: max delta %d does not fit in %d hash bits", c.MaxDeltaFrames, MaxDeltaBits)
	}
	if c.MixWindowMs > 0 {
		if c.MixOverlapMs <= 0 || c.MixOverlapMs >= c.MixWindowMs {
			return fmt.Errorf("fingerprint: overlap %dms must be in (0, window %dms)", c.MixOverlapMs, c.MixWindowMs)
		}
		// Pairs and neighbourhood checks of an owned anchor must stay inside its window.
		overlap := int(c.MixOverlapMs * int64(c.SampleRate) / 1000 / int64(c.HopSize))
		half := overlap / 2
		reach := c.MaxDeltaFrames + c.TimeNeighbour + 1
		if half < c.TimeNeighbour || overlap-half < reach {
			return fmt.Errorf("fingerprint: overlap of %d frames too short for pairing reach of %d frames", overlap, reach)
		}
	}
	return nil
}
