package fingerprint

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/mjibson/go-dsp/fft"
)

// Tunables
const (
	WindowSize = 1024
	HopSize    = 256
)

// ErrShortInput is returned when there is not a single full analysis frame.
var ErrShortInput = errors.New("input shorter than window size")

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// FFTReal wraps the go-dsp FFT function and returns a complex spectrum.
func FFTReal(frame []float64) []complex128 {
	return fft.FFTReal(frame)
}

// MagnitudeSpectrum converts a complex spectrum into a magnitude spectrum (positive freqs only)
func MagnitudeSpectrum(spectrum []complex128) []float64 {
	n := len(spectrum)
	half := n / 2
	mag := make([]float64, half)
	for i := 0; i < half; i++ {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	return mag
}

// STFT computes the short-time FFT (spectrogram) and returns a time-major
// magnitude spectrogram: spectrogram[frameIdx][freqBin].
func STFT(samples []float64, windowSize, hopSize int, window []float64) ([][]float64, error) {
	if len(window) != windowSize {
		return nil, errors.New("window length must equal windowSize")
	}
	if len(samples) < windowSize {
		return nil, ErrShortInput
	}

	nFrames := (len(samples)-windowSize)/hopSize + 1
	spectrogram := make([][]float64, 0, nFrames)
	frame := make([]float64, windowSize)
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		for i := 0; i < windowSize; i++ {
			frame[i] = samples[start+i] * window[i]
		}
		spectrogram = append(spectrogram, MagnitudeSpectrum(FFTReal(frame)))
	}
	return spectrogram, nil
}

// ComputeSpectrogramFromSamples runs the STFT with cfg's window and hop.
func ComputeSpectrogramFromSamples(samples []float64, cfg Config) ([][]float64, error) {
	return STFT(samples, cfg.WindowSize, cfg.HopSize, Hamming(cfg.WindowSize))
}

// ComputeSpectrogram reads a PCM WAV file and returns its spectrogram and
// sample rate. Zero window or hop sizes select the package defaults.
func ComputeSpectrogram(wavPath string, windowSizeArg, hopSizeArg int) ([][]float64, int, error) {
	samples, sr, err := audio.ReadWavAsFloat64(wavPath)
	if err != nil {
		return nil, 0, err
	}

	ws := windowSizeArg
	if ws == 0 {
		ws = WindowSize
	}
	hs := hopSizeArg
	if hs == 0 {
		hs = HopSize
	}

	spectrogram, err := STFT(samples, ws, hs, Hamming(ws))
	if err != nil {
		return nil, 0, err
	}
	return spectrogram, sr, nil
}
