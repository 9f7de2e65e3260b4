package transition

import (
	"errors"
	"image"
	"image/draw"
	"path/filepath"

	"github.com/eligwz/spectrogram"
	"github.com/judacas/AutoDJ/pkg/utils"
)

const (
	renderWidth  = 2048
	renderHeight = 512
)

// RenderSpectrogram draws samples as a spectrogram PNG at path. It is a
// debugging aid for eyeballing where a splice landed.
func RenderSpectrogram(samples []float64, sampleRate int, path string) error {
	if len(samples) == 0 || sampleRate <= 0 {
		return errors.New("transition: nothing to render")
	}
	if err := utils.MakeDir(filepath.Dir(path)); err != nil {
		return err
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, renderWidth, renderHeight))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, magnitude, linear scale
	spectrogram.Drawfft(img, samples, uint32(sampleRate), uint32(renderHeight), false, false, true, false)

	return spectrogram.SavePng(img, path)
}
