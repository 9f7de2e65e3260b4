// Command spectrogram renders every WAV under a directory (extracted
// transition clips by default) as a PNG spectrogram for visual inspection.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/judacas/AutoDJ/internal/transition"
	"github.com/judacas/AutoDJ/pkg/logger"
)

func main() {
	inputDir := flag.String("in", "clips", "Directory searched for .wav files")
	outputDir := flag.String("out", "spectrograms", "Directory for PNG output")
	rate := flag.Int("rate", audio.DefaultSampleRate, "Sample rate audio is resampled to before rendering")
	flag.Parse()

	log := logger.GetLogger()
	rendered, failed, err := renderDir(context.Background(), *inputDir, *outputDir, *rate, log)
	if err != nil {
		log.Errorf("Walking %s: %v", *inputDir, err)
		os.Exit(1)
	}
	fmt.Printf("Done! %d rendered, %d failed\n", rendered, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// renderDir mirrors the layout of in below out. A file that fails is logged
// and counted; the walk goes on.
func renderDir(ctx context.Context, in, out string, rate int, log *logger.Logger) (rendered, failed int, err error) {
	err = filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}

		rel, err := filepath.Rel(in, path)
		if err != nil {
			return err
		}
		target := filepath.Join(out, rel+".png")

		buf, err := audio.LoadFile(ctx, path, audio.LoadConfig{SampleRate: rate})
		if err != nil {
			log.Warnf("Reading %s: %v", path, err)
			failed++
			return nil
		}
		if err := transition.RenderSpectrogram(buf.Samples, buf.SampleRate, target); err != nil {
			log.Warnf("Rendering %s: %v", path, err)
			failed++
			return nil
		}
		log.Debugf("Saved spectrogram to %s", target)
		rendered++
		return nil
	})
	return rendered, failed, err
}
