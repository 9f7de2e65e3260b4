package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/judacas/AutoDJ/pkg/models"
)

func sine(n, sampleRate int, freq, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	in := sine(11025, 11025, 440, 0.5)

	data, err := EncodeWAV(in, 11025)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	buf, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if buf.SampleRate != 11025 {
		t.Errorf("expected sample rate 11025, got %d", buf.SampleRate)
	}
	if len(buf.Samples) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(buf.Samples))
	}
	for i := range in {
		if math.Abs(buf.Samples[i]-in[i]) > 1e-3 {
			t.Fatalf("sample %d: got %f, want %f", i, buf.Samples[i], in[i])
		}
	}
	if got := buf.DurationMs(); got != 1000 {
		t.Errorf("DurationMs() = %d, want 1000", got)
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	_, err := DecodeWAV(bytes.NewReader([]byte("INVALID HEADER DATA")))
	if err == nil {
		t.Fatal("DecodeWAV should fail on garbage input")
	}
	if !errors.Is(err, models.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestReadWavAsFloat64(t *testing.T) {
	data, err := EncodeWAV(sine(2205, 22050, 1000, 0.25), 22050)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	samples, sr, err := ReadWavAsFloat64(path)
	if err != nil {
		t.Fatalf("ReadWavAsFloat64 failed: %v", err)
	}
	if sr != 22050 || len(samples) != 2205 {
		t.Errorf("got %d samples at %d Hz", len(samples), sr)
	}

	buf, err := LoadFile(context.Background(), path, LoadConfig{SampleRate: 11025})
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if buf.SampleRate != 11025 {
		t.Errorf("LoadFile should resample to 11025, got %d", buf.SampleRate)
	}
	if len(buf.Samples) != 1102 {
		t.Errorf("expected 1102 resampled samples, got %d", len(buf.Samples))
	}
}

func TestResample(t *testing.T) {
	in := []float64{0, 1, 2, 3, 4, 5, 6, 7}

	down := Resample(in, 8000, 4000)
	if len(down) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(down))
	}
	for i, want := range []float64{0, 2, 4, 6} {
		if down[i] != want {
			t.Errorf("down[%d] = %f, want %f", i, down[i], want)
		}
	}

	up := Resample(in, 4000, 8000)
	if len(up) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(up))
	}
	if up[1] != 0.5 {
		t.Errorf("up[1] = %f, want 0.5", up[1])
	}

	same := Resample(in, 8000, 8000)
	if &same[0] != &in[0] {
		t.Error("same-rate resample should return the input slice")
	}
}

func TestBufferSourceRead(t *testing.T) {
	buf := &Buffer{Samples: make([]float64, 10000), SampleRate: 1000}
	for i := range buf.Samples {
		buf.Samples[i] = float64(i)
	}
	src := NewBufferSource(buf)
	ctx := context.Background()

	got, err := src.Read(ctx, 2000, 2010)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 10 || got[0] != 2000 {
		t.Errorf("unexpected slice: len=%d first=%v", len(got), got[0])
	}

	got[0] = -1
	if buf.Samples[2000] != 2000 {
		t.Error("Read must return a copy")
	}

	tests := []struct {
		name       string
		start, end int64
	}{
		{"negative start", -10, 100},
		{"past end", 9000, 10001},
		{"inverted", 500, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := src.Read(ctx, tt.start, tt.end)
			if !errors.Is(err, models.ErrExtractionBoundary) {
				t.Errorf("expected ErrExtractionBoundary, got %v", err)
			}
		})
	}
}

func TestIdentify(t *testing.T) {
	a := Identify([]byte("same bytes"), models.OriginSong, "s1")
	b := Identify([]byte("same bytes"), models.OriginSong, "s1")
	c := Identify([]byte("other bytes"), models.OriginSong, "s1")

	if a.ContentHash != b.ContentHash || !a.SameContent(b) {
		t.Error("identical bytes must produce identical identity")
	}
	if a.ContentHash == c.ContentHash {
		t.Error("different bytes should hash differently")
	}
	if len(a.ContentHash) != 16 {
		t.Errorf("content hash should be 16 hex chars, got %q", a.ContentHash)
	}
	if a.ByteSize != int64(len("same bytes")) {
		t.Errorf("unexpected byte size %d", a.ByteSize)
	}
}

func TestLibrary(t *testing.T) {
	lib := NewLibrary(LoadConfig{SampleRate: 1000})
	ctx := context.Background()

	if _, err := lib.Open(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	lib.RegisterBuffer("s1", &Buffer{Samples: make([]float64, 3000), SampleRate: 1000})
	src, err := lib.Open(ctx, "s1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if src.DurationMs() != 3000 {
		t.Errorf("DurationMs() = %d, want 3000", src.DurationMs())
	}
	if !lib.Has("s1") {
		t.Error("Has should report registered song")
	}
}
