package recognition

import (
	"context"
	"errors"
	"testing"

	"github.com/judacas/AutoDJ/internal/fingerprint"
	"github.com/judacas/AutoDJ/internal/testutil"
	"github.com/judacas/AutoDJ/pkg/models"
)

const sr = testutil.SampleRate

func songFingerprint(t *testing.T, hash string, samples []float64) models.Fingerprint {
	t.Helper()
	lms, err := fingerprint.Generate(samples, fingerprint.DefaultConfig())
	if err != nil {
		t.Fatalf("Generate(%s) failed: %v", hash, err)
	}
	return fingerprint.NewFingerprint(hash, lms)
}

type fixture struct {
	catalog *Catalog
	mix     models.AudioAsset
	mixFP   models.Fingerprint
	starts  map[string]int64 // true start of each placed song, mix ms
}

// buildFixture catalogs three 20s songs and renders a mix where "a" and "b"
// play back to back with silence around them. "c" is catalogued but absent.
func buildFixture(t *testing.T) fixture {
	t.Helper()
	hop := fingerprint.DefaultConfig().HopSize
	songs := map[string][]float64{
		"a": testutil.Song(1, 20000, sr),
		"b": testutil.Song(2, 20000, sr),
		"c": testutil.Song(3, 20000, sr),
	}

	cat := NewCatalog()
	for _, id := range []string{"a", "b", "c"} {
		cat.Publish(Entry{SongID: id, DurationMs: 20000, Fingerprint: songFingerprint(t, "h-"+id, songs[id])})
	}

	atA := testutil.HopAligned(3000, sr, hop)
	atB := testutil.HopAligned(25000, sr, hop)
	mix := testutil.Mix(48*sr,
		testutil.Part{Samples: songs["a"], AtSample: atA},
		testutil.Part{Samples: songs["b"], AtSample: atB},
	)

	return fixture{
		catalog: cat,
		mix:     models.AudioAsset{ContentHash: "mix-1", Origin: models.OriginMix, DurationMs: testutil.Ms(len(mix), sr)},
		mixFP:   songFingerprint(t, "mix-1", mix),
		starts:  map[string]int64{"a": testutil.Ms(atA, sr), "b": testutil.Ms(atB, sr)},
	}
}

func newTestRecognizer(t *testing.T) *Recognizer {
	t.Helper()
	r, err := NewRecognizer(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewRecognizer failed: %v", err)
	}
	return r
}

func TestRecognizeVerbatimSongs(t *testing.T) {
	f := buildFixture(t)
	r := newTestRecognizer(t)

	occs, err := r.Recognize(context.Background(), f.mix, f.mixFP, f.catalog.Snapshot())
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(occs) != 2 {
		t.Fatalf("expected 2 occurrences, got %d: %+v", len(occs), occs)
	}

	for i, want := range []string{"a", "b"} {
		o := occs[i]
		if o.SongID != want {
			t.Fatalf("occurrence %d is %q, want %q", i, o.SongID, want)
		}
		start := f.starts[want]
		if d := o.StartMs - start; d < -200 || d > 200 {
			t.Errorf("%s start = %d, want %d +/- 200", want, o.StartMs, start)
		}
		if d := o.EndMs - (start + 20000); d < -500 || d > 200 {
			t.Errorf("%s end = %d, want about %d", want, o.EndMs, start+20000)
		}
		if d := o.AlignMs - start; d < -50 || d > 50 {
			t.Errorf("%s align = %d, want about %d", want, o.AlignMs, start)
		}
		if o.Confidence < DefaultConfig().StrongConfidence || o.LowConfidence {
			t.Errorf("%s confidence %.2f should be strong", want, o.Confidence)
		}
		if o.Ambiguous {
			t.Errorf("%s should not be ambiguous", want)
		}
		if o.MixAssetHash != "mix-1" || o.SongAssetHash != "h-"+want {
			t.Errorf("%s carries wrong asset hashes: %+v", want, o)
		}
	}
}

func TestRecognizeRepeatedSong(t *testing.T) {
	hop := fingerprint.DefaultConfig().HopSize
	a := testutil.Song(7, 15000, sr)

	cat := NewCatalog()
	cat.Publish(Entry{SongID: "a", DurationMs: 15000, Fingerprint: songFingerprint(t, "h-a", a)})

	first := testutil.HopAligned(1000, sr, hop)
	second := testutil.HopAligned(30000, sr, hop)
	samples := testutil.Mix(50*sr,
		testutil.Part{Samples: a, AtSample: first},
		testutil.Part{Samples: a, AtSample: second},
	)
	mix := models.AudioAsset{ContentHash: "mix-2", Origin: models.OriginMix, DurationMs: testutil.Ms(len(samples), sr)}

	occs, err := newTestRecognizer(t).Recognize(context.Background(), mix, songFingerprint(t, "mix-2", samples), cat.Snapshot())
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(occs) != 2 {
		t.Fatalf("expected the song twice, got %+v", occs)
	}
	if occs[0].StartMs >= occs[1].StartMs {
		t.Error("occurrences must be sorted by start")
	}
	if d := occs[1].StartMs - testutil.Ms(second, sr); d < -200 || d > 200 {
		t.Errorf("second occurrence starts at %d, want about %d", occs[1].StartMs, testutil.Ms(second, sr))
	}
}

// Real mixes never line songs up with the STFT hop, and rarely play them at
// unity gain over silence.
func TestRecognizeOffGrid(t *testing.T) {
	a := testutil.Song(1, 20000, sr)
	cat := NewCatalog()
	cat.Publish(Entry{SongID: "a", DurationMs: 20000, Fingerprint: songFingerprint(t, "h-a", a)})
	r := newTestRecognizer(t)

	tests := []struct {
		name  string
		at    int // sample offset in the mix
		gain  float64
		noise float64
	}{
		{"37 samples off the grid", 3*sr + 37, 1, 0},
		{"half a hop off the grid", 3*sr + 128, 1, 0},
		{"quiet over noise", 3*sr + 128, 0.5, 0.02},
		{"odd offset", 7*sr + 101, 0.8, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := 30 * sr
			parts := []testutil.Part{{Samples: testutil.Gain(a, tt.gain), AtSample: tt.at}}
			if tt.noise > 0 {
				parts = append(parts, testutil.Part{Samples: testutil.Noise(99, total, tt.noise)})
			}
			samples := testutil.Mix(total, parts...)
			mix := models.AudioAsset{ContentHash: "mix-off", Origin: models.OriginMix, DurationMs: testutil.Ms(len(samples), sr)}

			occs, err := r.Recognize(context.Background(), mix, songFingerprint(t, "mix-off", samples), cat.Snapshot())
			if err != nil {
				t.Fatalf("Recognize failed: %v", err)
			}
			if len(occs) != 1 || occs[0].SongID != "a" {
				t.Fatalf("expected one occurrence of a, got %+v", occs)
			}
			o := occs[0]
			start := testutil.Ms(tt.at, sr)
			if d := o.StartMs - start; d < -200 || d > 200 {
				t.Errorf("start = %d, want %d +/- 200", o.StartMs, start)
			}
			if d := o.EndMs - (start + 20000); d < -500 || d > 200 {
				t.Errorf("end = %d, want about %d", o.EndMs, start+20000)
			}
		})
	}
}

func TestRecognizeCrossfade(t *testing.T) {
	const fadeMs = 2000
	fade := fadeMs * sr / 1000
	songA := testutil.Song(1, 20000, sr)
	songB := testutil.Song(2, 20000, sr)

	cat := NewCatalog()
	cat.Publish(
		Entry{SongID: "a", DurationMs: 20000, Fingerprint: songFingerprint(t, "h-a", songA)},
		Entry{SongID: "b", DurationMs: 20000, Fingerprint: songFingerprint(t, "h-b", songB)},
	)

	atA := 2*sr + 37
	atB := atA + len(songA) - fade
	samples := testutil.Mix(45*sr,
		testutil.Part{Samples: testutil.Fade(songA, 0, fade), AtSample: atA},
		testutil.Part{Samples: testutil.Fade(songB, fade, 0), AtSample: atB},
	)
	mix := models.AudioAsset{ContentHash: "mix-xf", Origin: models.OriginMix, DurationMs: testutil.Ms(len(samples), sr)}

	occs, err := newTestRecognizer(t).Recognize(context.Background(), mix, songFingerprint(t, "mix-xf", samples), cat.Snapshot())
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(occs) != 2 || occs[0].SongID != "a" || occs[1].SongID != "b" {
		t.Fatalf("expected a then b, got %+v", occs)
	}
	a, b := occs[0], occs[1]

	startA, startB := testutil.Ms(atA, sr), testutil.Ms(atB, sr)
	if d := a.StartMs - startA; d < -200 || d > 200 {
		t.Errorf("a start = %d, want %d +/- 200", a.StartMs, startA)
	}
	if d := a.EndMs - (startA + 20000); d < -1500 || d > 200 {
		t.Errorf("a end = %d, want within the fade before %d", a.EndMs, startA+20000)
	}
	if d := b.StartMs - startB; d < -200 || d > 1500 {
		t.Errorf("b start = %d, want within the fade after %d", b.StartMs, startB)
	}
	if d := b.EndMs - (startB + 20000); d < -500 || d > 200 {
		t.Errorf("b end = %d, want about %d", b.EndMs, startB+20000)
	}
	if gap := b.StartMs - a.EndMs; gap > 1000 {
		t.Errorf("a crossfade must not leave a %dms gap between a and b", gap)
	}
}

func TestRecognizeSong(t *testing.T) {
	f := buildFixture(t)
	r := newTestRecognizer(t)
	ctx := context.Background()
	snap := f.catalog.Snapshot()

	occs, err := r.RecognizeSong(ctx, f.mix, f.mixFP, snap, "b")
	if err != nil {
		t.Fatalf("RecognizeSong(b) failed: %v", err)
	}
	if len(occs) != 1 || occs[0].SongID != "b" {
		t.Errorf("expected one occurrence of b, got %+v", occs)
	}

	if _, err := r.RecognizeSong(ctx, f.mix, f.mixFP, snap, "c"); !errors.Is(err, models.ErrNoOccurrenceFound) {
		t.Errorf("absent song: expected ErrNoOccurrenceFound, got %v", err)
	}
	if _, err := r.RecognizeSong(ctx, f.mix, f.mixFP, snap, "zzz"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown song: expected ErrNotFound, got %v", err)
	}
}

func TestRecognizeCanceled(t *testing.T) {
	f := buildFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRecognizer(t).Recognize(ctx, f.mix, f.mixFP, f.catalog.Snapshot())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFlagAmbiguous(t *testing.T) {
	r := newTestRecognizer(t)
	occs := []models.Occurrence{
		{SongID: "a", StartMs: 0, EndMs: 60000},
		{SongID: "b", StartMs: 1500, EndMs: 50000},
		{SongID: "c", StartMs: 58000, EndMs: 120000},
	}
	r.flag(occs)

	if !occs[0].Ambiguous || !occs[1].Ambiguous {
		t.Error("a and b overlap and start within tolerance; both must be flagged")
	}
	if occs[2].Ambiguous {
		t.Error("c starts well after a; overlap alone is a transition, not ambiguity")
	}
}

func TestDedupeSameSong(t *testing.T) {
	occs := dedupeSameSong([]models.Occurrence{
		{SongID: "a", StartMs: 0, EndMs: 10000, Votes: 50},
		{SongID: "a", StartMs: 4000, EndMs: 6000, Votes: 500},
		{SongID: "a", StartMs: 20000, EndMs: 30000, Votes: 10},
		{SongID: "b", StartMs: 5000, EndMs: 8000, Votes: 5},
	})
	if len(occs) != 3 {
		t.Fatalf("expected 3 survivors, got %+v", occs)
	}
	for _, o := range occs {
		if o.SongID == "a" && o.StartMs == 0 {
			t.Error("weaker overlapping occurrence of a should be dropped")
		}
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct{ a, b, want int64 }{
		{10, 5, 2},
		{11, 5, 2},
		{-1, 5, -1},
		{-5, 5, -1},
		{-6, 5, -2},
		{0, 5, 0},
	}
	for _, tt := range tests {
		if got := floorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("floorDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.StrongConfidence = 0.1
	if err := cfg.Validate(); err == nil {
		t.Error("strong confidence below minimum must be rejected")
	}
}
