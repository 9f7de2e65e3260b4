package transition

import (
	"context"
	"testing"

	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/judacas/AutoDJ/internal/testutil"
	"github.com/judacas/AutoDJ/pkg/models"
)

func occ(song string, start, end int64, conf float64) models.Occurrence {
	return models.Occurrence{SongID: song, StartMs: start, EndMs: end, AlignMs: start, Confidence: conf}
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultDetectorConfig(), nil)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return d
}

func TestDetectGapWindow(t *testing.T) {
	tests := []struct {
		name      string
		gap       int64
		wantCands int
	}{
		{"short gap", 5000, 1},
		{"at limit", 30000, 1},
		{"long gap", 60000, 0},
		{"overlap", -4000, 1},
	}
	d := newTestDetector(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occs := []models.Occurrence{
				occ("a", 0, 100000, 0.9),
				occ("b", 100000+tt.gap, 200000, 0.8),
			}
			cands, diags, err := d.Detect(context.Background(), "mix", occs, nil)
			if err != nil {
				t.Fatalf("Detect failed: %v", err)
			}
			if len(cands) != tt.wantCands {
				t.Fatalf("got %d candidates, want %d", len(cands), tt.wantCands)
			}
			if len(diags) != 0 {
				t.Errorf("unexpected diagnostics: %+v", diags)
			}
			if tt.wantCands == 1 {
				c := cands[0]
				if c.GapMs != tt.gap {
					t.Errorf("GapMs = %d, want %d", c.GapMs, tt.gap)
				}
				if want := max(0, -tt.gap); c.OverlapMs != want || c.Quality.OverlapMs != want {
					t.Errorf("OverlapMs = %d, want %d", c.OverlapMs, want)
				}
				if c.Quality.Measured {
					t.Error("quality cannot be measured without mix audio")
				}
			}
		})
	}
}

func TestDetectBackToBackScenario(t *testing.T) {
	occs := []models.Occurrence{
		occ("songB", 182000, 360000, 0.7),
		occ("songA", 0, 180000, 0.9),
	}
	cands, _, err := newTestDetector(t).Detect(context.Background(), "mix-x", occs, nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected one candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.Prev.SongID != "songA" || c.Next.SongID != "songB" {
		t.Errorf("wrong order: %s -> %s", c.Prev.SongID, c.Next.SongID)
	}
	if c.GapMs != 2000 || c.OverlapMs != 0 {
		t.Errorf("gap=%d overlap=%d, want 2000 and 0", c.GapMs, c.OverlapMs)
	}
	if c.BoundaryMs() != 181000 {
		t.Errorf("BoundaryMs = %d, want 181000", c.BoundaryMs())
	}
	if c.Confidence() != 0.7 {
		t.Errorf("Confidence = %v, want the weaker side 0.7", c.Confidence())
	}
	if c.MixAssetHash != "mix-x" {
		t.Errorf("MixAssetHash = %q", c.MixAssetHash)
	}
	if occs[0].SongID != "songB" {
		t.Error("Detect must not reorder its input")
	}
}

func TestDetectDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		occs []models.Occurrence
		want models.DiagnosticKind
	}{
		{
			name: "self transition",
			occs: []models.Occurrence{occ("a", 0, 60000, 0.9), occ("a", 65000, 120000, 0.9)},
			want: models.DiagnosticSelfTransition,
		},
		{
			name: "ambiguous",
			occs: []models.Occurrence{occ("a", 10000, 60000, 0.9), occ("b", 11000, 70000, 0.9)},
			want: models.DiagnosticAmbiguousOverlap,
		},
		{
			name: "excess overlap",
			occs: []models.Occurrence{occ("a", 0, 120000, 0.9), occ("b", 60000, 180000, 0.9)},
			want: models.DiagnosticExcessOverlap,
		},
	}
	d := newTestDetector(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, diags, err := d.Detect(context.Background(), "mix", tt.occs, nil)
			if err != nil {
				t.Fatalf("Detect failed: %v", err)
			}
			if len(cands) != 0 {
				t.Errorf("expected no candidates, got %+v", cands)
			}
			if len(diags) != 1 || diags[0].Kind != tt.want {
				t.Errorf("expected one %s diagnostic, got %+v", tt.want, diags)
			}
		})
	}
}

func TestDetectChain(t *testing.T) {
	occs := []models.Occurrence{
		occ("a", 0, 60000, 0.9),
		occ("b", 61000, 120000, 0.9),
		occ("c", 118000, 180000, 0.9),
		occ("d", 300000, 360000, 0.9),
	}
	cands, _, err := newTestDetector(t).Detect(context.Background(), "mix", occs, nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	var pairs []string
	for _, c := range cands {
		pairs = append(pairs, c.Prev.SongID+c.Next.SongID)
	}
	if len(pairs) != 2 || pairs[0] != "ab" || pairs[1] != "bc" {
		t.Errorf("pairs = %v, want [ab bc]", pairs)
	}
}

func TestDetectMeasuresQuality(t *testing.T) {
	sr := testutil.SampleRate
	a := testutil.Song(1, 10000, sr)
	b := testutil.Song(2, 10000, sr)
	// one second of silence between the songs
	mix := testutil.Mix(0,
		testutil.Part{Samples: a, AtSample: 0},
		testutil.Part{Samples: b, AtSample: 11 * sr},
	)
	src := audio.NewBufferSource(&audio.Buffer{Samples: mix, SampleRate: sr, Channels: 1})

	occs := []models.Occurrence{occ("a", 0, 10000, 0.9), occ("b", 11000, 21000, 0.9)}
	cands, _, err := newTestDetector(t).Detect(context.Background(), "mix", occs, src)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected one candidate, got %d", len(cands))
	}
	q := cands[0].Quality
	if !q.Measured {
		t.Fatal("quality should be measured when mix audio is given")
	}
	if q.EnergyDipDB < 20 {
		t.Errorf("silent boundary should show a deep energy dip, got %.1f dB", q.EnergyDipDB)
	}
}

func TestDetectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	occs := []models.Occurrence{occ("a", 0, 1000, 1), occ("b", 1000, 2000, 1)}
	if _, _, err := newTestDetector(t).Detect(ctx, "mix", occs, nil); err == nil {
		t.Error("expected an error from a canceled context")
	}
}
