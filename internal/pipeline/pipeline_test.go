package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/judacas/AutoDJ/internal/clipsink"
	"github.com/judacas/AutoDJ/internal/fingerprint"
	"github.com/judacas/AutoDJ/internal/graph"
	"github.com/judacas/AutoDJ/internal/storage"
	"github.com/judacas/AutoDJ/internal/testutil"
	"github.com/judacas/AutoDJ/internal/worker"
	"github.com/judacas/AutoDJ/pkg/logger"
	"github.com/judacas/AutoDJ/pkg/models"
)

const sr = testutil.SampleRate

type env struct {
	dir   string
	db    *storage.DBClient
	graph *graph.Graph
	p     *Pipeline
}

func quietLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Output = io.Discard
	cfg.Level = logger.ERROR
	return logger.New(cfg)
}

// newEnv builds a pipeline over a sqlite database in dir, so a second env on
// the same dir sees what the first one persisted.
func newEnv(t *testing.T, dir string) *env {
	t.Helper()
	db, err := storage.NewDBClientWithPath(filepath.Join(dir, "autodj.sqlite3"))
	if err != nil {
		t.Fatalf("NewDBClientWithPath failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sink, err := clipsink.NewLocalSink(filepath.Join(dir, "clips"))
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New(graph.WithPersister(db))

	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.Worker.Workers = 2
	cfg.Worker.MaxAttempts = 1

	p, err := New(cfg, Deps{Store: db, Graph: g, Sink: sink, Occurrences: db}, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &env{dir: dir, db: db, graph: g, p: p}
}

func wavBytes(t *testing.T, samples []float64) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(samples, sr)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

type corpus struct {
	songs []models.AssetInput
	mix   models.AssetInput
}

// newCorpus renders songs "a" and "b" and a mix file where they play back to
// back with a two second gap around 24s.
func newCorpus(t *testing.T, dir string) corpus {
	t.Helper()
	hop := fingerprint.DefaultConfig().HopSize
	a := testutil.Song(1, 20000, sr)
	b := testutil.Song(2, 20000, sr)
	mix := testutil.Mix(48*sr,
		testutil.Part{Samples: a, AtSample: testutil.HopAligned(3000, sr, hop)},
		testutil.Part{Samples: b, AtSample: testutil.HopAligned(25000, sr, hop)},
	)

	mixPath := filepath.Join(dir, "set.wav")
	if err := os.WriteFile(mixPath, wavBytes(t, mix), 0o644); err != nil {
		t.Fatal(err)
	}
	return corpus{
		songs: []models.AssetInput{
			{Data: wavBytes(t, a), Name: "a.wav", Origin: models.OriginSong, SongID: "a", MetadataRef: "Artist - A"},
			{Data: wavBytes(t, b), Name: "b.wav", Origin: models.OriginSong, SongID: "b", MetadataRef: "Artist - B"},
		},
		mix: models.AssetInput{Path: mixPath, Origin: models.OriginMix},
	}
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	c := newCorpus(t, dir)
	ctx := context.Background()

	report, err := e.p.Run(ctx, c.songs, []models.AssetInput{c.mix})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", report.Failed)
	}
	if report.Indexed != 2 || len(report.Mixes) != 1 {
		t.Fatalf("indexed=%d mixes=%d", report.Indexed, len(report.Mixes))
	}
	if snap := e.p.Catalog().Snapshot(); snap.Version() != 1 || snap.Songs() != 2 {
		t.Errorf("index stage should publish one snapshot, got v%d with %d songs", snap.Version(), snap.Songs())
	}

	s := report.Mixes[0]
	if !slices.Equal(s.SongsRecognized, []string{"a", "b"}) {
		t.Errorf("songs recognized = %v", s.SongsRecognized)
	}
	if s.TransitionsFound != 1 || s.TransitionsExtracted != 1 || s.EdgesAdded != 1 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Clips) != 1 {
		t.Fatalf("expected one stored clip, got %v", s.Clips)
	}
	raw, err := os.ReadFile(s.Clips[0])
	if err != nil {
		t.Fatalf("clip not on disk: %v", err)
	}
	clip, err := audio.LoadBytes(raw, audio.LoadConfig{SampleRate: sr})
	if err != nil || len(clip.Samples) == 0 {
		t.Errorf("stored clip does not decode: %v", err)
	}

	if got := e.graph.GetNeighbors("a"); !slices.Equal(got, []string{"b"}) {
		t.Errorf("GetNeighbors(a) = %v", got)
	}
	edges := e.graph.GetOutEdges("a")
	if len(edges) != 1 {
		t.Fatalf("expected one edge, got %+v", edges)
	}
	if ts := edges[0].TimestampMs; ts < 23000 || ts > 25000 {
		t.Errorf("edge timestamp %dms not near the 24s boundary", ts)
	}
	if edges[0].Extra["clip"] != s.Clips[0] {
		t.Errorf("edge does not point at its clip: %v", edges[0].Extra)
	}
	if node, ok := e.graph.GetSong("a"); !ok || node.MetadataRef != "Artist - A" {
		t.Errorf("song node a = %+v, %v", node, ok)
	}

	occs, err := e.db.ListOccurrences(ctx, s.MixAssetHash)
	if err != nil || len(occs) != 2 {
		t.Errorf("recorded occurrences = %+v, %v", occs, err)
	}
	if !strings.Contains(report.String(), report.RunID) {
		t.Error("report text should name the run")
	}
}

func TestRunTwiceAddsNothing(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	c := newCorpus(t, dir)
	ctx := context.Background()

	if _, err := e.p.Run(ctx, c.songs, []models.AssetInput{c.mix}); err != nil {
		t.Fatal(err)
	}
	report, err := e.p.Run(ctx, c.songs, []models.AssetInput{c.mix})
	if err != nil {
		t.Fatal(err)
	}
	if report.Reused != 2 || report.Indexed != 0 {
		t.Errorf("second run should reuse fingerprints: indexed=%d reused=%d", report.Indexed, report.Reused)
	}
	if len(report.Mixes) != 1 || report.Mixes[0].EdgesAdded != 0 {
		t.Errorf("second run added edges: %+v", report.Mixes)
	}
	if st := e.graph.Stats(); st.Transitions != 1 {
		t.Errorf("expected 1 transition, got %d", st.Transitions)
	}
	if v := e.p.Catalog().Snapshot().Version(); v != 1 {
		t.Errorf("reindexing identical songs must not publish, catalog at v%d", v)
	}
}

func TestRunScopesFailures(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	c := newCorpus(t, dir)

	songs := append(slices.Clone(c.songs),
		models.AssetInput{Data: []byte("definitely not audio"), Name: "junk.wav", Origin: models.OriginSong, SongID: "junk"},
		models.AssetInput{Origin: models.OriginSong, SongID: "empty"},
	)
	report, err := e.p.Run(context.Background(), songs, []models.AssetInput{c.mix})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.FailureCount(models.KindDecode) != 1 {
		t.Errorf("decode failures = %d, want 1 (%v)", report.FailureCount(models.KindDecode), report.Failed)
	}
	if report.FailureCount(models.KindInvalidInput) != 1 {
		t.Errorf("invalid input failures = %d, want 1", report.FailureCount(models.KindInvalidInput))
	}
	if report.Indexed != 2 || len(report.Mixes) != 1 || report.Mixes[0].EdgesAdded != 1 {
		t.Errorf("siblings should be unaffected: indexed=%d mixes=%+v", report.Indexed, report.Mixes)
	}
	if _, ok := e.graph.GetSong("junk"); ok {
		t.Error("a failed song must not reach the graph")
	}
}

func TestProcessMixCanceled(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	c := newCorpus(t, dir)
	for _, s := range c.songs {
		if _, err := e.p.IndexSong(context.Background(), s); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.p.ProcessMix(ctx, "run", c.mix); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if st := e.graph.Stats(); st.Transitions != 0 {
		t.Errorf("canceled mix exposed %d edges", st.Transitions)
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	c := newCorpus(t, dir)
	first := newEnv(t, dir)
	if _, err := first.p.Run(context.Background(), c.songs, []models.AssetInput{c.mix}); err != nil {
		t.Fatal(err)
	}

	second := newEnv(t, dir)
	if err := second.p.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n := second.p.Catalog().Snapshot().Songs(); n != 2 {
		t.Errorf("restored catalog has %d songs, want 2", n)
	}
	if got := second.graph.GetNeighbors("a"); !slices.Equal(got, []string{"b"}) {
		t.Errorf("restored neighbors = %v", got)
	}

	summary, err := second.p.ProcessMix(context.Background(), "again", c.mix)
	if err != nil {
		t.Fatalf("ProcessMix after restore failed: %v", err)
	}
	if summary.EdgesAdded != 0 || summary.TransitionsFound != 1 {
		t.Errorf("summary after restore = %+v", summary)
	}
}

func TestRecognizeSong(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	c := newCorpus(t, dir)
	ctx := context.Background()
	for _, s := range c.songs {
		if _, err := e.p.IndexSong(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	occs, err := e.p.RecognizeSong(ctx, c.mix, "b")
	if err != nil {
		t.Fatalf("RecognizeSong failed: %v", err)
	}
	if len(occs) != 1 || occs[0].StartMs < 24800 || occs[0].StartMs > 25200 {
		t.Errorf("occurrences of b = %+v", occs)
	}
	if _, err := e.p.RecognizeSong(ctx, c.mix, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown song: expected ErrNotFound, got %v", err)
	}
	if st := e.graph.Stats(); st.Transitions != 0 {
		t.Error("RecognizeSong must not add edges")
	}
}

func TestOriginChecks(t *testing.T) {
	e := newEnv(t, t.TempDir())
	ctx := context.Background()
	if _, err := e.p.IndexSong(ctx, models.AssetInput{Data: []byte{1}, Origin: models.OriginMix}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("IndexSong(mix): expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.p.ProcessMix(ctx, "r", models.AssetInput{Data: []byte{1}, Origin: models.OriginSong, SongID: "x"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("ProcessMix(song): expected ErrInvalidInput, got %v", err)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}, quietLogger()); err == nil {
		t.Error("expected an error without store and graph")
	}
}

// flakyStore fails the first fingerprint save the way a busy database does.
type flakyStore struct {
	Store
	mu    sync.Mutex
	saves int
}

func (f *flakyStore) SaveFingerprint(ctx context.Context, asset models.AudioAsset, fp models.Fingerprint) error {
	f.mu.Lock()
	f.saves++
	first := f.saves == 1
	f.mu.Unlock()
	if first {
		return fmt.Errorf("%w: database is locked", models.ErrTransient)
	}
	return f.Store.SaveFingerprint(ctx, asset, fp)
}

type flakyRecorder struct {
	OccurrenceRecorder
	mu    sync.Mutex
	saves int
}

func (f *flakyRecorder) SaveOccurrences(ctx context.Context, runID, mixHash string, occs []models.Occurrence) error {
	f.mu.Lock()
	f.saves++
	first := f.saves == 1
	f.mu.Unlock()
	if first {
		return fmt.Errorf("%w: database is locked", models.ErrTransient)
	}
	return f.OccurrenceRecorder.SaveOccurrences(ctx, runID, mixHash, occs)
}

func TestRunRetriesTransientStoreFailures(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	c := newCorpus(t, dir)
	ctx := context.Background()

	store := &flakyStore{Store: e.db}
	rec := &flakyRecorder{OccurrenceRecorder: e.db}
	var (
		mu      sync.Mutex
		retried = map[string]int{}
	)
	cfg := e.p.cfg
	cfg.Worker.MaxAttempts = 2
	cfg.Worker.BaseBackoff = time.Millisecond
	p, err := New(cfg, Deps{
		Store:       store,
		Graph:       e.graph,
		Occurrences: rec,
		Progress: func(stage string, out worker.Outcome) {
			mu.Lock()
			defer mu.Unlock()
			if out.Attempts > 1 {
				retried[stage]++
			}
		},
	}, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	report, err := p.Run(ctx, c.songs, []models.AssetInput{c.mix})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("transient failures must be retried, got %v", report.Failed)
	}
	if report.Indexed != 2 || len(report.Mixes) != 1 || report.Mixes[0].EdgesAdded != 1 {
		t.Errorf("indexed=%d mixes=%+v", report.Indexed, report.Mixes)
	}
	if retried["index"] != 1 || retried["mix"] != 1 {
		t.Errorf("expected one retried unit per stage, got %v", retried)
	}
	occs, err := e.db.ListOccurrences(ctx, report.Mixes[0].MixAssetHash)
	if err != nil || len(occs) != 2 {
		t.Errorf("recorded occurrences = %+v, %v", occs, err)
	}
}

func TestComponentLogger(t *testing.T) {
	var buf strings.Builder
	cfg := logger.DefaultConfig()
	cfg.Output = &buf
	cfg.Colorize = false
	cfg.ShowTime = false
	base := logger.New(cfg)

	componentLogger(base, "detect").Infof("found %d", 3)
	if got := strings.TrimSpace(buf.String()); got != "[INFO] [detect] found 3" {
		t.Errorf("unexpected line %q", got)
	}

	var other Logger = &countingLogger{}
	if componentLogger(other, "detect") != other {
		t.Error("loggers without prefixes must be passed through")
	}
}

type countingLogger struct{ lines int }

func (c *countingLogger) Infof(string, ...any)  { c.lines++ }
func (c *countingLogger) Warnf(string, ...any)  { c.lines++ }
func (c *countingLogger) Errorf(string, ...any) { c.lines++ }
func (c *countingLogger) Debugf(string, ...any) { c.lines++ }
