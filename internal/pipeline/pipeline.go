// Package pipeline wires indexing, recognition, detection, extraction and the
// transition graph into units of work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/judacas/AutoDJ/internal/clipsink"
	"github.com/judacas/AutoDJ/internal/fingerprint"
	"github.com/judacas/AutoDJ/internal/graph"
	"github.com/judacas/AutoDJ/internal/recognition"
	"github.com/judacas/AutoDJ/internal/transition"
	"github.com/judacas/AutoDJ/internal/worker"
	"github.com/judacas/AutoDJ/pkg/logger"
	"github.com/judacas/AutoDJ/pkg/models"
)

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Store is the fingerprint store the pipeline indexes into.
type Store interface {
	fingerprint.Store
	ListAssets(ctx context.Context, origin models.Origin) ([]models.AudioAsset, error)
}

// OccurrenceRecorder keeps recognition output for later inspection.
type OccurrenceRecorder interface {
	SaveOccurrences(ctx context.Context, runID, mixHash string, occs []models.Occurrence) error
}

type Config struct {
	Fingerprint fingerprint.Config
	Recognition recognition.Config
	Detector    transition.DetectorConfig
	Extractor   transition.ExtractorConfig
	Worker      worker.Config
	TempDir     string

	// SpectrogramDir, when set, receives a PNG per extracted clip.
	SpectrogramDir string
}

func DefaultConfig() Config {
	return Config{
		Fingerprint: fingerprint.DefaultConfig(),
		Recognition: recognition.DefaultConfig(),
		Detector:    transition.DefaultDetectorConfig(),
		Extractor:   transition.DefaultExtractorConfig(),
		Worker:      worker.DefaultConfig(),
		TempDir:     os.TempDir(),
	}
}

// Deps are the collaborators a pipeline writes to. Store and Graph are
// required; the rest are optional.
type Deps struct {
	Store       Store
	Graph       *graph.Graph
	Sink        clipsink.Sink
	Occurrences OccurrenceRecorder
	Library     *audio.Library

	// Progress, when set, is called from worker goroutines as each unit of
	// a Run finishes. stage is "index" or "mix".
	Progress func(stage string, out worker.Outcome)
}

type Pipeline struct {
	cfg  Config
	deps Deps
	log  Logger

	indexer    *fingerprint.Indexer
	catalog    *recognition.Catalog
	recognizer *recognition.Recognizer
	detector   *transition.Detector
	extractor  *transition.Extractor
	library    *audio.Library

	// newQueue builds the queue a Run submits to.
	newQueue func(ctx context.Context, stage string) (worker.Queue, error)
}

func New(cfg Config, deps Deps, log Logger) (*Pipeline, error) {
	if deps.Store == nil || deps.Graph == nil {
		return nil, errors.New("pipeline: store and graph are required")
	}
	if log == nil {
		return nil, errors.New("pipeline: nil logger")
	}
	indexer, err := fingerprint.NewIndexer(cfg.Fingerprint, deps.Store, componentLogger(log, "index"))
	if err != nil {
		return nil, err
	}
	recognizer, err := recognition.NewRecognizer(cfg.Recognition, componentLogger(log, "recognize"))
	if err != nil {
		return nil, err
	}
	detector, err := transition.NewDetector(cfg.Detector, componentLogger(log, "detect"))
	if err != nil {
		return nil, err
	}
	extractor, err := transition.NewExtractor(cfg.Extractor, componentLogger(log, "extract"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Worker.Validate(); err != nil {
		return nil, err
	}

	lib := deps.Library
	if lib == nil {
		lib = audio.NewLibrary(audio.LoadConfig{SampleRate: cfg.Fingerprint.SampleRate, TempDir: cfg.TempDir})
	}

	p := &Pipeline{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		indexer:    indexer,
		catalog:    recognition.NewCatalog(),
		recognizer: recognizer,
		detector:   detector,
		extractor:  extractor,
		library:    lib,
	}
	p.newQueue = func(ctx context.Context, stage string) (worker.Queue, error) {
		pool, err := worker.NewLocalPool(ctx, cfg.Worker)
		if err != nil {
			return nil, err
		}
		if deps.Progress != nil {
			pool.OnOutcome = func(out worker.Outcome) { deps.Progress(stage, out) }
		}
		return pool, nil
	}
	return p, nil
}

// componentLogger tags a component's lines when log supports prefixes.
func componentLogger(log Logger, name string) Logger {
	if l, ok := log.(*logger.Logger); ok {
		return l.WithPrefix("[" + name + "]")
	}
	return log
}

func (p *Pipeline) Catalog() *recognition.Catalog { return p.catalog }
func (p *Pipeline) Graph() *graph.Graph           { return p.deps.Graph }
func (p *Pipeline) Library() *audio.Library       { return p.library }

func (p *Pipeline) loadConfig() audio.LoadConfig {
	return audio.LoadConfig{SampleRate: p.cfg.Fingerprint.SampleRate, TempDir: p.cfg.TempDir}
}

// decoded is an input read once: raw bytes for identity and the lazily
// decoded buffer for analysis.
type decoded struct {
	in    models.AssetInput
	asset models.AudioAsset
	buf   *audio.Buffer
}

func (p *Pipeline) open(in models.AssetInput) (*decoded, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	data := in.Data
	if in.Path != "" {
		raw, err := os.ReadFile(in.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: reading %s: %w", models.ErrInvalidInput, in.Label(), err)
		case err != nil:
			return nil, fmt.Errorf("%w: reading %s: %w", models.ErrTransient, in.Label(), err)
		}
		data = raw
	}
	asset := audio.Identify(data, in.Origin, in.SongID)
	if in.Path != "" {
		asset.SourcePath, _ = filepath.Abs(in.Path)
	}
	return &decoded{in: in, asset: asset}, nil
}

func (p *Pipeline) decode(ctx context.Context, d *decoded) (*audio.Buffer, error) {
	if d.buf != nil {
		return d.buf, nil
	}
	var (
		buf *audio.Buffer
		err error
	)
	if d.in.Path != "" {
		buf, err = audio.LoadFile(ctx, d.in.Path, p.loadConfig())
	} else {
		buf, err = audio.LoadBytes(d.in.Data, p.loadConfig())
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", d.in.Label(), err)
	}
	d.buf = buf
	d.asset.Channels = buf.Channels
	return buf, nil
}

func (p *Pipeline) index(ctx context.Context, d *decoded) (*fingerprint.Result, error) {
	return p.indexer.Index(ctx, d.asset, func(ctx context.Context) ([]float64, int, error) {
		buf, err := p.decode(ctx, d)
		if err != nil {
			return nil, 0, err
		}
		return buf.Samples, buf.SampleRate, nil
	})
}

// IndexSong fingerprints one song, publishes it to the catalog and adds it to
// the graph. Its clean audio is remembered for clip extraction.
func (p *Pipeline) IndexSong(ctx context.Context, in models.AssetInput) (*fingerprint.Result, error) {
	res, entry, err := p.indexSong(ctx, in)
	if err != nil {
		return nil, err
	}
	p.publish(entry)
	return res, nil
}

// indexSong does everything IndexSong does except publishing, so a Run can
// publish its whole index stage as one snapshot.
func (p *Pipeline) indexSong(ctx context.Context, in models.AssetInput) (*fingerprint.Result, recognition.Entry, error) {
	if in.Origin != models.OriginSong {
		return nil, recognition.Entry{}, fmt.Errorf("%w: %s is not a song", models.ErrInvalidInput, in.Label())
	}
	d, err := p.open(in)
	if err != nil {
		return nil, recognition.Entry{}, err
	}
	res, err := p.index(ctx, d)
	if err != nil {
		return nil, recognition.Entry{}, err
	}

	node := models.SongNode{
		SongID:      in.SongID,
		MetadataRef: in.MetadataRef,
		DurationMs:  res.Asset.DurationMs,
		Attributes:  in.Attributes,
	}
	if err := p.deps.Graph.AddSong(ctx, node); err != nil {
		return nil, recognition.Entry{}, fmt.Errorf("adding song %s: %w", in.SongID, err)
	}

	switch {
	case in.Path != "":
		p.library.RegisterPath(in.SongID, in.Path)
	case d.buf != nil:
		p.library.RegisterBuffer(in.SongID, d.buf)
	default:
		buf, err := p.decode(ctx, d)
		if err != nil {
			return nil, recognition.Entry{}, err
		}
		p.library.RegisterBuffer(in.SongID, buf)
	}

	return res, recognition.Entry{
		SongID:      in.SongID,
		DurationMs:  res.Asset.DurationMs,
		Fingerprint: res.Fingerprint,
	}, nil
}

// publish makes entries visible to recognition in a single snapshot.
func (p *Pipeline) publish(entries ...recognition.Entry) *recognition.Snapshot {
	snap := p.catalog.Publish(entries...)
	catalogSongs.Set(float64(snap.Songs()))
	return snap
}

// ProcessMix recognizes, detects, extracts and commits the transitions of one
// mix. Candidate level failures are counted in the summary and do not fail
// the mix. Edges become visible only after every clip is written.
func (p *Pipeline) ProcessMix(ctx context.Context, runID string, in models.AssetInput) (*MixSummary, error) {
	if in.Origin != models.OriginMix {
		return nil, fmt.Errorf("%w: %s is not a mix", models.ErrInvalidInput, in.Label())
	}
	d, err := p.open(in)
	if err != nil {
		return nil, err
	}
	// the mix is needed for quality metrics and slicing even when already indexed
	buf, err := p.decode(ctx, d)
	if err != nil {
		return nil, err
	}
	res, err := p.index(ctx, d)
	if err != nil {
		return nil, err
	}
	mix := res.Asset
	summary := &MixSummary{MixAssetHash: mix.ContentHash, Label: in.Label(), DurationMs: mix.DurationMs}

	snap := p.catalog.Snapshot()
	occs, err := p.recognizer.Recognize(ctx, mix, res.Fingerprint, snap)
	if err != nil {
		return nil, fmt.Errorf("recognizing %s: %w", in.Label(), err)
	}
	occurrencesTotal.Add(float64(len(occs)))
	summary.Occurrences = len(occs)
	for _, o := range occs {
		if !slices.Contains(summary.SongsRecognized, o.SongID) {
			summary.SongsRecognized = append(summary.SongsRecognized, o.SongID)
		}
	}
	if len(occs) == 0 {
		p.log.Warnf("no catalog song recognized in %s (catalog v%d, %d songs)", in.Label(), snap.Version(), snap.Songs())
	}
	if p.deps.Occurrences != nil {
		if err := p.deps.Occurrences.SaveOccurrences(ctx, runID, mix.ContentHash, occs); err != nil {
			return nil, fmt.Errorf("recording occurrences: %w", err)
		}
	}

	mixSrc := audio.NewBufferSource(buf)
	cands, diags, err := p.detector.Detect(ctx, mix.ContentHash, occs, mixSrc)
	if err != nil {
		return nil, fmt.Errorf("detecting transitions: %w", err)
	}
	summary.TransitionsFound = len(cands)
	for _, dg := range diags {
		if summary.Diagnostics == nil {
			summary.Diagnostics = make(map[models.DiagnosticKind]int)
		}
		summary.Diagnostics[dg.Kind]++
	}

	clips := make([]*models.TransitionClip, len(cands))
	for i, c := range cands {
		clip, err := p.extract(ctx, c, mixSrc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.log.Warnf("skipping %s -> %s at %dms: %v", c.Prev.SongID, c.Next.SongID, c.BoundaryMs(), err)
			summary.countError(err)
			transitionsTotal.WithLabelValues("failed").Inc()
			continue
		}
		clips[i] = clip
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	edges := make([]models.TransitionEdge, 0, len(cands))
	for i, c := range cands {
		edge := models.TransitionEdge{
			From:         c.Prev.SongID,
			To:           c.Next.SongID,
			MixAssetHash: mix.ContentHash,
			TimestampMs:  c.BoundaryMs(),
			Confidence:   c.Confidence(),
			Extra: map[string]string{
				"gap_ms":     strconv.FormatInt(c.GapMs, 10),
				"overlap_ms": strconv.FormatInt(c.OverlapMs, 10),
			},
		}
		if c.Quality.Measured {
			edge.Extra["energy_dip_db"] = strconv.FormatFloat(c.Quality.EnergyDipDB, 'f', 2, 64)
			edge.Extra["flux_spike_z"] = strconv.FormatFloat(c.Quality.FluxSpikeZ, 'f', 2, 64)
		}
		if clip := clips[i]; clip != nil {
			if clip.Meta.Degraded {
				edge.Extra["degraded"] = "true"
			}
			if p.deps.Sink != nil {
				stored, err := clipsink.WriteClip(ctx, p.deps.Sink, clip)
				if err != nil {
					// a clip that cannot be stored still leaves a valid observation
					p.log.Warnf("storing clip %s -> %s: %v", c.Prev.SongID, c.Next.SongID, err)
					summary.countError(err)
					transitionsTotal.WithLabelValues("unstored").Inc()
				} else {
					edge.Extra["clip"] = stored.AudioURI
					summary.Clips = append(summary.Clips, stored.AudioURI)
				}
			}
			summary.TransitionsExtracted++
			transitionsTotal.WithLabelValues("extracted").Inc()
		}
		edges = append(edges, edge)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	added, err := p.deps.Graph.AddTransitions(ctx, edges)
	if err != nil {
		return nil, fmt.Errorf("committing %d transitions: %w", len(edges), err)
	}
	summary.EdgesAdded = added

	p.log.Infof("mix %s: %d songs, %d transitions, %d clips, %d new edges",
		in.Label(), len(summary.SongsRecognized), summary.TransitionsFound, summary.TransitionsExtracted, added)
	return summary, nil
}

// RecognizeSong looks for one catalog song in a mix without touching the
// graph. It fails with ErrNoOccurrenceFound when the song is absent.
func (p *Pipeline) RecognizeSong(ctx context.Context, in models.AssetInput, songID string) ([]models.Occurrence, error) {
	if in.Origin != models.OriginMix {
		return nil, fmt.Errorf("%w: %s is not a mix", models.ErrInvalidInput, in.Label())
	}
	d, err := p.open(in)
	if err != nil {
		return nil, err
	}
	res, err := p.index(ctx, d)
	if err != nil {
		return nil, err
	}
	return p.recognizer.RecognizeSong(ctx, res.Asset, res.Fingerprint, p.catalog.Snapshot(), songID)
}

func (p *Pipeline) extract(ctx context.Context, c models.TransitionCandidate, mix audio.Source) (*models.TransitionClip, error) {
	prev := p.cleanSource(ctx, c.Prev.SongID)
	next := p.cleanSource(ctx, c.Next.SongID)
	clip, err := p.extractor.Extract(ctx, c, mix, prev, next)
	if err != nil {
		return nil, err
	}
	if p.cfg.SpectrogramDir != "" {
		name := clipsink.ClipKey(clip.Meta) + ".png"
		if err := transition.RenderSpectrogram(clip.Samples, clip.SampleRate, filepath.Join(p.cfg.SpectrogramDir, filepath.FromSlash(name))); err != nil {
			p.log.Warnf("rendering spectrogram: %v", err)
		}
	}
	return clip, nil
}

// cleanSource returns nil when the song's own audio is unavailable; the
// extractor then builds a degraded clip.
func (p *Pipeline) cleanSource(ctx context.Context, songID string) audio.Source {
	src, err := p.library.Open(ctx, songID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			p.log.Warnf("clean audio for %s unavailable: %v", songID, err)
		}
		return nil
	}
	return src
}

// Restore rebuilds the catalog from the fingerprint store and reloads the
// persisted graph.
func (p *Pipeline) Restore(ctx context.Context) error {
	assets, err := p.deps.Store.ListAssets(ctx, models.OriginSong)
	if err != nil {
		return fmt.Errorf("listing songs: %w", err)
	}
	entries := make([]recognition.Entry, 0, len(assets))
	for _, a := range assets {
		fp, err := p.deps.Store.LoadFingerprint(ctx, a.ContentHash)
		if err != nil {
			return fmt.Errorf("loading fingerprint of %s: %w", a.SongID, err)
		}
		entries = append(entries, recognition.Entry{SongID: a.SongID, DurationMs: a.DurationMs, Fingerprint: *fp})
		if a.SourcePath != "" && !p.library.Has(a.SongID) {
			p.library.RegisterPath(a.SongID, a.SourcePath)
		}
	}
	snap := p.publish(entries...)

	if err := p.deps.Graph.Restore(ctx); err != nil {
		return fmt.Errorf("restoring graph: %w", err)
	}
	p.log.Infof("restored catalog v%d with %d songs", snap.Version(), snap.Songs())
	return nil
}

// Run indexes every song, then processes every mix against the resulting
// catalog. The songs indexed by a Run are published as one snapshot once the
// index stage drains. Unit failures land in the report; Run itself only fails
// when the queue cannot be built.
func (p *Pipeline) Run(ctx context.Context, songs, mixes []models.AssetInput) (*RunReport, error) {
	report := newRunReport(uuid.NewString())
	p.log.Infof("run %s: %d songs, %d mixes", report.RunID, len(songs), len(mixes))

	indexed := &entryBatch{}
	units := make([]worker.Unit, 0, len(songs))
	for _, in := range songs {
		units = append(units, &IndexUnit{p: p, in: in, report: report, batch: indexed})
	}
	err := p.drain(ctx, "index", units, report)
	if entries := indexed.take(); len(entries) > 0 {
		snap := p.publish(entries...)
		p.log.Debugf("run %s: published catalog v%d with %d songs", report.RunID, snap.Version(), snap.Songs())
	}
	if err != nil {
		return nil, err
	}

	units = units[:0]
	for _, in := range mixes {
		units = append(units, &MixUnit{p: p, in: in, runID: report.RunID, report: report})
	}
	if err := p.drain(ctx, "mix", units, report); err != nil {
		return nil, err
	}

	report.Finished = time.Now()
	return report, nil
}

func (p *Pipeline) drain(ctx context.Context, kind string, units []worker.Unit, report *RunReport) error {
	if len(units) == 0 {
		return nil
	}
	q, err := p.newQueue(ctx, kind)
	if err != nil {
		return err
	}
	for _, u := range units {
		if err := q.Submit(u); err != nil {
			return err
		}
	}
	for _, out := range q.Wait() {
		unitsTotal.WithLabelValues(kind, kindLabel(out.Kind)).Inc()
		unitDuration.WithLabelValues(kind).Observe(out.Duration.Seconds())
		if out.Err != nil {
			p.log.Errorf("%s unit %s failed after %d attempt(s): %v", kind, out.Key, out.Attempts, out.Err)
			report.fail(out.Key, out.Err)
		}
	}
	return nil
}
