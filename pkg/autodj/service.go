package autodj

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/judacas/AutoDJ/internal/clipsink"
	"github.com/judacas/AutoDJ/internal/graph"
	"github.com/judacas/AutoDJ/internal/pipeline"
	"github.com/judacas/AutoDJ/internal/storage"
	"github.com/judacas/AutoDJ/pkg/logger"
	"github.com/judacas/AutoDJ/pkg/models"
)

// autodjService is the default implementation of the Service interface.
type autodjService struct {
	db       *storage.DBClient
	fps      storage.FingerprintStore
	graph    *graph.Graph
	pipeline *pipeline.Pipeline
	log      Logger
	config   *Config
}

// NewService opens the stores, reloads the catalog and graph they hold and
// returns a ready service.
func NewService(ctx context.Context, opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	// Set default logger if none provided
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	db, err := storage.NewDBClientWithPath(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	fps, err := storage.OpenFingerprintStore(cfg.FingerprintBackend, cfg.FingerprintPath, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open fingerprint store: %w", err)
	}

	sink, err := buildSink(cfg)
	if err != nil {
		fps.Close()
		db.Close()
		return nil, err
	}

	graphLog := cfg.Logger
	if l, ok := cfg.Logger.(*logger.Logger); ok {
		graphLog = l.WithPrefix("[graph]")
	}
	g := graph.New(
		graph.WithShards(cfg.GraphShards),
		graph.WithStrict(cfg.Strict),
		graph.WithPersister(db),
		graph.WithLogger(graphLog),
	)

	p, err := pipeline.New(cfg.pipelineConfig(), pipeline.Deps{
		Store:       fps,
		Graph:       g,
		Sink:        sink,
		Occurrences: db,
		Progress:    cfg.Progress,
	}, cfg.Logger)
	if err != nil {
		fps.Close()
		db.Close()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	if err := p.Restore(ctx); err != nil {
		fps.Close()
		db.Close()
		return nil, err
	}

	return &autodjService{db: db, fps: fps, graph: g, pipeline: p, log: cfg.Logger, config: cfg}, nil
}

func buildSink(cfg *Config) (clipsink.Sink, error) {
	var sink clipsink.Sink
	switch {
	case cfg.Sink != nil:
		sink = cfg.Sink
	case cfg.S3.Bucket != "":
		s3, err := clipsink.NewS3Sink(cfg.S3)
		if err != nil {
			return nil, err
		}
		sink = s3
	case cfg.ClipDir != "":
		local, err := clipsink.NewLocalSink(cfg.ClipDir)
		if err != nil {
			return nil, err
		}
		sink = local
	default:
		return nil, nil
	}
	return clipsink.NewThrottled(sink, cfg.ClipRate, 1), nil
}

// AddSong fingerprints a song file or buffer and adds it to the catalog.
func (s *autodjService) AddSong(ctx context.Context, in models.AssetInput) (models.AudioAsset, error) {
	s.log.Infof("Processing song: %s", in.Label())
	res, err := s.pipeline.IndexSong(ctx, in)
	if err != nil {
		return models.AudioAsset{}, err
	}
	return res.Asset, nil
}

func (s *autodjService) ProcessMix(ctx context.Context, in models.AssetInput) (*MixSummary, error) {
	return s.pipeline.ProcessMix(ctx, uuid.NewString(), in)
}

func (s *autodjService) Run(ctx context.Context, songs, mixes []models.AssetInput) (*RunReport, error) {
	return s.pipeline.Run(ctx, songs, mixes)
}

func (s *autodjService) RecognizeSong(ctx context.Context, mix models.AssetInput, songID string) ([]models.Occurrence, error) {
	return s.pipeline.RecognizeSong(ctx, mix, songID)
}

func (s *autodjService) Neighbors(songID string) []string {
	return s.graph.GetNeighbors(songID)
}

// OutEdges returns every observed transition out of songID at or above
// minConfidence.
func (s *autodjService) OutEdges(songID string, minConfidence float64) []models.TransitionEdge {
	if minConfidence <= 0 {
		return s.graph.GetOutEdges(songID)
	}
	return s.graph.OutEdgesAbove(songID, minConfidence)
}

func (s *autodjService) Song(songID string) (models.SongNode, bool) {
	return s.graph.GetSong(songID)
}

func (s *autodjService) Songs() []models.SongNode {
	return s.graph.Songs()
}

// LongestPath searches from start, or from every song when start is empty.
func (s *autodjService) LongestPath(start string, maxDepth int) ([]string, error) {
	if start == "" {
		return s.graph.LongestPathAny(maxDepth), nil
	}
	return s.graph.LongestPath(start, maxDepth)
}

func (s *autodjService) BeamPath(width, maxDepth int) []string {
	return s.graph.BeamLongestPath(width, maxDepth)
}

func (s *autodjService) RemoveTransition(ctx context.Context, key models.EdgeKey) error {
	return s.graph.RemoveTransition(ctx, key)
}

func (s *autodjService) Stats() GraphStats {
	return s.graph.Stats()
}

// Close releases all resources held by the service.
func (s *autodjService) Close() error {
	return errors.Join(s.fps.Close(), s.db.Close())
}
