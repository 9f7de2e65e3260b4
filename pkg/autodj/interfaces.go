package autodj

import (
	"context"

	"github.com/judacas/AutoDJ/internal/graph"
	"github.com/judacas/AutoDJ/internal/pipeline"
	"github.com/judacas/AutoDJ/internal/worker"
	"github.com/judacas/AutoDJ/pkg/models"
)

type (
	RunReport  = pipeline.RunReport
	MixSummary = pipeline.MixSummary
	GraphStats = graph.Stats
	Outcome    = worker.Outcome
)

type Service interface {
	// AddSong fingerprints a song and makes it recognizable in mixes.
	AddSong(ctx context.Context, in models.AssetInput) (models.AudioAsset, error)
	// ProcessMix finds the transitions of one mix and records them.
	ProcessMix(ctx context.Context, in models.AssetInput) (*MixSummary, error)
	// Run indexes songs and then processes mixes on the worker pool.
	Run(ctx context.Context, songs, mixes []models.AssetInput) (*RunReport, error)
	RecognizeSong(ctx context.Context, mix models.AssetInput, songID string) ([]models.Occurrence, error)

	Neighbors(songID string) []string
	OutEdges(songID string, minConfidence float64) []models.TransitionEdge
	Song(songID string) (models.SongNode, bool)
	Songs() []models.SongNode
	LongestPath(start string, maxDepth int) ([]string, error)
	BeamPath(width, maxDepth int) []string
	RemoveTransition(ctx context.Context, key models.EdgeKey) error
	Stats() GraphStats

	Close() error
}

// ClipSink receives rendered clips and their metadata.
type ClipSink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
