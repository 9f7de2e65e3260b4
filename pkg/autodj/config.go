package autodj

import (
	"os"
	"time"

	"github.com/judacas/AutoDJ/internal/clipsink"
	"github.com/judacas/AutoDJ/internal/pipeline"
	"github.com/judacas/AutoDJ/internal/storage"
)

type Config struct {
	DBPath             string
	FingerprintBackend string // "sqlite" or "badger"
	FingerprintPath    string // badger directory; empty keeps badger in memory
	TempDir            string
	SampleRate         int

	ClipDir        string
	S3             clipsink.S3Config
	ClipRate       float64 // uploads per second, 0 for unlimited
	SpectrogramDir string

	Workers     int
	MaxAttempts int
	UnitTimeout time.Duration

	GraphShards int
	Strict      bool

	MaxTransitionGapMs int64
	MinVotes           int

	Logger   Logger
	Sink     ClipSink
	Progress func(stage string, out Outcome)
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithBadgerFingerprints keeps fingerprints in a badger store at dir instead
// of the sqlite database.
func WithBadgerFingerprints(dir string) Option {
	return func(c *Config) {
		c.FingerprintBackend = storage.BackendBadger
		c.FingerprintPath = dir
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithClipDir writes transition clips below dir.
func WithClipDir(dir string) Option {
	return func(c *Config) {
		c.ClipDir = dir
	}
}

// WithS3Clips uploads transition clips to a bucket. It wins over WithClipDir.
func WithS3Clips(cfg clipsink.S3Config) Option {
	return func(c *Config) {
		c.S3 = cfg
	}
}

func WithClipRate(perSecond float64) Option {
	return func(c *Config) {
		c.ClipRate = perSecond
	}
}

func WithClipSink(sink ClipSink) Option {
	return func(c *Config) {
		c.Sink = sink
	}
}

func WithSpectrogramDir(dir string) Option {
	return func(c *Config) {
		c.SpectrogramDir = dir
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithRetries(maxAttempts int, unitTimeout time.Duration) Option {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.UnitTimeout = unitTimeout
	}
}

func WithGraphShards(n int) Option {
	return func(c *Config) {
		c.GraphShards = n
	}
}

// WithStrict rejects transitions whose songs were never added with metadata.
func WithStrict(strict bool) Option {
	return func(c *Config) {
		c.Strict = strict
	}
}

func WithMaxTransitionGap(ms int64) Option {
	return func(c *Config) {
		c.MaxTransitionGapMs = ms
	}
}

func WithMinVotes(n int) Option {
	return func(c *Config) {
		c.MinVotes = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithProgress reports every finished unit of a Run.
func WithProgress(fn func(stage string, out Outcome)) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

func defaultConfig() *Config {
	p := pipeline.DefaultConfig()
	return &Config{
		DBPath:             "autodj.sqlite3",
		FingerprintBackend: storage.BackendSQLite,
		TempDir:            os.TempDir(),
		SampleRate:         p.Fingerprint.SampleRate,
		Workers:            p.Worker.Workers,
		MaxAttempts:        p.Worker.MaxAttempts,
		UnitTimeout:        p.Worker.UnitTimeout,
		GraphShards:        16,
		MaxTransitionGapMs: p.Detector.MaxTransitionGapMs,
		MinVotes:           p.Recognition.MinVotes,
	}
}

// pipelineConfig maps the flat service options onto the component configs.
func (c *Config) pipelineConfig() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.Fingerprint.SampleRate = c.SampleRate
	p.Recognition.MinVotes = c.MinVotes
	p.Detector.MaxTransitionGapMs = c.MaxTransitionGapMs
	p.Worker.Workers = c.Workers
	p.Worker.MaxAttempts = c.MaxAttempts
	p.Worker.UnitTimeout = c.UnitTimeout
	p.TempDir = c.TempDir
	p.SpectrogramDir = c.SpectrogramDir
	return p
}
