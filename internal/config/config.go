// Package config loads binary settings from .env, an optional config.yaml
// and AUTODJ_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/judacas/AutoDJ/internal/clipsink"
	"github.com/judacas/AutoDJ/internal/storage"
	"github.com/judacas/AutoDJ/pkg/autodj"
	"github.com/judacas/AutoDJ/pkg/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Storage struct {
		DBPath             string `mapstructure:"db_path"`
		FingerprintBackend string `mapstructure:"fingerprint_backend"`
		FingerprintPath    string `mapstructure:"fingerprint_path"`
		TempDir            string `mapstructure:"temp_dir"`
	} `mapstructure:"storage"`
	Clips struct {
		Dir            string  `mapstructure:"dir"`
		RatePerSecond  float64 `mapstructure:"rate_per_second"`
		SpectrogramDir string  `mapstructure:"spectrogram_dir"`
	} `mapstructure:"clips"`
	S3 struct {
		Bucket   string `mapstructure:"bucket"`
		Prefix   string `mapstructure:"prefix"`
		Endpoint string `mapstructure:"endpoint"`
		Region   string `mapstructure:"region"`
		KeyID    string `mapstructure:"key_id"`
		AppKey   string `mapstructure:"app_key"`
	} `mapstructure:"s3"`
	Worker struct {
		Workers     int           `mapstructure:"workers"`
		MaxAttempts int           `mapstructure:"max_attempts"`
		UnitTimeout time.Duration `mapstructure:"unit_timeout"`
	} `mapstructure:"worker"`
	Graph struct {
		Shards int  `mapstructure:"shards"`
		Strict bool `mapstructure:"strict"`
	} `mapstructure:"graph"`
	Detection struct {
		MaxTransitionGapMs int64 `mapstructure:"max_transition_gap_ms"`
		MinVotes           int   `mapstructure:"min_votes"`
	} `mapstructure:"detection"`
	Server struct {
		Port        string `mapstructure:"port"`
		MetricsPath string `mapstructure:"metrics_path"`
	} `mapstructure:"server"`
	LogLevel string `mapstructure:"log_level"`
}

var keys = []string{
	"storage.db_path", "storage.fingerprint_backend", "storage.fingerprint_path", "storage.temp_dir",
	"clips.dir", "clips.rate_per_second", "clips.spectrogram_dir",
	"s3.bucket", "s3.prefix", "s3.endpoint", "s3.region", "s3.key_id", "s3.app_key",
	"worker.workers", "worker.max_attempts", "worker.unit_timeout",
	"graph.shards", "graph.strict",
	"detection.max_transition_gap_ms", "detection.min_votes",
	"server.port", "server.metrics_path",
	"log_level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.db_path", storage.DefaultDBFile)
	v.SetDefault("storage.fingerprint_backend", storage.BackendSQLite)
	v.SetDefault("storage.temp_dir", os.TempDir())
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.unit_timeout", 10*time.Minute)
	v.SetDefault("graph.shards", 16)
	v.SetDefault("detection.max_transition_gap_ms", 30000)
	v.SetDefault("detection.min_votes", 20)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("log_level", "info")
}

// Load reads configuration. configDirs are searched for config.yaml; a
// missing file is not an error.
func Load(configDirs ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("AUTODJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		v.BindEnv(k)
	}
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(configDirs) == 0 {
		configDirs = []string{"."}
	}
	for _, dir := range configDirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// ServiceOptions turns the configuration into autodj options.
func (c *Config) ServiceOptions() []autodj.Option {
	opts := []autodj.Option{
		autodj.WithDBPath(c.Storage.DBPath),
		autodj.WithTempDir(c.Storage.TempDir),
		autodj.WithWorkers(c.Worker.Workers),
		autodj.WithRetries(c.Worker.MaxAttempts, c.Worker.UnitTimeout),
		autodj.WithGraphShards(c.Graph.Shards),
		autodj.WithStrict(c.Graph.Strict),
		autodj.WithMaxTransitionGap(c.Detection.MaxTransitionGapMs),
		autodj.WithMinVotes(c.Detection.MinVotes),
		autodj.WithClipRate(c.Clips.RatePerSecond),
	}
	if c.Storage.FingerprintBackend == storage.BackendBadger {
		opts = append(opts, autodj.WithBadgerFingerprints(c.Storage.FingerprintPath))
	}
	if c.Clips.Dir != "" {
		opts = append(opts, autodj.WithClipDir(c.Clips.Dir))
	}
	if c.S3.Bucket != "" {
		opts = append(opts, autodj.WithS3Clips(clipsink.S3Config{
			Bucket:   c.S3.Bucket,
			Prefix:   c.S3.Prefix,
			Endpoint: c.S3.Endpoint,
			Region:   c.S3.Region,
			KeyID:    c.S3.KeyID,
			AppKey:   c.S3.AppKey,
		}))
	}
	if c.Clips.SpectrogramDir != "" {
		opts = append(opts, autodj.WithSpectrogramDir(c.Clips.SpectrogramDir))
	}
	return opts
}

// NewLogger builds a logger at the configured level. Binaries log to stderr
// so command output stays pipeable.
func (c *Config) NewLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	if lvl, ok := logger.ParseLevel(c.LogLevel); ok {
		cfg.Level = lvl
	}
	cfg.Output = os.Stderr
	return logger.New(cfg)
}
