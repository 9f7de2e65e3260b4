package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/judacas/AutoDJ/internal/storage"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DBPath != storage.DefaultDBFile {
		t.Errorf("DBPath = %q", cfg.Storage.DBPath)
	}
	if cfg.Storage.FingerprintBackend != storage.BackendSQLite {
		t.Errorf("FingerprintBackend = %q", cfg.Storage.FingerprintBackend)
	}
	if cfg.Worker.Workers != 4 || cfg.Worker.UnitTimeout != 10*time.Minute {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.Server.Port != "8080" || cfg.LogLevel != "info" {
		t.Errorf("Server = %+v, LogLevel = %q", cfg.Server, cfg.LogLevel)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := []byte(`
storage:
  db_path: from-yaml.sqlite3
  fingerprint_backend: badger
worker:
  workers: 8
  unit_timeout: 90s
graph:
  strict: true
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("AUTODJ_S3_BUCKET=clips\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUTODJ_WORKER_WORKERS", "2")
	t.Cleanup(func() { os.Unsetenv("AUTODJ_S3_BUCKET") })

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"yaml db path", cfg.Storage.DBPath, "from-yaml.sqlite3"},
		{"yaml backend", cfg.Storage.FingerprintBackend, storage.BackendBadger},
		{"env beats yaml", cfg.Worker.Workers, 2},
		{"yaml duration", cfg.Worker.UnitTimeout, 90 * time.Second},
		{"yaml bool", cfg.Graph.Strict, true},
		{"dotenv", cfg.S3.Bucket, "clips"},
		{"default kept", cfg.Graph.Shards, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	// db, worker settings, shards, strict, gap, votes, rate, badger, s3
	if got := len(cfg.ServiceOptions()); got != 11 {
		t.Errorf("ServiceOptions returned %d options", got)
	}
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("storage: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected an error for malformed config.yaml")
	}
}
