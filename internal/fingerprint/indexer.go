package fingerprint

import (
	"context"
	"errors"
	"fmt"

	"github.com/judacas/AutoDJ/pkg/models"
)

// Store persists fingerprints keyed by asset content hash. SaveFingerprint
// must be all-or-nothing: a reader sees either the whole landmark set or none.
type Store interface {
	GetAsset(ctx context.Context, contentHash string) (*models.AudioAsset, error)
	LoadFingerprint(ctx context.Context, contentHash string) (*models.Fingerprint, error)
	SaveFingerprint(ctx context.Context, asset models.AudioAsset, fp models.Fingerprint) error
}

// Logger is the subset of the project logger the indexer needs.
type Logger interface {
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

// Samples decodes the asset on demand. It is only called when the asset is
// not already indexed.
type Samples func(ctx context.Context) (samples []float64, sampleRate int, err error)

// Result describes one Index call.
type Result struct {
	Asset       models.AudioAsset
	Fingerprint models.Fingerprint
	Reused      bool // an identical asset was already indexed
}

type Indexer struct {
	cfg   Config
	store Store
	log   Logger
}

func NewIndexer(cfg Config, store Store, log Logger) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("fingerprint: nil store")
	}
	return &Indexer{cfg: cfg, store: store, log: log}, nil
}

func (ix *Indexer) Config() Config { return ix.cfg }

// Index fingerprints asset, or returns the stored fingerprint when the same
// bytes were indexed before. A stored asset with the same content hash but a
// different size or checksum is reported as ErrFingerprintStoreConflict and
// left untouched.
func (ix *Indexer) Index(ctx context.Context, asset models.AudioAsset, load Samples) (*Result, error) {
	existing, err := ix.store.GetAsset(ctx, asset.ContentHash)
	switch {
	case err == nil:
		if !existing.SameContent(asset) {
			return nil, fmt.Errorf("%w: %s already stored with size %d", models.ErrFingerprintStoreConflict, asset.ContentHash, existing.ByteSize)
		}
		fp, err := ix.store.LoadFingerprint(ctx, asset.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("loading fingerprint %s: %w", asset.ContentHash, err)
		}
		ix.debugf("asset %s already indexed (%d landmarks)", existing, fp.Len())
		return &Result{Asset: *existing, Fingerprint: *fp, Reused: true}, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("looking up asset %s: %w", asset.ContentHash, err)
	}

	samples, sr, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if sr != ix.cfg.SampleRate {
		return nil, fmt.Errorf("%w: got %d Hz, fingerprinting expects %d Hz", models.ErrDecode, sr, ix.cfg.SampleRate)
	}

	var lms []models.Landmark
	if asset.Origin == models.OriginMix {
		lms, err = GenerateWindowed(ctx, samples, ix.cfg)
	} else {
		lms, err = Generate(samples, ix.cfg)
	}
	if err != nil {
		if errors.Is(err, ErrShortInput) {
			return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
		}
		return nil, err
	}

	asset.SampleRate = sr
	asset.DurationMs = int64(len(samples)) * 1000 / int64(sr)
	fp := NewFingerprint(asset.ContentHash, lms)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ix.store.SaveFingerprint(ctx, asset, fp); err != nil {
		return nil, fmt.Errorf("saving fingerprint %s: %w", asset.ContentHash, err)
	}

	if ix.log != nil {
		ix.log.Infof("indexed %s: %d landmarks over %dms", asset, fp.Len(), asset.DurationMs)
	}
	return &Result{Asset: asset, Fingerprint: fp}, nil
}

func (ix *Indexer) debugf(format string, args ...any) {
	if ix.log != nil {
		ix.log.Debugf(format, args...)
	}
}
