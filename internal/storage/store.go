// Package storage persists fingerprints, the transition graph and recognition
// output.
package storage

import (
	"context"
	"fmt"

	"github.com/judacas/AutoDJ/internal/fingerprint"
	"github.com/judacas/AutoDJ/pkg/models"
)

// FingerprintStore is a fingerprint.Store that can enumerate its assets.
type FingerprintStore interface {
	fingerprint.Store
	ListAssets(ctx context.Context, origin models.Origin) ([]models.AudioAsset, error)
	Close() error
}

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// OpenFingerprintStore opens the named backend at path. The sqlite backend
// reuses db when it is non-nil.
func OpenFingerprintStore(backend, path string, db *DBClient) (FingerprintStore, error) {
	switch backend {
	case "", BackendSQLite:
		if db != nil {
			return nopCloser{db}, nil
		}
		return NewDBClientWithPath(path)
	case BackendBadger:
		return OpenBadger(path)
	default:
		return nil, fmt.Errorf("%w: unknown fingerprint store %q", models.ErrInvalidInput, backend)
	}
}

// nopCloser shares a DBClient whose lifetime is owned elsewhere.
type nopCloser struct{ *DBClient }

func (nopCloser) Close() error { return nil }
