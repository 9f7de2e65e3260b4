package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/judacas/AutoDJ/pkg/models"
)

// Key layout:
//
//	a/<hash>                   JSON assetRecord, written last so it marks a complete fingerprint
//	f/<hash>/<digest>/<chunk>  packed landmarks, digest and chunk index big-endian
//
// Chunks are keyed by digest so two writers racing on one hash with
// different content never interleave their landmarks.
const (
	assetPrefix = "a/"
	landPrefix  = "f/"
	chunkSize   = 4096 // landmarks per value
)

type assetRecord struct {
	Asset     models.AudioAsset `json:"asset"`
	Digest    uint64            `json:"digest"`
	Landmarks int               `json:"landmarks"`
}

// BadgerStore is an embedded key-value fingerprint store. It suits large
// catalogs where sqlite row overhead per landmark hurts.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a store in dir, or an in-memory store when dir is empty.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func assetKey(hash string) []byte { return []byte(assetPrefix + hash) }

func chunkPrefix(hash string, digest uint64) []byte {
	k := binary.BigEndian.AppendUint64([]byte(landPrefix+hash+"/"), digest)
	return append(k, '/')
}

func chunkKey(hash string, digest uint64, idx int) []byte {
	return binary.BigEndian.AppendUint32(chunkPrefix(hash, digest), uint32(idx))
}

func (s *BadgerStore) record(txn *badger.Txn, hash string) (*assetRecord, error) {
	item, err := txn.Get(assetKey(hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("asset %s: %w", hash, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec assetRecord
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return nil, fmt.Errorf("decoding asset %s: %w", hash, err)
	}
	return &rec, nil
}

func (s *BadgerStore) GetAsset(ctx context.Context, contentHash string) (*models.AudioAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *models.AudioAsset
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.record(txn, contentHash)
		if err != nil {
			return err
		}
		out = &rec.Asset
		return nil
	})
	return out, transient(err)
}

func (s *BadgerStore) LoadFingerprint(ctx context.Context, contentHash string) (*models.Fingerprint, error) {
	fp := &models.Fingerprint{AssetHash: contentHash}
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.record(txn, contentHash)
		if err != nil {
			return err
		}
		fp.Digest = rec.Digest
		fp.Landmarks = make([]models.Landmark, 0, rec.Landmarks)

		prefix := chunkPrefix(contentHash, rec.Digest)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 16, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				if len(val)%8 != 0 {
					return fmt.Errorf("corrupt landmark chunk of %d bytes", len(val))
				}
				for i := 0; i < len(val); i += 8 {
					fp.Landmarks = append(fp.Landmarks, models.Landmark{
						Hash:     binary.BigEndian.Uint32(val[i:]),
						AnchorMs: binary.BigEndian.Uint32(val[i+4:]),
					})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		if len(fp.Landmarks) != rec.Landmarks {
			return fmt.Errorf("asset %s: expected %d landmarks, found %d", contentHash, rec.Landmarks, len(fp.Landmarks))
		}
		return nil
	})
	if err != nil {
		return nil, transient(err)
	}
	return fp, nil
}

// SaveFingerprint writes landmark chunks first and the asset record last, so
// a reader that finds the asset finds every landmark. The record is written
// in the transaction that checks for it; a writer that lost a race gets
// ErrFingerprintStoreConflict, or ErrTransient when badger saw the race first.
func (s *BadgerStore) SaveFingerprint(ctx context.Context, asset models.AudioAsset, fp models.Fingerprint) error {
	existing, err := s.GetAsset(ctx, asset.ContentHash)
	switch {
	case err == nil:
		if existing.SameContent(asset) {
			return nil
		}
		return fmt.Errorf("%w: %s", models.ErrFingerprintStoreConflict, asset.ContentHash)
	case !errors.Is(err, models.ErrNotFound):
		return err
	}

	if err := s.writeChunks(asset.ContentHash, fp); err != nil {
		return transient(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := json.Marshal(assetRecord{Asset: asset, Digest: fp.Digest, Landmarks: fp.Len()})
	if err != nil {
		return err
	}
	var winner *assetRecord
	err = s.db.Update(func(txn *badger.Txn) error {
		prev, err := s.record(txn, asset.ContentHash)
		switch {
		case err == nil:
			winner = prev
			if prev.Asset.SameContent(asset) {
				return nil
			}
			return fmt.Errorf("%w: %s", models.ErrFingerprintStoreConflict, asset.ContentHash)
		case !errors.Is(err, models.ErrNotFound):
			return err
		}
		return txn.Set(assetKey(asset.ContentHash), rec)
	})
	if winner != nil && winner.Digest != fp.Digest {
		s.dropChunks(asset.ContentHash, fp)
	}
	return transient(err)
}

func (s *BadgerStore) writeChunks(hash string, fp models.Fingerprint) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for idx, start := 0, 0; start < len(fp.Landmarks); idx, start = idx+1, start+chunkSize {
		end := min(start+chunkSize, len(fp.Landmarks))
		val := make([]byte, 0, (end-start)*8)
		for _, lm := range fp.Landmarks[start:end] {
			val = binary.BigEndian.AppendUint32(val, lm.Hash)
			val = binary.BigEndian.AppendUint32(val, lm.AnchorMs)
		}
		if err := wb.Set(chunkKey(hash, fp.Digest, idx), val); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("writing landmarks: %w", err)
	}
	return nil
}

// dropChunks removes the landmarks of a write that lost to different content.
// Failing to remove them only leaves unreachable keys.
func (s *BadgerStore) dropChunks(hash string, fp models.Fingerprint) {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for idx, start := 0, 0; start < len(fp.Landmarks); idx, start = idx+1, start+chunkSize {
		if wb.Delete(chunkKey(hash, fp.Digest, idx)) != nil {
			return
		}
	}
	wb.Flush()
}

func (s *BadgerStore) ListAssets(ctx context.Context, origin models.Origin) ([]models.AudioAsset, error) {
	var out []models.AudioAsset
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(assetPrefix)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec assetRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			if origin == "" || rec.Asset.Origin == origin {
				out = append(out, rec.Asset)
			}
		}
		return nil
	})
	return out, transient(err)
}
