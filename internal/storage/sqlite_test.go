package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/dgraph-io/badger/v3"
	"github.com/judacas/AutoDJ/pkg/models"
)

// Helper function to create a temporary test database
func setupTestDB(t *testing.T) (*DBClient, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_autodj.sqlite3")
	t.Setenv("AUTODJ_DB_PATH", dbPath)

	client, err := NewDBClient()
	if err != nil {
		t.Fatalf("Failed to create test DB client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client, dbPath
}

func testAsset(hash string, origin models.Origin, songID string) models.AudioAsset {
	return models.AudioAsset{
		ContentHash: hash,
		Origin:      origin,
		SongID:      songID,
		SampleRate:  11025,
		Channels:    1,
		DurationMs:  180000,
		ByteSize:    4096,
		Checksum:    1<<63 + 12345, // high bit set on purpose
	}
}

func testFingerprint(hash string, n int) models.Fingerprint {
	lms := make([]models.Landmark, n)
	for i := range lms {
		lms[i] = models.Landmark{Hash: uint32(i*7919) & 0xffffff, AnchorMs: uint32(i * 23)}
	}
	return models.Fingerprint{AssetHash: hash, Landmarks: lms, Digest: 1<<63 + 99}
}

func TestNewDBClient(t *testing.T) {
	client, dbPath := setupTestDB(t)

	if client.DB == nil || client.db == nil {
		t.Fatal("Expected non-nil database handles")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", dbPath)
	}
}

func TestNewDBClientWithCustomPath(t *testing.T) {
	customPath := filepath.Join(t.TempDir(), "subdir", "custom.db")

	client, err := NewDBClientWithPath(customPath)
	if err != nil {
		t.Fatalf("Failed to create DB with custom path: %v", err)
	}
	defer client.Close()

	if _, err := os.Stat(customPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at custom path %s", customPath)
	}
}

func TestSaveAndLoadFingerprint(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()

	asset := testAsset("song-hash", models.OriginSong, "s1")
	fp := testFingerprint("song-hash", 1500) // more than one insert batch

	if err := client.SaveFingerprint(ctx, asset, fp); err != nil {
		t.Fatalf("SaveFingerprint failed: %v", err)
	}

	got, err := client.GetAsset(ctx, "song-hash")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if *got != asset {
		t.Errorf("asset round trip mismatch:\n got %+v\nwant %+v", *got, asset)
	}

	loaded, err := client.LoadFingerprint(ctx, "song-hash")
	if err != nil {
		t.Fatalf("LoadFingerprint failed: %v", err)
	}
	if loaded.Digest != fp.Digest || !slices.Equal(loaded.Landmarks, fp.Landmarks) {
		t.Errorf("fingerprint round trip mismatch: %d landmarks, digest %d", loaded.Len(), loaded.Digest)
	}
}

func TestSaveFingerprintIdempotentAndConflict(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()

	asset := testAsset("h", models.OriginMix, "")
	fp := testFingerprint("h", 10)
	if err := client.SaveFingerprint(ctx, asset, fp); err != nil {
		t.Fatal(err)
	}
	if err := client.SaveFingerprint(ctx, asset, fp); err != nil {
		t.Errorf("saving identical content again should be a no-op: %v", err)
	}

	var count int64
	client.DB.Model(&Landmark{}).Where("asset_hash = ?", "h").Count(&count)
	if count != 10 {
		t.Errorf("Expected 10 landmarks, found %d", count)
	}

	other := asset
	other.ByteSize++
	if err := client.SaveFingerprint(ctx, other, testFingerprint("h", 3)); !errors.Is(err, models.ErrFingerprintStoreConflict) {
		t.Errorf("expected ErrFingerprintStoreConflict, got %v", err)
	}
	client.DB.Model(&Landmark{}).Where("asset_hash = ?", "h").Count(&count)
	if count != 10 {
		t.Error("conflicting save must not touch stored landmarks")
	}
}

func TestGetAssetNotFound(t *testing.T) {
	client, _ := setupTestDB(t)
	if _, err := client.GetAsset(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.LoadFingerprint(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndDeleteAssets(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()

	for _, a := range []models.AudioAsset{
		testAsset("s1", models.OriginSong, "one"),
		testAsset("s2", models.OriginSong, "two"),
		testAsset("m1", models.OriginMix, ""),
	} {
		if err := client.SaveFingerprint(ctx, a, testFingerprint(a.ContentHash, 5)); err != nil {
			t.Fatal(err)
		}
	}

	songs, err := client.ListAssets(ctx, models.OriginSong)
	if err != nil {
		t.Fatalf("ListAssets failed: %v", err)
	}
	if len(songs) != 2 {
		t.Errorf("expected 2 songs, got %d", len(songs))
	}
	all, _ := client.ListAssets(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 assets, got %d", len(all))
	}

	if err := client.DeleteAsset(ctx, "s1"); err != nil {
		t.Fatalf("DeleteAsset failed: %v", err)
	}
	var count int64
	client.DB.Model(&Landmark{}).Where("asset_hash = ?", "s1").Count(&count)
	if count != 0 {
		t.Errorf("Expected 0 landmarks after deletion, found %d", count)
	}
	if err := client.DeleteAsset(ctx, "s1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestGraphPersistence(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()

	if err := client.SaveSong(ctx, models.SongNode{SongID: "a", MetadataRef: "X - A", Attributes: map[string]string{"bpm": "124"}}); err != nil {
		t.Fatalf("SaveSong failed: %v", err)
	}
	if err := client.SaveSong(ctx, models.SongNode{SongID: "a", MetadataRef: "X - A (edit)"}); err != nil {
		t.Fatalf("SaveSong upsert failed: %v", err)
	}

	edges := []models.TransitionEdge{
		{From: "a", To: "b", MixAssetHash: "m", TimestampMs: 181000, Confidence: 0.7, Extra: map[string]string{"gap_ms": "2000"}},
		{From: "b", To: "c", MixAssetHash: "m", TimestampMs: 360000, Confidence: 0.6},
	}
	nodes := []models.SongNode{{SongID: "b"}, {SongID: "c"}}
	if err := client.CommitTransitions(ctx, nodes, edges); err != nil {
		t.Fatalf("CommitTransitions failed: %v", err)
	}
	// replaying the same commit is harmless
	if err := client.CommitTransitions(ctx, nodes, edges); err != nil {
		t.Fatalf("replayed CommitTransitions failed: %v", err)
	}

	gotNodes, gotEdges, err := client.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph failed: %v", err)
	}
	if len(gotNodes) != 3 || gotNodes[0].MetadataRef != "X - A (edit)" {
		t.Errorf("unexpected nodes %+v", gotNodes)
	}
	if len(gotEdges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(gotEdges))
	}
	if gotEdges[0].Key() != edges[0].Key() || gotEdges[0].Extra["gap_ms"] != "2000" {
		t.Errorf("edge round trip mismatch: %+v", gotEdges[0])
	}

	if err := client.DeleteTransition(ctx, edges[0].Key()); err != nil {
		t.Fatalf("DeleteTransition failed: %v", err)
	}
	_, gotEdges, _ = client.LoadGraph(ctx)
	if len(gotEdges) != 1 || gotEdges[0].From != "b" {
		t.Errorf("after delete: %+v", gotEdges)
	}
}

func TestOccurrences(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()

	occs := []models.Occurrence{
		{SongID: "b", StartMs: 182000, EndMs: 360000, Confidence: 0.7, Votes: 900},
		{SongID: "a", StartMs: 0, EndMs: 180000, Confidence: 0.9, Votes: 1200, LowConfidence: false},
	}
	if err := client.SaveOccurrences(ctx, "run-1", "mix", occs); err != nil {
		t.Fatalf("SaveOccurrences failed: %v", err)
	}
	// a retried unit saves its run again
	if err := client.SaveOccurrences(ctx, "run-1", "mix", occs); err != nil {
		t.Fatalf("SaveOccurrences failed: %v", err)
	}
	if err := client.SaveOccurrences(ctx, "run-2", "mix", occs[:1]); err != nil {
		t.Fatalf("SaveOccurrences failed: %v", err)
	}

	got, err := client.ListOccurrences(ctx, "mix")
	if err != nil {
		t.Fatalf("ListOccurrences failed: %v", err)
	}
	if len(got) != 1 || got[0].SongID != "b" || got[0].MixAssetHash != "mix" {
		t.Errorf("latest run should be listed, got %+v", got)
	}

	first, err := client.ListRunOccurrences(ctx, "run-1", "mix")
	if err != nil {
		t.Fatalf("ListRunOccurrences failed: %v", err)
	}
	if len(first) != 2 || first[0].SongID != "a" || first[1].SongID != "b" {
		t.Errorf("earlier run must keep its records once, got %+v", first)
	}

	var total int64
	client.DB.Model(&OccurrenceRecord{}).Count(&total)
	if total != 3 {
		t.Errorf("expected 3 records across both runs, got %d", total)
	}

	none, err := client.ListOccurrences(ctx, "other")
	if err != nil || len(none) != 0 {
		t.Errorf("unknown mix = %+v, %v", none, err)
	}
	if err := client.SaveOccurrences(ctx, "", "mix", occs); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("missing run id: expected ErrInvalidInput, got %v", err)
	}
}

func TestTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"badger conflict", fmt.Errorf("commit: %w", badger.ErrConflict), true},
		{"deadline", os.ErrDeadlineExceeded, true},
		{"not found", fmt.Errorf("asset x: %w", models.ErrNotFound), false},
		{"constraint", errors.New("UNIQUE constraint failed: assets.content_hash"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := transient(tt.err)
			if got := errors.Is(err, models.ErrTransient); got != tt.want {
				t.Errorf("transient(%v) retryable = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("classification must keep the cause")
			}
		})
	}
	if transient(nil) != nil {
		t.Error("transient(nil) must be nil")
	}
}

func TestClose(t *testing.T) {
	client, err := NewDBClientWithPath(filepath.Join(t.TempDir(), "close_test.sqlite3"))
	if err != nil {
		t.Fatalf("Failed to create DB client: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Failed to close DB client: %v", err)
	}

	var nilClient *DBClient
	if err := nilClient.Close(); err != nil {
		t.Errorf("closing a nil client should be a no-op: %v", err)
	}
	if _, err := nilClient.GetAsset(context.Background(), "x"); err == nil {
		t.Error("nil client should report an error")
	}
}
