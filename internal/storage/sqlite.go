package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/judacas/AutoDJ/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "autodj.sqlite3"
const errDBClientNil = "db client is nil"

// landmarkBatch is the insert batch size for landmark rows.
const landmarkBatch = 500

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Asset is a fingerprinted audio asset. Unsigned 64-bit values are stored as
// their int64 bit pattern because sqlite integers are signed.
type Asset struct {
	ContentHash string `gorm:"primaryKey;type:varchar(64)"`
	Origin      string `gorm:"index:idx_asset_origin"`
	SongID      string `gorm:"index:idx_asset_song"`
	SampleRate  int
	Channels    int
	DurationMs  int64
	ByteSize    int64
	Checksum    int64
	Digest      int64
	Landmarks   int
	SourcePath  string
	CreatedAt   time.Time
}

type Landmark struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AssetHash string `gorm:"type:varchar(64);index:idx_landmark_asset"`
	Hash      uint32 `gorm:"index:idx_landmark_hash"`
	AnchorMs  uint32
}

type SongNode struct {
	SongID      string `gorm:"primaryKey;type:varchar(128)"`
	MetadataRef string
	DurationMs  int64
	Attributes  string // JSON object
	UpdatedAt   time.Time
}

type TransitionEdge struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	FromSong    string `gorm:"uniqueIndex:idx_edge_identity,priority:1;index:idx_edge_from"`
	ToSong      string `gorm:"uniqueIndex:idx_edge_identity,priority:2"`
	MixAsset    string `gorm:"uniqueIndex:idx_edge_identity,priority:3"`
	TimestampMs int64  `gorm:"uniqueIndex:idx_edge_identity,priority:4"`
	Confidence  float64
	Extra       string // JSON object
	CreatedAt   time.Time
}

// OccurrenceRecord keeps recognition output around for inspection.
type OccurrenceRecord struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"type:varchar(36);index:idx_occ_run"`
	MixAsset      string `gorm:"index:idx_occ_mix"`
	SongID        string
	SongAsset     string
	StartMs       int64
	EndMs         int64
	AlignMs       int64
	Confidence    float64
	Votes         int
	Ambiguous     bool
	LowConfidence bool
	CreatedAt     time.Time
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("AUTODJ_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// sqlite serializes writers; one connection avoids SQLITE_BUSY between them.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Asset{}, &Landmark{}, &SongNode{}, &TransitionEdge{}, &OccurrenceRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *DBClient) check() error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return nil
}

func assetRow(a models.AudioAsset, fp models.Fingerprint) Asset {
	return Asset{
		ContentHash: a.ContentHash,
		Origin:      string(a.Origin),
		SongID:      a.SongID,
		SampleRate:  a.SampleRate,
		Channels:    a.Channels,
		DurationMs:  a.DurationMs,
		ByteSize:    a.ByteSize,
		Checksum:    int64(a.Checksum),
		Digest:      int64(fp.Digest),
		Landmarks:   fp.Len(),
		SourcePath:  a.SourcePath,
	}
}

func (r Asset) model() models.AudioAsset {
	return models.AudioAsset{
		ContentHash: r.ContentHash,
		Origin:      models.Origin(r.Origin),
		SongID:      r.SongID,
		SampleRate:  r.SampleRate,
		Channels:    r.Channels,
		DurationMs:  r.DurationMs,
		ByteSize:    r.ByteSize,
		Checksum:    uint64(r.Checksum),
		SourcePath:  r.SourcePath,
	}
}

func (c *DBClient) getAssetRow(tx *gorm.DB, contentHash string) (*Asset, error) {
	var row Asset
	err := tx.Where("content_hash = ?", contentHash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("asset %s: %w", contentHash, models.ErrNotFound)
	}
	if err != nil {
		return nil, transient(fmt.Errorf("querying asset %s: %w", contentHash, err))
	}
	return &row, nil
}

// GetAsset returns the stored asset or an error wrapping models.ErrNotFound.
func (c *DBClient) GetAsset(ctx context.Context, contentHash string) (*models.AudioAsset, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	row, err := c.getAssetRow(c.DB.WithContext(ctx), contentHash)
	if err != nil {
		return nil, err
	}
	a := row.model()
	return &a, nil
}

func (c *DBClient) LoadFingerprint(ctx context.Context, contentHash string) (*models.Fingerprint, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	db := c.DB.WithContext(ctx)
	row, err := c.getAssetRow(db, contentHash)
	if err != nil {
		return nil, err
	}

	var rows []Landmark
	if err := db.Where("asset_hash = ?", contentHash).Order("anchor_ms, hash").Find(&rows).Error; err != nil {
		return nil, transient(fmt.Errorf("querying landmarks: %w", err))
	}
	lms := make([]models.Landmark, len(rows))
	for i, r := range rows {
		lms[i] = models.Landmark{Hash: r.Hash, AnchorMs: r.AnchorMs}
	}
	return &models.Fingerprint{AssetHash: contentHash, Landmarks: lms, Digest: uint64(row.Digest)}, nil
}

// SaveFingerprint stores the asset and all of its landmarks in one
// transaction. Saving identical content again is a no-op; different content
// under the same hash is an ErrFingerprintStoreConflict.
func (c *DBClient) SaveFingerprint(ctx context.Context, asset models.AudioAsset, fp models.Fingerprint) error {
	if err := c.check(); err != nil {
		return err
	}
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := c.getAssetRow(tx, asset.ContentHash)
		switch {
		case err == nil:
			if existing.model().SameContent(asset) {
				return nil
			}
			return fmt.Errorf("%w: %s", models.ErrFingerprintStoreConflict, asset.ContentHash)
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		row := assetRow(asset, fp)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("creating asset: %w", err)
		}
		if len(fp.Landmarks) == 0 {
			return nil
		}
		entries := make([]Landmark, len(fp.Landmarks))
		for i, lm := range fp.Landmarks {
			entries[i] = Landmark{AssetHash: asset.ContentHash, Hash: lm.Hash, AnchorMs: lm.AnchorMs}
		}
		if err := tx.CreateInBatches(entries, landmarkBatch).Error; err != nil {
			return fmt.Errorf("batch insert landmarks: %w", err)
		}
		return nil
	})
	return transient(err)
}

// ListAssets returns stored assets of origin, or all assets when origin is empty.
func (c *DBClient) ListAssets(ctx context.Context, origin models.Origin) ([]models.AudioAsset, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	q := c.DB.WithContext(ctx).Order("created_at, content_hash")
	if origin != "" {
		q = q.Where("origin = ?", string(origin))
	}
	var rows []Asset
	if err := q.Find(&rows).Error; err != nil {
		return nil, transient(fmt.Errorf("listing assets: %w", err))
	}
	out := make([]models.AudioAsset, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// DeleteAsset removes an asset and its landmarks.
func (c *DBClient) DeleteAsset(ctx context.Context, contentHash string) error {
	if err := c.check(); err != nil {
		return err
	}
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset_hash = ?", contentHash).Delete(&Landmark{}).Error; err != nil {
			return err
		}
		res := tx.Where("content_hash = ?", contentHash).Delete(&Asset{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("asset %s: %w", contentHash, models.ErrNotFound)
		}
		return nil
	})
	return transient(err)
}

// --- graph persistence ---

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func decodeMap(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func songRow(n models.SongNode) SongNode {
	return SongNode{SongID: n.SongID, MetadataRef: n.MetadataRef, DurationMs: n.DurationMs, Attributes: encodeMap(n.Attributes)}
}

func edgeRow(e models.TransitionEdge) TransitionEdge {
	return TransitionEdge{
		ID:          uuid.NewString(),
		FromSong:    e.From,
		ToSong:      e.To,
		MixAsset:    e.MixAssetHash,
		TimestampMs: e.TimestampMs,
		Confidence:  e.Confidence,
		Extra:       encodeMap(e.Extra),
	}
}

// SaveSong upserts a graph node.
func (c *DBClient) SaveSong(ctx context.Context, n models.SongNode) error {
	if err := c.check(); err != nil {
		return err
	}
	row := songRow(n)
	err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "song_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"metadata_ref", "duration_ms", "attributes", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return transient(fmt.Errorf("saving song %s: %w", n.SongID, err))
	}
	return nil
}

// CommitTransitions writes nodes and edges in one transaction. Rows that
// already exist are left alone.
func (c *DBClient) CommitTransitions(ctx context.Context, nodes []models.SongNode, edges []models.TransitionEdge) error {
	if err := c.check(); err != nil {
		return err
	}
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, n := range nodes {
			row := songRow(n)
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("creating song %s: %w", n.SongID, err)
			}
		}
		if len(edges) == 0 {
			return nil
		}
		rows := make([]TransitionEdge, len(edges))
		for i, e := range edges {
			rows[i] = edgeRow(e)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, landmarkBatch).Error; err != nil {
			return fmt.Errorf("creating transitions: %w", err)
		}
		return nil
	})
	return transient(err)
}

func (c *DBClient) DeleteTransition(ctx context.Context, key models.EdgeKey) error {
	if err := c.check(); err != nil {
		return err
	}
	err := c.DB.WithContext(ctx).
		Where("from_song = ? AND to_song = ? AND mix_asset = ? AND timestamp_ms = ?", key.From, key.To, key.MixAssetID, key.TimestampMs).
		Delete(&TransitionEdge{}).Error
	if err != nil {
		return transient(fmt.Errorf("deleting transition: %w", err))
	}
	return nil
}

// LoadGraph returns every node and every edge in insertion order.
func (c *DBClient) LoadGraph(ctx context.Context) ([]models.SongNode, []models.TransitionEdge, error) {
	if err := c.check(); err != nil {
		return nil, nil, err
	}
	db := c.DB.WithContext(ctx)

	var songRows []SongNode
	if err := db.Order("song_id").Find(&songRows).Error; err != nil {
		return nil, nil, transient(fmt.Errorf("loading songs: %w", err))
	}
	nodes := make([]models.SongNode, len(songRows))
	for i, r := range songRows {
		attrs, err := decodeMap(r.Attributes)
		if err != nil {
			return nil, nil, fmt.Errorf("song %s attributes: %w", r.SongID, err)
		}
		nodes[i] = models.SongNode{SongID: r.SongID, MetadataRef: r.MetadataRef, DurationMs: r.DurationMs, Attributes: attrs}
	}

	var edgeRows []TransitionEdge
	if err := db.Order("rowid").Find(&edgeRows).Error; err != nil {
		return nil, nil, transient(fmt.Errorf("loading transitions: %w", err))
	}
	edges := make([]models.TransitionEdge, len(edgeRows))
	for i, r := range edgeRows {
		extra, err := decodeMap(r.Extra)
		if err != nil {
			return nil, nil, fmt.Errorf("transition %s extra: %w", r.ID, err)
		}
		edges[i] = models.TransitionEdge{
			From: r.FromSong, To: r.ToSong, MixAssetHash: r.MixAsset,
			TimestampMs: r.TimestampMs, Confidence: r.Confidence, Extra: extra,
		}
	}
	return nodes, edges, nil
}

// --- occurrences ---

// SaveOccurrences records what one run recognized in a mix. Records are
// append-only across runs; saving the same run and mix again replaces that
// run's rows, so a retried unit does not duplicate them.
func (c *DBClient) SaveOccurrences(ctx context.Context, runID, mixHash string, occs []models.Occurrence) error {
	if err := c.check(); err != nil {
		return err
	}
	if runID == "" {
		return fmt.Errorf("%w: occurrences need a run id", models.ErrInvalidInput)
	}
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ? AND mix_asset = ?", runID, mixHash).Delete(&OccurrenceRecord{}).Error; err != nil {
			return err
		}
		if len(occs) == 0 {
			return nil
		}
		rows := make([]OccurrenceRecord, len(occs))
		for i, o := range occs {
			rows[i] = OccurrenceRecord{
				RunID: runID, MixAsset: mixHash, SongID: o.SongID, SongAsset: o.SongAssetHash,
				StartMs: o.StartMs, EndMs: o.EndMs, AlignMs: o.AlignMs, Confidence: o.Confidence,
				Votes: o.Votes, Ambiguous: o.Ambiguous, LowConfidence: o.LowConfidence,
			}
		}
		return tx.CreateInBatches(rows, landmarkBatch).Error
	})
	return transient(err)
}

// ListOccurrences returns the occurrences the most recent run recorded for a
// mix.
func (c *DBClient) ListOccurrences(ctx context.Context, mixHash string) ([]models.Occurrence, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var latest OccurrenceRecord
	err := c.DB.WithContext(ctx).Where("mix_asset = ?", mixHash).Order("id DESC").Limit(1).Find(&latest).Error
	if err != nil {
		return nil, transient(fmt.Errorf("finding latest run: %w", err))
	}
	if latest.ID == 0 {
		return []models.Occurrence{}, nil
	}
	return c.ListRunOccurrences(ctx, latest.RunID, mixHash)
}

// ListRunOccurrences returns the occurrences one run recorded for a mix.
func (c *DBClient) ListRunOccurrences(ctx context.Context, runID, mixHash string) ([]models.Occurrence, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var rows []OccurrenceRecord
	err := c.DB.WithContext(ctx).Where("run_id = ? AND mix_asset = ?", runID, mixHash).Order("start_ms, song_id").Find(&rows).Error
	if err != nil {
		return nil, transient(fmt.Errorf("listing occurrences: %w", err))
	}
	out := make([]models.Occurrence, len(rows))
	for i, r := range rows {
		out[i] = models.Occurrence{
			SongID: r.SongID, SongAssetHash: r.SongAsset, MixAssetHash: r.MixAsset,
			StartMs: r.StartMs, EndMs: r.EndMs, AlignMs: r.AlignMs, Confidence: r.Confidence,
			Votes: r.Votes, Ambiguous: r.Ambiguous, LowConfidence: r.LowConfidence,
		}
	}
	return out, nil
}
