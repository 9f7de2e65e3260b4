package main

import (
	"fmt"
	"strings"

	"github.com/judacas/AutoDJ/pkg/models"
)

// Upload limits for multipart bodies.
const (
	MaxSongUploadBytes = 200 << 20
	MaxMixUploadBytes  = 2 << 30

	// DefaultPathDepth bounds path searches when the query names no depth.
	DefaultPathDepth = 50
	// MaxPathDepth keeps exhaustive searches from running away.
	MaxPathDepth = 500
)

// SongDTO represents a graph node in API responses
type SongDTO struct {
	SongID      string            `json:"song_id"`
	MetadataRef string            `json:"metadata_ref,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func songDTO(n models.SongNode) SongDTO {
	return SongDTO{SongID: n.SongID, MetadataRef: n.MetadataRef, DurationMs: n.DurationMs, Attributes: n.Attributes}
}

// ListSongsResponse is the response for GET /api/songs
type ListSongsResponse struct {
	Songs []SongDTO `json:"songs"`
	Count int       `json:"count"`
}

// AddSongResponse is the response for POST /api/songs
type AddSongResponse struct {
	Message     string `json:"message"`
	SongID      string `json:"song_id"`
	ContentHash string `json:"content_hash"`
	DurationMs  int64  `json:"duration_ms"`
}

type NeighborsResponse struct {
	SongID    string   `json:"song_id"`
	Neighbors []string `json:"neighbors"`
}

type EdgesResponse struct {
	SongID string                  `json:"song_id"`
	Edges  []models.TransitionEdge `json:"edges"`
	Count  int                     `json:"count"`
}

type PathResponse struct {
	Path   []string `json:"path"`
	Length int      `json:"length"`
	Method string   `json:"method"`
}

// RemoveEdgeRequest is the request body for DELETE /api/edges
type RemoveEdgeRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	MixAssetID  string `json:"mix_asset_id"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Validate checks if the request names a complete edge
func (r *RemoveEdgeRequest) Validate() error {
	var missing []string
	if r.From == "" {
		missing = append(missing, "from")
	}
	if r.To == "" {
		missing = append(missing, "to")
	}
	if r.MixAssetID == "" {
		missing = append(missing, "mix_asset_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}
	if r.TimestampMs < 0 {
		return fmt.Errorf("timestamp_ms must not be negative")
	}
	return nil
}

func (r *RemoveEdgeRequest) Key() models.EdgeKey {
	return models.EdgeKey{From: r.From, To: r.To, MixAssetID: r.MixAssetID, TimestampMs: r.TimestampMs}
}

// StatsResponse provides graph size and database location
type StatsResponse struct {
	Status       string `json:"status"`
	DatabasePath string `json:"database_path"`
	Songs        int    `json:"songs"`
	Transitions  int    `json:"transitions"`
	Sources      int    `json:"sources"`
	MaxOutDegree int    `json:"max_out_degree"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
}
