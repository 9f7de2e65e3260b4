package models

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// AssetInput is what callers hand the pipeline: exactly one of Path or Data.
type AssetInput struct {
	Path        string
	Data        []byte
	Name        string // optional display name for in-memory data
	Origin      Origin
	SongID      string
	MetadataRef string
	Attributes  map[string]string
}

// Validate checks the input once at the boundary so later stages can trust it.
func (in AssetInput) Validate() error {
	if (in.Path == "") == (len(in.Data) == 0) {
		return fmt.Errorf("%w: exactly one of path or data is required", ErrInvalidInput)
	}
	if !in.Origin.Valid() {
		return fmt.Errorf("%w: unknown origin %q", ErrInvalidInput, in.Origin)
	}
	switch in.Origin {
	case OriginSong:
		if strings.TrimSpace(in.SongID) == "" {
			return fmt.Errorf("%w: song input needs a song id", ErrInvalidInput)
		}
	case OriginMix:
		if in.SongID != "" {
			return fmt.Errorf("%w: mix input cannot carry a song id", ErrInvalidInput)
		}
	}
	return nil
}

// Label is a short human name for logs and reports.
func (in AssetInput) Label() string {
	switch {
	case in.Name != "":
		return in.Name
	case in.Path != "":
		return filepath.Base(in.Path)
	case in.SongID != "":
		return in.SongID
	default:
		return string(in.Origin)
	}
}

func (n SongNode) Validate() error {
	if strings.TrimSpace(n.SongID) == "" {
		return fmt.Errorf("%w: song id is empty", ErrInvalidInput)
	}
	if n.DurationMs < 0 {
		return fmt.Errorf("%w: negative duration for %s", ErrInvalidInput, n.SongID)
	}
	return nil
}

func (e TransitionEdge) Validate() error {
	if e.From == "" || e.To == "" {
		return fmt.Errorf("%w: edge endpoints must be set", ErrInvalidInput)
	}
	if e.MixAssetHash == "" {
		return fmt.Errorf("%w: edge %s->%s has no mix asset", ErrInvalidInput, e.From, e.To)
	}
	if e.TimestampMs < 0 {
		return fmt.Errorf("%w: edge %s->%s has negative timestamp", ErrInvalidInput, e.From, e.To)
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: edge %s->%s confidence %v outside [0,1]", ErrInvalidInput, e.From, e.To, e.Confidence)
	}
	return nil
}
