// Package clipsink stores extracted transition clips.
package clipsink

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/judacas/AutoDJ/pkg/models"
)

const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeJSON = "application/json"
)

// A transient Put failure is retried putAttempts times in total, waiting
// putBackoff longer before each retry.
var (
	putAttempts = 3
	putBackoff  = 250 * time.Millisecond
)

// Sink writes one object and returns where it ended up.
type Sink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Stored is where a clip and its metadata were written.
type Stored struct {
	AudioURI string `json:"audio_uri"`
	MetaURI  string `json:"meta_uri"`
}

// ClipKey is the object key prefix of a clip. It is stable for one
// transition so rerunning a mix overwrites instead of duplicating.
func ClipKey(meta models.ClipMetadata) string {
	hash := meta.MixAssetHash
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return path.Join(hash, fmt.Sprintf("%09d_%s__%s", meta.StartMs, safe(meta.PrevSongID), safe(meta.NextSongID)))
}

// WriteClip stores the WAV bytes and then the JSON metadata. The metadata
// goes last so a listed .json always has its audio next to it.
func WriteClip(ctx context.Context, sink Sink, clip *models.TransitionClip) (Stored, error) {
	if clip == nil || len(clip.WAV) == 0 {
		return Stored{}, fmt.Errorf("%w: clip has no audio", models.ErrInvalidInput)
	}
	key := ClipKey(clip.Meta)

	audioURI, err := put(ctx, sink, key+".wav", clip.WAV, ContentTypeWAV)
	if err != nil {
		return Stored{}, fmt.Errorf("writing clip audio: %w", err)
	}
	meta, err := json.MarshalIndent(clip.Meta, "", "  ")
	if err != nil {
		return Stored{}, err
	}
	metaURI, err := put(ctx, sink, key+".json", meta, ContentTypeJSON)
	if err != nil {
		return Stored{}, fmt.Errorf("writing clip metadata: %w", err)
	}
	return Stored{AudioURI: audioURI, MetaURI: metaURI}, nil
}

func put(ctx context.Context, sink Sink, key string, data []byte, contentType string) (string, error) {
	for attempt := 1; ; attempt++ {
		uri, err := sink.Put(ctx, key, data, contentType)
		if err == nil || attempt >= putAttempts || !models.Retryable(err) {
			return uri, err
		}
		t := time.NewTimer(time.Duration(attempt) * putBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func safe(id string) string {
	out := []byte(id)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
