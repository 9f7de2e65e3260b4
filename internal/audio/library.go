package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/judacas/AutoDJ/pkg/models"
)

// Library remembers where the clean audio of each song lives so the extractor
// can splice it into transition clips.
type Library struct {
	mu      sync.RWMutex
	cfg     LoadConfig
	paths   map[string]string
	buffers map[string]*Buffer
}

func NewLibrary(cfg LoadConfig) *Library {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Library{
		cfg:     cfg,
		paths:   make(map[string]string),
		buffers: make(map[string]*Buffer),
	}
}

// RegisterPath records a file for songID. Decoding happens on first Open.
func (l *Library) RegisterPath(songID, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths[songID] = path
	delete(l.buffers, songID)
}

// RegisterBuffer keeps an already decoded buffer for songID.
func (l *Library) RegisterBuffer(songID string, buf *Buffer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffers[songID] = buf
}

// Has reports whether songID has any clean audio registered.
func (l *Library) Has(songID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, okBuf := l.buffers[songID]
	_, okPath := l.paths[songID]
	return okBuf || okPath
}

// Open returns a Source for songID, or ErrNotFound.
func (l *Library) Open(ctx context.Context, songID string) (Source, error) {
	l.mu.RLock()
	buf, ok := l.buffers[songID]
	path := l.paths[songID]
	l.mu.RUnlock()

	if ok {
		return NewBufferSource(buf), nil
	}
	if path == "" {
		return nil, fmt.Errorf("song %s: %w", songID, models.ErrNotFound)
	}

	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return NewFileSource(path, l.cfg.SampleRate), nil
	}

	buf, err := LoadFile(ctx, path, l.cfg)
	if err != nil {
		return nil, err
	}
	l.RegisterBuffer(songID, buf)
	return NewBufferSource(buf), nil
}
