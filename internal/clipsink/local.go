package clipsink

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/judacas/AutoDJ/pkg/models"
	"github.com/judacas/AutoDJ/pkg/utils"
)

// LocalSink writes objects below a root directory.
type LocalSink struct {
	Root string
}

func NewLocalSink(root string) (*LocalSink, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: local sink needs a directory", models.ErrInvalidInput)
	}
	if err := utils.MakeDir(root); err != nil {
		return nil, fmt.Errorf("creating clip dir: %w", err)
	}
	return &LocalSink{Root: root}, nil
}

func (s *LocalSink) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes the sink root", models.ErrInvalidInput, key)
	}
	dst := filepath.Join(s.Root, clean)
	if err := utils.WriteFileAtomic(dst, data); err != nil {
		return "", err
	}
	return dst, nil
}
