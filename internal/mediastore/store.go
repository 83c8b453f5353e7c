// Package mediastore reads the backing files of media items.
package mediastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-annotator/internal/config"
)

// ErrNotExist is returned when the backing file of an item is missing.
var ErrNotExist = errors.New("media file does not exist")

// Store reads media files by their catalog-relative path.
type Store interface {
	// Exists reports whether the file is present.
	Exists(ctx context.Context, path string) (bool, error)
	// Read returns the file content, or ErrNotExist.
	Read(ctx context.Context, path string) ([]byte, error)
}

// New creates the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.MediaConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		if cfg.Root == "" {
			return nil, errors.New("MEDIA_ROOT is required for the local media backend")
		}
		return NewLocal(cfg.Root), nil
	case "minio":
		return NewMinIO(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}
