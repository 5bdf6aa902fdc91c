// Package filestore resolves uploaded document ids to byte streams.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lease-analyzer/internal/apperr"
)

// FileStore is the read side of document storage used by the pipeline.
type FileStore interface {
	Exists(ctx context.Context, fileID string) (bool, error)
	// Open returns apperr.ErrNotFound when the file is missing.
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// validID rejects ids that could escape the store root.
func validID(fileID string) error {
	if fileID == "" || fileID == "." || strings.Contains(fileID, "..") || strings.ContainsAny(fileID, `/\`) {
		return apperr.Validation("fileId", "is not a valid file identifier")
	}
	return nil
}

// Local serves files from a directory; the file id is the file name.
type Local struct {
	dir string
}

// NewLocal returns a store rooted at dir, creating the directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create filestore dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(fileID string) string {
	return filepath.Join(l.dir, fileID)
}

func (l *Local) Exists(_ context.Context, fileID string) (bool, error) {
	if err := validID(fileID); err != nil {
		return false, err
	}
	info, err := os.Stat(l.path(fileID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", fileID, err)
	}
	return !info.IsDir(), nil
}

func (l *Local) Open(_ context.Context, fileID string) (io.ReadCloser, error) {
	if err := validID(fileID); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(fileID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file %s: %w", fileID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fileID, err)
	}
	return f, nil
}
