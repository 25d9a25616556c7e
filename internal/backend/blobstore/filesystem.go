package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/cardscan/internal/common"
)

// FilesystemStore keeps objects as files below a root directory.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", root, err)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FilesystemStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	target, err := s.path(key)
	if err != nil {
		return &common.StorageError{Op: "put", Key: key, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &common.StorageError{Op: "put", Key: key, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &common.StorageError{Op: "put", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return &common.StorageError{Op: "put", Key: key, Err: err}
	}
	written, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr == nil && size >= 0 && written != size {
		copyErr = fmt.Errorf("short write: wrote %d of %d bytes", written, size)
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(tmp.Name())
		return &common.StorageError{Op: "put", Key: key, Err: copyErr}
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return &common.StorageError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (s *FilesystemStore) Remove(ctx context.Context, key string) error {
	target, err := s.path(key)
	if err != nil {
		return &common.StorageError{Op: "remove", Key: key, Err: err}
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &common.StorageError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// URL returns a file:// locator for the object.
func (s *FilesystemStore) URL(key string) string {
	target, err := s.path(key)
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(abs)
}
