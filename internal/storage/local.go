package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/docshare/drive/pkg/logger"
)

// LocalStore keeps blobs as files below a root directory. A reference maps
// to a relative path; writes go through a temp file and an atomic rename.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Put(ctx context.Context, ref string, r io.Reader, size int64, contentType string) error {
	dest, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeFile(ctx, dest, r, size); err != nil {
		logger.Error("local_put_failed", err, map[string]interface{}{
			"object_name": ref,
			"size":        size,
		})
		return err
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	src, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	target, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logger.Error("local_delete_failed", err, map[string]interface{}{
			"object_name": ref,
		})
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	s.pruneEmptyDirs(filepath.Dir(target))
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, ref string) (bool, error) {
	target, err := s.resolve(ref)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *LocalStore) Rename(ctx context.Context, ref, newRef string) error {
	src, err := s.resolve(ref)
	if err != nil {
		return err
	}
	dest, err := s.resolve(newRef)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if src == dest {
		return nil
	}
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return ErrBlobNotFound
	}
	if _, err := os.Stat(dest); err == nil {
		return ErrBlobExists
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("failed to rename blob: %w", err)
	}
	s.pruneEmptyDirs(filepath.Dir(src))
	return nil
}

func (s *LocalStore) Copy(ctx context.Context, ref, newRef string) error {
	src, err := s.resolve(ref)
	if err != nil {
		return err
	}
	dest, err := s.resolve(newRef)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat blob: %w", err)
	}
	return s.writeFile(ctx, dest, f, info.Size())
}

// resolve maps a reference onto a path below the root. Cleaning the
// reference as an absolute path strips any ".." that would escape it.
func (s *LocalStore) resolve(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if clean == "/" {
		return "", fmt.Errorf("invalid blob reference")
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *LocalStore) writeFile(ctx context.Context, destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// pruneEmptyDirs removes now-empty key and owner directories up to the root.
func (s *LocalStore) pruneEmptyDirs(dir string) {
	root := filepath.Clean(s.root)
	for dir != root && len(dir) > len(root) {
		if err := os.Remove(dir); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return
			}
		}
		dir = filepath.Dir(dir)
	}
}

var _ BlobStore = (*LocalStore)(nil)
