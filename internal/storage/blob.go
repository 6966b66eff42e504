package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobExists   = errors.New("blob already exists")
)

// BlobStore holds file content addressed by an opaque reference.
// Delete is idempotent: removing an absent reference succeeds.
type BlobStore interface {
	Put(ctx context.Context, ref string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
	Exists(ctx context.Context, ref string) (bool, error)
	// Rename moves content to newRef and fails with ErrBlobExists if newRef is taken.
	Rename(ctx context.Context, ref, newRef string) error
	Copy(ctx context.Context, ref, newRef string) error
}

// ObjectName builds the reference for a new blob: <owner>/<key>/<name>.
func ObjectName(ownerID, key uuid.UUID, name string) string {
	return path.Join(ownerID.String(), key.String(), objectBase(name))
}

// RenamedObjectName keeps the owner and key segments of ref and swaps the name.
func RenamedObjectName(ref, newName string) string {
	return path.Join(path.Dir(ref), objectBase(newName))
}

func objectBase(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "blob"
	}
	return name
}
