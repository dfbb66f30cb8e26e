// Package blob stores uploaded files of captured requests until their retry
// record reaches a terminal status.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Dir is the key prefix every captured upload is stored under.
const Dir = "retry_temp"

var (
	// ErrNotExist is returned by Read for a path that is not stored.
	ErrNotExist = errors.New("blob does not exist")
	// ErrUnknownDisk is returned by Open for an unsupported disk name.
	ErrUnknownDisk = errors.New("unknown storage disk")
)

// Storage is a flat key/value file store. Paths are the values Store returned.
type Storage interface {
	// Store saves r under a new unique path in Dir and returns that path.
	Store(ctx context.Context, r io.Reader, name, contentType string) (string, error)
	Exists(ctx context.Context, p string) (bool, error)
	// Delete removes p. Deleting a missing path is not an error.
	Delete(ctx context.Context, p string) error
	// Read opens p for reading. The caller closes the reader.
	Read(ctx context.Context, p string) (io.ReadCloser, error)
}

// newKey returns a unique object key that keeps the extension of name.
func newKey(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if len(ext) > 16 {
		ext = ""
	}
	return Dir + "/" + uuid.New().String() + ext
}

// cleanKey rejects keys that escape the store root.
func cleanKey(p string) (string, error) {
	c := path.Clean("/" + strings.TrimSpace(p))[1:]
	if c == "" || c == "." {
		return "", errors.New("blob: empty path")
	}
	return c, nil
}
