// Package erebus exports evaluation artifacts to blob storage: a local
// directory or an S3 compatible bucket.
package erebus

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidKey indicates a key that is empty or escapes the store root.
var ErrInvalidKey = errors.New("invalid artifact key")

// Store is a flat key/value blob store. Keys use forward slashes.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// cleanKey normalises key and rejects absolute or parent-relative paths.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
