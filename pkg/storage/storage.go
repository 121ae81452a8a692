// Package storage moves dataset artifacts (manifests, waveforms,
// vocabularies, exported transcripts) between the pipeline and wherever
// they live. Callers program against FileStore and swap local disk for an
// S3-compatible object store without touching pipeline code.
//
// Stat exists because the feature cache keys entries on (path, size,
// mtime): it must be answerable without downloading the artifact.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Info describes a stored artifact.
type Info struct {
	Size    int64
	ModTime time.Time
}

// FileStore is the access surface for dataset artifacts.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Open opens the named artifact for reading.
	// The caller must close the returned ReadCloser when done.
	// If the artifact does not exist, an error wrapping os.ErrNotExist
	// is returned.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create opens the named artifact for writing, truncating any
	// previous content. Parent directories are created automatically.
	// The caller must close the returned WriteCloser to flush data.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// Stat reports size and modification time of the named artifact
	// without reading it. If the artifact does not exist, an error
	// wrapping os.ErrNotExist is returned.
	Stat(ctx context.Context, path string) (Info, error)

	// Exists reports whether the named artifact exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the named artifact.
	// If the artifact does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, path string) error
}

// FromURL picks a store for a location string. "s3://bucket/prefix"
// yields an S3 store configured from the usual AWS environment
// variables; anything else is treated as a local directory.
func FromURL(location string) (FileStore, error) {
	if strings.HasPrefix(location, "s3://") {
		bucket, prefix, err := parseS3URL(location)
		if err != nil {
			return nil, err
		}
		cfg, err := S3ConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("storage: s3 environment: %w", err)
		}
		return NewS3(NewS3Client(cfg), bucket, prefix), nil
	}
	return NewLocal(location)
}

// ReadFile reads the whole named artifact.
func ReadFile(ctx context.Context, fs FileStore, path string) ([]byte, error) {
	r, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile writes data to the named artifact in one shot.
func WriteFile(ctx context.Context, fs FileStore, path string, data []byte) error {
	w, err := fs.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
