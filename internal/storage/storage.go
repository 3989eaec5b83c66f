// Package storage provides worker-local temporary file space and the
// durable artifact store that published outputs land in.
package storage

import (
	"context"
	"io"
)

// Storage combines temp-file handling during processing with artifact
// publishing. Publish returns the durable, user-downloadable output
// reference recorded on the job.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish uploads the file at path to durable storage under key and
	// returns the output reference.
	Publish(ctx context.Context, key, path string) (outputRef string, err error)
}
