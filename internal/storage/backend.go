// Package storage implements filestore's bucket and file lifecycle on top of
// a host filesystem.
package storage

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/stjepano/filestore/internal/fileinfo"
	"github.com/stjepano/filestore/internal/ident"
)

// Store defines the bucket/file operations exposed to the transport layer.
// Domain failures are returned as errors matching the sentinels in
// internal/errors. All methods must be safe for concurrent use.
type Store interface {
	// ListBuckets returns every bucket name in ascending order.
	ListBuckets(ctx context.Context) ([]ident.BucketID, error)

	// CreateBucket creates an empty bucket.
	CreateBucket(ctx context.Context, id ident.BucketID) error

	// DeleteBucket removes a bucket and everything in it.
	DeleteBucket(ctx context.Context, id ident.BucketID) error

	// ListFiles returns the records of every file in the bucket, ascending by name.
	ListFiles(ctx context.Context, id ident.BucketID) ([]fileinfo.Record, error)

	// DeleteFile removes one file.
	DeleteFile(ctx context.Context, id ident.FileID) error

	// Upload stores a new file from r and returns the number of bytes written.
	Upload(ctx context.Context, id ident.FileID, r io.Reader) (int64, error)

	// Overwrite atomically replaces an existing file with the content of r.
	Overwrite(ctx context.Context, id ident.FileID, r io.Reader) (int64, error)

	// Download opens a file for reading. The caller must close the Object.
	Download(ctx context.Context, id ident.FileID) (*Object, error)

	// HealthCheck verifies that the content root is reachable.
	HealthCheck(ctx context.Context) error
}

// Object is a readable handle to a stored file's current content.
type Object struct {
	io.ReadSeekCloser

	// Name is the file name as stored.
	Name string
	// Size is the byte length at the time the handle was opened.
	Size int64
	// ModTime is the last modification time.
	ModTime time.Time
	// MimeType is the best-effort content type, "" if unknown.
	MimeType string
}

// ResourceLoader turns a certified filesystem path into a downloadable
// handle. LocalStore uses FileLoader unless another loader is supplied.
type ResourceLoader interface {
	Load(path string) (*Object, error)
}

// ResourceLoaderFunc adapts a function to ResourceLoader.
type ResourceLoaderFunc func(path string) (*Object, error)

// Load calls f(path).
func (f ResourceLoaderFunc) Load(path string) (*Object, error) {
	return f(path)
}

// FileLoader opens path directly on the host filesystem.
var FileLoader ResourceLoader = ResourceLoaderFunc(loadFile)

func loadFile(path string) (*Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Object{
		ReadSeekCloser: f,
		Name:           info.Name(),
		Size:           info.Size(),
		ModTime:        info.ModTime(),
		MimeType:       fileinfo.DetectMimeType(path),
	}, nil
}
