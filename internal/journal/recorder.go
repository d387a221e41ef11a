package journal

import (
	"context"
	"io"
	"log/slog"

	"github.com/stjepano/filestore/internal/ident"
	"github.com/stjepano/filestore/internal/storage"
)

// Recorder is a storage.Store that journals every successful mutation of the
// store it wraps. Reads pass straight through. A journal write failure is
// logged and never changes the outcome of the storage operation.
type Recorder struct {
	storage.Store
	journal *Journal
}

// NewRecorder wraps store so that mutations are appended to j.
func NewRecorder(store storage.Store, j *Journal) *Recorder {
	return &Recorder{Store: store, journal: j}
}

// CreateBucket creates the bucket and journals it.
func (r *Recorder) CreateBucket(ctx context.Context, id ident.BucketID) error {
	if err := r.Store.CreateBucket(ctx, id); err != nil {
		return err
	}
	r.record(ctx, Entry{Operation: OpCreateBucket, Bucket: id.String()})
	return nil
}

// DeleteBucket deletes the bucket and journals it.
func (r *Recorder) DeleteBucket(ctx context.Context, id ident.BucketID) error {
	if err := r.Store.DeleteBucket(ctx, id); err != nil {
		return err
	}
	r.record(ctx, Entry{Operation: OpDeleteBucket, Bucket: id.String()})
	return nil
}

// DeleteFile deletes the file and journals it.
func (r *Recorder) DeleteFile(ctx context.Context, id ident.FileID) error {
	if err := r.Store.DeleteFile(ctx, id); err != nil {
		return err
	}
	r.record(ctx, Entry{Operation: OpDeleteFile, Bucket: id.Bucket().String(), File: id.Name()})
	return nil
}

// Upload stores the file and journals it with the byte count.
func (r *Recorder) Upload(ctx context.Context, id ident.FileID, body io.Reader) (int64, error) {
	n, err := r.Store.Upload(ctx, id, body)
	if err != nil {
		return n, err
	}
	r.record(ctx, Entry{Operation: OpUpload, Bucket: id.Bucket().String(), File: id.Name(), Bytes: n})
	return n, nil
}

// Overwrite replaces the file and journals it with the byte count.
func (r *Recorder) Overwrite(ctx context.Context, id ident.FileID, body io.Reader) (int64, error) {
	n, err := r.Store.Overwrite(ctx, id, body)
	if err != nil {
		return n, err
	}
	r.record(ctx, Entry{Operation: OpOverwrite, Bucket: id.Bucket().String(), File: id.Name(), Bytes: n})
	return n, nil
}

// Journal returns the underlying journal.
func (r *Recorder) Journal() *Journal {
	return r.journal
}

func (r *Recorder) record(ctx context.Context, e Entry) {
	// The mutation already happened; a client hanging up must not lose it.
	if err := r.journal.Append(context.WithoutCancel(ctx), e); err != nil {
		slog.Error("Journal append failed",
			"operation", string(e.Operation), "bucket", e.Bucket, "file", e.File, "error", err)
	}
}
