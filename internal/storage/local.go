package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	fserr "github.com/stjepano/filestore/internal/errors"
	"github.com/stjepano/filestore/internal/fileinfo"
	"github.com/stjepano/filestore/internal/ident"
	"github.com/stjepano/filestore/internal/pathguard"
	"github.com/stjepano/filestore/internal/uid"
)

// tmpDirName is the staging directory under the content root. It is not a
// valid bucket name, so it can never be addressed or listed as a bucket.
const tmpDirName = ".tmp"

// LocalStore implements Store with one directory per bucket directly under
// the content root and one regular file per stored file directly under its
// bucket directory. Every path is certified by a pathguard.Guard before it
// is touched.
type LocalStore struct {
	guard  *pathguard.Guard
	loader ResourceLoader
	tmpDir string
}

// Option configures a LocalStore.
type Option func(*LocalStore)

// WithResourceLoader replaces the loader used by Download.
func WithResourceLoader(l ResourceLoader) Option {
	return func(s *LocalStore) {
		s.loader = l
	}
}

// NewLocalStore creates a LocalStore over the guard's content root. The root
// must be readable, writable and searchable by this process; the staging
// directory is created if missing.
func NewLocalStore(guard *pathguard.Guard, opts ...Option) (*LocalStore, error) {
	root := guard.Root()
	if err := unix.Access(root, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return nil, fmt.Errorf("content root %q is not readable and writable: %w", root, err)
	}
	tmpDir := filepath.Join(root, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}

	s := &LocalStore{
		guard:  guard,
		loader: FileLoader,
		tmpDir: tmpDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the content root.
func (s *LocalStore) Root() string {
	return s.guard.Root()
}

// CleanTempFiles removes staged files left behind by interrupted writes.
// It runs once at startup, before the store serves requests.
func (s *LocalStore) CleanTempFiles() error {
	entries, err := os.ReadDir(s.tmpDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(s.tmpDir, entry.Name()))
		}
	}
	return nil
}

// ListBuckets returns the readable bucket directories under the root,
// sorted by name. Entries whose names are not valid bucket identifiers, or
// whose canonical location is not directly under the root, are skipped.
func (s *LocalStore) ListBuckets(ctx context.Context) ([]ident.BucketID, error) {
	if err := begin(ctx); err != nil {
		return nil, err
	}

	root := s.guard.Root()
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ident.BucketID{}, nil
		}
		return nil, fserr.Unexpected("reading content root", err)
	}

	ids := make([]ident.BucketID, 0, len(entries))
	for _, entry := range entries {
		id, err := ident.ParseBucketID(entry.Name())
		if err != nil {
			continue
		}
		p := filepath.Join(root, entry.Name())
		if err := s.guard.CheckBucket(p); err != nil {
			slog.Warn("Skipping bucket outside content root", "bucket", entry.Name(), "error", err)
			continue
		}
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() || !readable(p) {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// CreateBucket creates the bucket directory. mkdir(2) fails atomically when
// the directory exists, so concurrent creators see BucketAlreadyExists.
func (s *LocalStore) CreateBucket(ctx context.Context, id ident.BucketID) error {
	if err := begin(ctx); err != nil {
		return err
	}

	p, err := s.guard.ResolveBucket(id)
	if err != nil {
		return err
	}
	exists, err := dirExists(p)
	if err != nil {
		return err
	}
	if exists {
		return bucketAlreadyExists(id)
	}

	if err := os.Mkdir(p, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			if exists, _ := dirExists(p); exists {
				return bucketAlreadyExists(id)
			}
		}
		return fserr.Unexpected(fmt.Sprintf("creating bucket %q", id), err)
	}
	return nil
}

// DeleteBucket removes the bucket directory and everything below it,
// children before parents. Symlinks, including a bucket entry that is itself
// a symlink, are removed without being followed. A failure on one entry does not stop the walk;
// the collected failures are reported only if the bucket directory could
// not be removed in the end.
func (s *LocalStore) DeleteBucket(ctx context.Context, id ident.BucketID) error {
	if err := begin(ctx); err != nil {
		return err
	}

	p, err := s.requireBucket(id)
	if err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return fserr.Unexpected(fmt.Sprintf("deleting bucket %q", id), err)
	}
	// A bucket entry that is a symlink is an alias: drop the link, never
	// the directory it points to.
	if info.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fserr.Unexpected(fmt.Sprintf("deleting bucket %q", id), err)
		}
		return nil
	}
	if err := removeTree(p); err != nil {
		return fserr.Unexpected(fmt.Sprintf("deleting bucket %q", id), err)
	}
	return nil
}

// ListFiles returns records for the readable regular files directly in the
// bucket, sorted by name. Subdirectories and symlinks are not reported; a
// file whose attributes cannot be read is left out of the result.
func (s *LocalStore) ListFiles(ctx context.Context, id ident.BucketID) ([]fileinfo.Record, error) {
	if err := begin(ctx); err != nil {
		return nil, err
	}

	bucketPath, err := s.requireBucket(id)
	if err != nil {
		return nil, err
	}
	if !readable(bucketPath) {
		return nil, fserr.Unexpected(fmt.Sprintf("bucket %q is not readable", id), fs.ErrPermission)
	}

	entries, err := os.ReadDir(bucketPath)
	if err != nil {
		return nil, fserr.Unexpected(fmt.Sprintf("reading bucket %q", id), err)
	}

	records := make([]fileinfo.Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !ident.ValidFileName(entry.Name()) {
			continue
		}
		p := filepath.Join(bucketPath, entry.Name())
		if err := pathguard.Check(bucketPath, p); err != nil {
			return nil, err
		}
		if !readable(p) {
			continue
		}
		rec, err := fileinfo.Extract(p)
		if err != nil {
			slog.Debug("Skipping file with unreadable attributes", "bucket", id.String(), "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// DeleteFile removes one file from its bucket.
func (s *LocalStore) DeleteFile(ctx context.Context, id ident.FileID) error {
	if err := begin(ctx); err != nil {
		return err
	}

	p, err := s.requireFile(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileDoesNotExist(id)
		}
		return fserr.Unexpected(fmt.Sprintf("deleting file %q", id), err)
	}
	return nil
}

// Upload stores a new file. The content is staged in the temp directory and
// published with link(2), which fails if the target appeared in the
// meantime, so two concurrent uploads of the same name cannot both succeed.
func (s *LocalStore) Upload(ctx context.Context, id ident.FileID, r io.Reader) (int64, error) {
	if err := begin(ctx); err != nil {
		return 0, err
	}

	p, err := s.resolveFile(id)
	if err != nil {
		return 0, err
	}
	exists, err := fileExists(p)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fileAlreadyExists(id)
	}

	tmpPath, n, err := s.stage(r)
	if err != nil {
		return 0, fserr.Unexpected(fmt.Sprintf("writing file %q", id), err)
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, p); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, fileAlreadyExists(id)
		}
		return 0, fserr.Unexpected(fmt.Sprintf("publishing file %q", id), err)
	}
	return n, nil
}

// Overwrite replaces an existing file. The new content is staged, synced and
// renamed over the target so readers see either the old or the new content,
// never a partial write.
func (s *LocalStore) Overwrite(ctx context.Context, id ident.FileID, r io.Reader) (int64, error) {
	if err := begin(ctx); err != nil {
		return 0, err
	}

	p, err := s.requireFile(id)
	if err != nil {
		return 0, err
	}

	tmpPath, n, err := s.stage(r)
	if err != nil {
		return 0, fserr.Unexpected(fmt.Sprintf("writing file %q", id), err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return 0, fserr.Unexpected(fmt.Sprintf("replacing file %q", id), err)
	}
	return n, nil
}

// Download opens the file through the configured ResourceLoader.
func (s *LocalStore) Download(ctx context.Context, id ident.FileID) (*Object, error) {
	if err := begin(ctx); err != nil {
		return nil, err
	}

	p, err := s.requireFile(id)
	if err != nil {
		return nil, err
	}
	obj, err := s.loader.Load(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fileDoesNotExist(id)
		}
		return nil, fserr.Unexpected(fmt.Sprintf("opening file %q", id), err)
	}
	return obj, nil
}

// HealthCheck verifies that the content root is still a directory.
func (s *LocalStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.guard.Root())
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("content root %q is not a directory", s.guard.Root())
	}
	return nil
}

// requireBucket resolves and certifies the bucket path and fails with
// BucketDoesNotExist when no such directory exists.
func (s *LocalStore) requireBucket(id ident.BucketID) (string, error) {
	p, err := s.guard.ResolveBucket(id)
	if err != nil {
		return "", err
	}
	exists, err := dirExists(p)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fserr.New(fserr.KindBucketDoesNotExist, "bucket %q does not exist", id)
	}
	return p, nil
}

// resolveFile checks the bucket exists, then certifies the file path.
func (s *LocalStore) resolveFile(id ident.FileID) (string, error) {
	if _, err := s.requireBucket(id.Bucket()); err != nil {
		return "", err
	}
	_, p, err := s.guard.ResolveFile(id)
	if err != nil {
		return "", err
	}
	return p, nil
}

// requireFile is resolveFile plus a FileDoesNotExist check.
func (s *LocalStore) requireFile(id ident.FileID) (string, error) {
	p, err := s.resolveFile(id)
	if err != nil {
		return "", err
	}
	exists, err := fileExists(p)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fileDoesNotExist(id)
	}
	return p, nil
}

// stage copies r into a new file in the temp directory and syncs it.
// On success the caller owns the returned path.
func (s *LocalStore) stage(r io.Reader) (string, int64, error) {
	tmpPath := filepath.Join(s.tmpDir, "tmp-"+uid.New())
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("copying data: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("closing temp file: %w", err)
	}
	return tmpPath, n, nil
}

func begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fserr.Unexpected("operation not started", err)
	}
	return nil
}

func dirExists(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fserr.Unexpected("checking directory", err)
	}
	return info.IsDir(), nil
}

// fileExists reports whether p is a readable regular file.
func fileExists(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fserr.Unexpected("checking file", err)
	}
	return info.Mode().IsRegular() && readable(p), nil
}

func readable(p string) bool {
	return unix.Access(p, unix.R_OK) == nil
}

// removeTree deletes dir bottom-up without following symlinks.
func removeTree(dir string) error {
	var errs []error
	entries, err := os.ReadDir(dir)
	if err != nil {
		errs = append(errs, err)
	}
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := removeTree(p); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
		return errors.Join(errs...)
	}
	return nil
}

func bucketAlreadyExists(id ident.BucketID) error {
	return fserr.New(fserr.KindBucketAlreadyExists, "bucket %q already exists", id)
}

func fileAlreadyExists(id ident.FileID) error {
	return fserr.New(fserr.KindFileAlreadyExists, "file %q already exists", id)
}

func fileDoesNotExist(id ident.FileID) error {
	return fserr.New(fserr.KindFileDoesNotExist, "file %q does not exist", id)
}
