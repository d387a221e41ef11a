package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// Bucket is a handle to one bucket on the server. It holds no state besides
// the name; every call goes to the server.
type Bucket struct {
	client *Client
	name   string
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Files lists the files in the bucket, ascending by name.
func (b *Bucket) Files(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	if err := b.client.getJSON(ctx, b.client.endpoint(b.name, ""), &files); err != nil {
		return nil, err
	}
	return files, nil
}

// FileInfo returns the record of the named file. ok is false if the bucket
// has no such file.
func (b *Bucket) FileInfo(ctx context.Context, name string) (info FileInfo, ok bool, err error) {
	files, err := b.Files(ctx)
	if err != nil {
		return FileInfo{}, false, err
	}
	for _, f := range files {
		if f.Name == name {
			return f, true, nil
		}
	}
	return FileInfo{}, false, nil
}

// FileExists reports whether the bucket holds the named file.
func (b *Bucket) FileExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := b.FileInfo(ctx, name)
	return ok, err
}

// Upload stores the content of r as a new file called name.
func (b *Bucket) Upload(ctx context.Context, name string, r io.Reader) error {
	q := url.Values{"filename": {name}}
	return b.send(ctx, http.MethodPost, b.client.endpoint(b.name, "")+"?"+q.Encode(), name, r)
}

// UploadFile uploads the local file at path. The stored file keeps the base
// name of path unless newName is non-empty.
func (b *Bucket) UploadFile(ctx context.Context, path, newName string) error {
	f, err := openSource(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if newName == "" {
		return b.send(ctx, http.MethodPost, b.client.endpoint(b.name, ""), filepath.Base(path), f)
	}
	return b.Upload(ctx, newName, f)
}

// Overwrite replaces the content of an existing file with r.
func (b *Bucket) Overwrite(ctx context.Context, name string, r io.Reader) error {
	return b.send(ctx, http.MethodPut, b.client.endpoint(b.name, name), name, r)
}

// OverwriteFile replaces the content of an existing file with the local file
// at path.
func (b *Bucket) OverwriteFile(ctx context.Context, path, name string) error {
	f, err := openSource(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.Overwrite(ctx, name, f)
}

// Download writes the content of the named file to w and returns the number
// of bytes written.
func (b *Bucket) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.client.endpoint(b.name, name)+"?att=false", nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	resp, err := b.client.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("downloading %s/%s: %w", b.name, name, err)
	}
	return n, nil
}

// DownloadFile saves the named file to target. It refuses to replace an
// existing target, and removes a partially written target on failure.
func (b *Bucket) DownloadFile(ctx context.Context, name, target string) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating download target: %w", err)
	}
	if _, err := b.Download(ctx, name, f); err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return fmt.Errorf("closing download target: %w", err)
	}
	return nil
}

// DeleteFile removes the named file.
func (b *Bucket) DeleteFile(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.client.endpoint(b.name, name), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return b.client.doDiscard(req)
}

// send streams r to endpoint as the "file" part of a multipart body.
func (b *Bucket) send(ctx context.Context, method, endpoint, fileName string, r io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writePart(mw, fileName, r))
	}()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = b.client.doDiscard(req)
	pr.Close()
	return err
}

func writePart(mw *multipart.Writer, fileName string, r io.Reader) error {
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// openSource opens a local file for upload. It must be a readable regular file.
func openSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening upload source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening upload source: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("upload source %s: %w", path, errNotRegular)
	}
	return f, nil
}

var errNotRegular = errors.New("not a regular file")
