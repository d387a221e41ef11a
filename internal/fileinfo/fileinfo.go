// Package fileinfo derives listing metadata (size, MIME type, creation time)
// from filesystem attributes. Nothing is persisted; records are recomputed
// on every call.
package fileinfo

import (
	"errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// octetStream is what content sniffing reports when it recognises nothing.
const octetStream = "application/octet-stream"

// Record describes one file for listing purposes.
type Record struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType,omitempty"`
	DateCreated time.Time `json:"dateCreated"`
}

// Extract builds the Record for the file at path. The size falls back to 0
// if the file vanished after it was listed; any other attribute failure is
// returned so the caller can drop this entry and carry on with its siblings.
func Extract(path string) (Record, error) {
	size := Size(path)
	created, err := CreatedAt(path)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Name:        filepath.Base(path),
		Size:        size,
		MimeType:    DetectMimeType(path),
		DateCreated: created,
	}, nil
}

// Size returns the byte length of the file at path, or 0 if it no longer
// exists or is not a regular file.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	return info.Size()
}

// DetectMimeType guesses the MIME type from the file extension, falling back
// to content sniffing. It returns "" when neither gives an answer.
func DetectMimeType(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if Size(path) == 0 {
		return ""
	}
	m, err := mimetype.DetectFile(path)
	if err != nil || m.Is(octetStream) {
		return ""
	}
	return m.String()
}

// CreatedAt returns the creation (birth) time of path, in UTC. Filesystems
// that do not record a birth time report the last modification time.
func CreatedAt(path string) (time.Time, error) {
	t, err := birthTime(path)
	if err == nil {
		return t.UTC(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, err
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return time.Time{}, statErr
	}
	return info.ModTime().UTC(), nil
}
