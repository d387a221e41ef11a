// Package ident validates bucket and file identifiers before they are ever
// turned into filesystem paths. Validation is pure: nothing here touches
// the filesystem.
package ident

import (
	"fmt"
	"regexp"
	"strings"

	fserr "github.com/stjepano/filestore/internal/errors"
)

// bucketNameRegex is the complete bucket grammar.
var bucketNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Component names the part of an identifier that failed validation.
type Component int

const (
	ComponentBucket Component = iota + 1
	ComponentFile
)

func (c Component) String() string {
	switch c {
	case ComponentBucket:
		return "bucket"
	case ComponentFile:
		return "file"
	default:
		return "unknown"
	}
}

// InvalidError reports which component of an identifier was rejected and
// why. It unwraps to fserr.ErrInvalidIdentifier.
type InvalidError struct {
	Component Component
	Value     string
	Reason    string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s name %q: %s", e.Component, e.Value, e.Reason)
}

// Unwrap lets errors.Is(err, fserr.ErrInvalidIdentifier) succeed.
func (e *InvalidError) Unwrap() error {
	return fserr.ErrInvalidIdentifier
}

// BucketID is a validated bucket name. The zero value is not a valid
// identifier; obtain one from ParseBucketID.
type BucketID struct {
	name string
}

// ParseBucketID validates raw against the bucket grammar [A-Za-z0-9_-]+.
func ParseBucketID(raw string) (BucketID, error) {
	if reason := validateBucketName(raw); reason != "" {
		return BucketID{}, &InvalidError{Component: ComponentBucket, Value: raw, Reason: reason}
	}
	return BucketID{name: raw}, nil
}

// MustBucketID is like ParseBucketID but panics on invalid input. Intended
// for tests and constants.
func MustBucketID(raw string) BucketID {
	id, err := ParseBucketID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the bucket name.
func (b BucketID) String() string { return b.name }

// IsZero reports whether b was never validated.
func (b BucketID) IsZero() bool { return b.name == "" }

// FileID addresses one file inside one bucket.
type FileID struct {
	bucket BucketID
	name   string
}

// ParseFileID validates the bucket component first, then the file name.
// The returned *InvalidError says which of the two was rejected.
func ParseFileID(bucket, name string) (FileID, error) {
	b, err := ParseBucketID(bucket)
	if err != nil {
		return FileID{}, err
	}
	return NewFileID(b, name)
}

// NewFileID validates name for an already validated bucket.
func NewFileID(bucket BucketID, name string) (FileID, error) {
	if bucket.IsZero() {
		return FileID{}, &InvalidError{Component: ComponentBucket, Reason: "bucket identifier is empty"}
	}
	if reason := validateFileName(name); reason != "" {
		return FileID{}, &InvalidError{Component: ComponentFile, Value: name, Reason: reason}
	}
	return FileID{bucket: bucket, name: name}, nil
}

// MustFileID is like ParseFileID but panics on invalid input.
func MustFileID(bucket, name string) FileID {
	id, err := ParseFileID(bucket, name)
	if err != nil {
		panic(err)
	}
	return id
}

// Bucket returns the owning bucket.
func (f FileID) Bucket() BucketID { return f.bucket }

// Name returns the file name.
func (f FileID) Name() string { return f.name }

// String returns "bucket/name".
func (f FileID) String() string { return f.bucket.name + "/" + f.name }

// ValidBucketName reports whether name satisfies the bucket grammar.
func ValidBucketName(name string) bool {
	return validateBucketName(name) == ""
}

// ValidFileName reports whether name satisfies the file grammar.
func ValidFileName(name string) bool {
	return validateFileName(name) == ""
}

// validateBucketName returns a reason string if name is invalid, or "".
func validateBucketName(name string) string {
	if name == "" {
		return "name is empty"
	}
	if !bucketNameRegex.MatchString(name) {
		return "only letters, digits, '_' and '-' are allowed"
	}
	return ""
}

// validateFileName returns a reason string if name is invalid, or "".
// Both slash kinds are rejected regardless of the host separator.
func validateFileName(name string) string {
	if name == "" {
		return "name is empty"
	}
	if name[0] == '.' {
		return "name must not start with '.'"
	}
	if strings.ContainsAny(name, `/\`) {
		return "name must not contain '/' or '\\'"
	}
	if strings.IndexByte(name, 0) >= 0 {
		return "name must not contain NUL"
	}
	return ""
}
