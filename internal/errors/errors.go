// Package errors defines the error taxonomy shared by every filestore layer.
//
// Storage code returns *Error values (or errors wrapping them); the HTTP layer
// maps them to status codes with HTTPStatus. Tests and callers compare kinds
// with the standard library:
//
//	if errors.Is(err, fserr.ErrBucketDoesNotExist) { ... }
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error without exposing filesystem details.
type Kind int

const (
	KindUnexpected           Kind = iota // any other I/O failure
	KindInvalidIdentifier                // malformed bucket or file name
	KindContainmentViolation             // resolved path escaped its expected parent
	KindBucketAlreadyExists
	KindBucketDoesNotExist
	KindFileAlreadyExists
	KindFileDoesNotExist
)

func (k Kind) String() string {
	switch k {
	case KindInvalidIdentifier:
		return "InvalidIdentifier"
	case KindContainmentViolation:
		return "ContainmentViolation"
	case KindBucketAlreadyExists:
		return "BucketAlreadyExists"
	case KindBucketDoesNotExist:
		return "BucketDoesNotExist"
	case KindFileAlreadyExists:
		return "FileAlreadyExists"
	case KindFileDoesNotExist:
		return "FileDoesNotExist"
	default:
		return "UnexpectedStorageFailure"
	}
}

// HTTPStatus returns the transport status for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidIdentifier:
		return http.StatusBadRequest
	case KindBucketDoesNotExist, KindFileDoesNotExist:
		return http.StatusNotFound
	case KindBucketAlreadyExists, KindFileAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single error type produced by the storage layers.
type Error struct {
	// Kind is the taxonomy entry for this error.
	Kind Kind
	// Message is a human-readable description, safe to return to clients.
	Message string
	// Cause is the underlying error, kept for logging.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so that the
// package sentinels match errors carrying a more specific message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for every kind. Compare with errors.Is; never mutate them.
var (
	// ErrInvalidIdentifier is returned when a bucket or file name fails validation.
	ErrInvalidIdentifier = &Error{Kind: KindInvalidIdentifier, Message: "invalid identifier"}

	// ErrContainmentViolation is returned when a resolved path is not where it must be.
	ErrContainmentViolation = &Error{Kind: KindContainmentViolation, Message: "path escapes its expected parent"}

	// ErrBucketAlreadyExists is returned when creating a bucket that exists.
	ErrBucketAlreadyExists = &Error{Kind: KindBucketAlreadyExists, Message: "bucket already exists"}

	// ErrBucketDoesNotExist is returned when the addressed bucket is absent.
	ErrBucketDoesNotExist = &Error{Kind: KindBucketDoesNotExist, Message: "bucket does not exist"}

	// ErrFileAlreadyExists is returned when uploading over an existing file.
	ErrFileAlreadyExists = &Error{Kind: KindFileAlreadyExists, Message: "file already exists"}

	// ErrFileDoesNotExist is returned when the addressed file is absent.
	ErrFileDoesNotExist = &Error{Kind: KindFileDoesNotExist, Message: "file does not exist"}

	// ErrUnexpected matches every wrapped I/O failure.
	ErrUnexpected = &Error{Kind: KindUnexpected, Message: "unexpected storage failure"}
)

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind carrying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Unexpected wraps an I/O failure as an UnexpectedStorageFailure.
func Unexpected(msg string, cause error) *Error {
	return Wrap(KindUnexpected, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnexpected when there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps any error to a transport status code.
func HTTPStatus(err error) int {
	return KindOf(err).HTTPStatus()
}

// Message returns the client-facing message for err. Unexpected failures
// are reduced to a generic text so filesystem paths never leak.
func Message(err error) string {
	var e *Error
	if !stderrors.As(err, &e) {
		return ErrUnexpected.Message
	}
	switch e.Kind {
	case KindUnexpected, KindContainmentViolation:
		return ErrUnexpected.Message
	}
	if direct, ok := err.(*Error); ok {
		return direct.Message
	}
	return err.Error()
}

// IsContainmentViolation reports whether err is, or wraps, a containment violation.
func IsContainmentViolation(err error) bool {
	return stderrors.Is(err, ErrContainmentViolation)
}
