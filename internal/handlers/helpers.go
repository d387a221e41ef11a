// Package handlers implements the HTTP handlers for the bucket and file
// collections under /files.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	fserr "github.com/stjepano/filestore/internal/errors"
	"github.com/stjepano/filestore/internal/ident"
	"github.com/stjepano/filestore/internal/metrics"
)

// uploadPartName is the multipart form field carrying file content.
const uploadPartName = "file"

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Writing JSON response failed", "error", err)
	}
}

// writeOK answers an operation that has no response body.
func writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}

// writeErrorMessage writes an ErrorResponse with an explicit status.
func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: true, Message: msg})
}

// writeError maps err to its transport status and writes an ErrorResponse.
// Containment violations and unexpected failures are logged at Error level;
// the client only ever sees a generic message for them.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeErrorMessage(w, http.StatusRequestEntityTooLarge,
			"request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		return
	}

	switch kind := fserr.KindOf(err); kind {
	case fserr.KindContainmentViolation:
		metrics.ContainmentViolationsTotal.Inc()
		slog.Error("Containment violation", "method", r.Method, "path", r.URL.Path, "error", err)
	case fserr.KindUnexpected:
		slog.Error("Storage failure", "method", r.Method, "path", r.URL.Path, "error", err)
	default:
		slog.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind.String(), "error", err)
	}
	writeErrorMessage(w, fserr.HTTPStatus(err), fserr.Message(err))
}

// Outcome labels for requests refused before they reach the store.
const (
	statusBadRequest      = "BadRequest"
	statusRequestTooLarge = "RequestTooLarge"
)

// observe counts one storage operation by outcome.
func observe(operation string, err error) {
	status := "success"
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
	case errors.As(err, &tooLarge):
		status = statusRequestTooLarge
	default:
		status = fserr.KindOf(err).String()
	}
	metrics.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// reject answers a request that was refused before it reached the store and
// counts it against operation.
func reject(w http.ResponseWriter, operation string, status int, msg string) {
	label := statusBadRequest
	if status == http.StatusRequestEntityTooLarge {
		label = statusRequestTooLarge
	}
	metrics.OperationsTotal.WithLabelValues(operation, label).Inc()
	writeErrorMessage(w, status, msg)
}

// pathParam returns the decoded value of a chi URL parameter. chi matches
// on r.URL.RawPath when it is set, so only then does the parameter still
// carry escapes; otherwise it was taken from the already decoded r.URL.Path
// and must not be decoded again.
func pathParam(r *http.Request, key string, c ident.Component) (string, error) {
	raw := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return raw, nil
	}
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", &ident.InvalidError{Component: c, Value: raw, Reason: "malformed escape in path"}
	}
	return v, nil
}

// bucketParam parses the {bucket} URL parameter.
func bucketParam(r *http.Request) (ident.BucketID, error) {
	raw, err := pathParam(r, "bucket", ident.ComponentBucket)
	if err != nil {
		return ident.BucketID{}, err
	}
	return ident.ParseBucketID(raw)
}

// fileParam parses the {bucket} and {filename} URL parameters, bucket first.
func fileParam(r *http.Request) (ident.FileID, error) {
	bucket, err := bucketParam(r)
	if err != nil {
		return ident.FileID{}, err
	}
	name, err := pathParam(r, "filename", ident.ComponentFile)
	if err != nil {
		return ident.FileID{}, err
	}
	return ident.NewFileID(bucket, name)
}

// nextFilePart advances mr to the part named "file". It returns
// http.ErrMissingFile when the form has no such part.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, http.ErrMissingFile
			}
			return nil, err
		}
		if part.FormName() == uploadPartName {
			return part, nil
		}
		part.Close()
	}
}

// partFileName returns the file name the client sent for part, unmodified.
// multipart.Part.FileName strips directory components, which would hide
// traversal attempts that must be rejected instead.
func partFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// isMultipart reports whether the request carries a multipart/form-data body.
func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// contentDisposition builds an attachment header for name.
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
