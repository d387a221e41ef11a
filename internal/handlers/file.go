package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stjepano/filestore/internal/ident"
	"github.com/stjepano/filestore/internal/metrics"
	"github.com/stjepano/filestore/internal/storage"
)

// FileHandler serves the files inside one bucket.
type FileHandler struct {
	store         storage.Store
	maxUploadSize int64
}

// NewFileHandler creates a FileHandler backed by store. Upload and overwrite
// bodies larger than maxUploadSize bytes are rejected with 413.
func NewFileHandler(store storage.Store, maxUploadSize int64) *FileHandler {
	return &FileHandler{store: store, maxUploadSize: maxUploadSize}
}

// ListFiles handles GET /files/{bucket}/ and returns the file records of the
// bucket as a JSON array, ascending by name.
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	id, err := bucketParam(r)
	if err != nil {
		observe("ListFiles", err)
		writeError(w, r, err)
		return
	}

	records, err := h.store.ListFiles(r.Context(), id)
	observe("ListFiles", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// UploadFile handles POST /files/{bucket}/. The content is the multipart part
// named "file"; its file name is used unless the filename query parameter
// overrides it.
func (h *FileHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	bucket, err := bucketParam(r)
	if err != nil {
		observe("UploadFile", err)
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	mr, err := r.MultipartReader()
	if err != nil {
		reject(w, "UploadFile", http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		writePartError(w, r, "UploadFile", err)
		return
	}
	defer part.Close()

	name := partFileName(part)
	if q := r.URL.Query(); q.Has("filename") {
		name = q.Get("filename")
	}
	id, err := ident.NewFileID(bucket, name)
	if err != nil {
		observe("UploadFile", err)
		writeError(w, r, err)
		return
	}

	n, err := h.store.Upload(r.Context(), id, part)
	observe("UploadFile", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.BytesReceivedTotal.Add(float64(n))
	slog.Debug("File uploaded", "bucket", bucket.String(), "file", id.Name(), "bytes", n)
	writeOK(w)
}

// OverwriteFile handles PUT /files/{bucket}/{filename}. The content is either
// the multipart part named "file" or, for any other content type, the raw
// request body.
func (h *FileHandler) OverwriteFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileParam(r)
	if err != nil {
		observe("OverwriteFile", err)
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	var body io.Reader = r.Body
	if isMultipart(r) {
		mr, err := r.MultipartReader()
		if err != nil {
			reject(w, "OverwriteFile", http.StatusBadRequest, "malformed multipart body")
			return
		}
		part, err := nextFilePart(mr)
		if err != nil {
			writePartError(w, r, "OverwriteFile", err)
			return
		}
		defer part.Close()
		body = part
	}

	n, err := h.store.Overwrite(r.Context(), id, body)
	observe("OverwriteFile", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.BytesReceivedTotal.Add(float64(n))
	writeOK(w)
}

// DownloadFile handles GET and HEAD /files/{bucket}/{filename}. Unless
// att=false is given the response is marked as an attachment.
func (h *FileHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileParam(r)
	if err != nil {
		observe("DownloadFile", err)
		writeError(w, r, err)
		return
	}

	asAttachment := true
	if v := r.URL.Query().Get("att"); v != "" {
		asAttachment, err = strconv.ParseBool(v)
		if err != nil {
			reject(w, "DownloadFile", http.StatusBadRequest, "att must be true or false")
			return
		}
	}

	obj, err := h.store.Download(r.Context(), id)
	observe("DownloadFile", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer obj.Close()

	contentType := obj.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	if asAttachment {
		w.Header().Set("Content-Disposition", contentDisposition(obj.Name))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	n, err := io.Copy(w, obj)
	metrics.BytesSentTotal.Add(float64(n))
	if err != nil {
		slog.Warn("Download interrupted", "bucket", id.Bucket().String(), "file", id.Name(), "sent", n, "error", err)
	}
}

// DeleteFile handles DELETE /files/{bucket}/{filename}.
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileParam(r)
	if err != nil {
		observe("DeleteFile", err)
		writeError(w, r, err)
		return
	}

	err = h.store.DeleteFile(r.Context(), id)
	observe("DeleteFile", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}

// writePartError answers a failure to find the "file" part and counts it
// against operation.
func writePartError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, http.ErrMissingFile):
		reject(w, operation, http.StatusBadRequest, `multipart body has no "file" part`)
	case errors.As(err, &tooLarge):
		observe(operation, err)
		writeError(w, r, err)
	default:
		reject(w, operation, http.StatusBadRequest, "malformed multipart body")
	}
}
