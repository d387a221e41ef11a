package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/stjepano/filestore/internal/ident"
	"github.com/stjepano/filestore/internal/metrics"
	"github.com/stjepano/filestore/internal/storage"
)

// maxBucketNameBody caps the create-bucket request body. Names are short;
// anything longer is rejected by validation anyway.
const maxBucketNameBody = 4096

// BucketHandler serves the bucket collection.
type BucketHandler struct {
	store storage.Store
}

// NewBucketHandler creates a BucketHandler backed by store.
func NewBucketHandler(store storage.Store) *BucketHandler {
	return &BucketHandler{store: store}
}

// ListBuckets handles GET /files/ and returns the bucket names as a JSON array.
func (h *BucketHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ListBuckets(r.Context())
	observe("ListBuckets", err)
	if err != nil {
		writeError(w, r, err)
		return
	}

	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	metrics.BucketsTotal.Set(float64(len(names)))
	writeJSON(w, http.StatusOK, names)
}

// CreateBucket handles POST /files/. The request body is the bucket name as
// plain text; surrounding whitespace is ignored.
func (h *BucketHandler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBucketNameBody+1))
	if err != nil {
		reject(w, "CreateBucket", http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	if len(body) > maxBucketNameBody {
		reject(w, "CreateBucket", http.StatusRequestEntityTooLarge, "bucket name is too long")
		return
	}

	id, err := ident.ParseBucketID(strings.TrimSpace(string(body)))
	if err != nil {
		observe("CreateBucket", err)
		writeError(w, r, err)
		return
	}

	err = h.store.CreateBucket(r.Context(), id)
	observe("CreateBucket", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.BucketsTotal.Inc()
	writeOK(w)
}

// DeleteBucket handles DELETE /files/{bucket} and removes the bucket with
// everything in it.
func (h *BucketHandler) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	id, err := bucketParam(r)
	if err != nil {
		observe("DeleteBucket", err)
		writeError(w, r, err)
		return
	}

	err = h.store.DeleteBucket(r.Context(), id)
	observe("DeleteBucket", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.BucketsTotal.Dec()
	writeOK(w)
}
