package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the router for the /files subtree. Both the bare and the
// slash-terminated bucket paths list files, matching what clients send.
func Routes(b *BucketHandler, f *FileHandler) http.Handler {
	r := chi.NewRouter()

	r.Get("/", b.ListBuckets)
	r.Post("/", b.CreateBucket)

	r.Delete("/{bucket}", b.DeleteBucket)
	r.Delete("/{bucket}/", b.DeleteBucket)
	r.Get("/{bucket}", f.ListFiles)
	r.Get("/{bucket}/", f.ListFiles)
	r.Post("/{bucket}", f.UploadFile)
	r.Post("/{bucket}/", f.UploadFile)

	r.Get("/{bucket}/{filename}", f.DownloadFile)
	r.Head("/{bucket}/{filename}", f.DownloadFile)
	r.Put("/{bucket}/{filename}", f.OverwriteFile)
	r.Delete("/{bucket}/{filename}", f.DeleteFile)

	return r
}
