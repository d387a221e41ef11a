package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/stjepano/filestore/internal/fileinfo"
	"github.com/stjepano/filestore/internal/metrics"
)

// multipartBody builds a form with a single file part.
func multipartBody(t *testing.T, field, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, h http.Handler, target, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	return do(t, h, req)
}

func TestUploadAndDownload(t *testing.T) {
	h, root := newTestRouter(t, 1<<20)
	createBucket(t, h, "photos")

	rec := upload(t, h, "/files/photos/", "a.png", "abcd")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	data, err := os.ReadFile(filepath.Join(root, "photos", "a.png"))
	if err != nil || string(data) != "abcd" {
		t.Fatalf("stored content = %q, %v", data, err)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/files/photos/a.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if rec.Body.String() != "abcd" {
		t.Errorf("download body = %q, want abcd", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=a.png" {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "4" {
		t.Errorf("Content-Length = %q, want 4", got)
	}
}

func TestDownloadNotAttachment(t *testing.T) {
	h, _ := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")
	upload(t, h, "/files/bucket/", "fileA.png", "abcd")

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/files/bucket/fileA.png?att=false", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "" {
		t.Errorf("Content-Disposition = %q, want none", got)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/files/bucket/fileA.png?att=maybe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("att=maybe status = %d, want 400", rec.Code)
	}
}

func TestDownloadHead(t *testing.T) {
	h, _ := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")
	upload(t, h, "/files/bucket/", "notes.txt", "hello")

	rec := do(t, h, httptest.NewRequest(http.MethodHead, "/files/bucket/notes.txt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD returned %d body bytes", rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Length"); got != "5" {
		t.Errorf("Content-Length = %q, want 5", got)
	}
}

func TestUploadFilenameOverride(t *testing.T) {
	h, root := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")

	rec := upload(t, h, "/files/bucket/?filename=something.png", "fileA.png", "abcd")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(root, "bucket", "something.png")); err != nil {
		t.Errorf("override name not used: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "bucket", "fileA.png")); !os.IsNotExist(err) {
		t.Errorf("part file name used despite override: %v", err)
	}
}

func TestUploadErrors(t *testing.T) {
	h, root := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")
	upload(t, h, "/files/bucket/", "taken.png", "abcd")

	tests := []struct {
		name     string
		target   string
		filename string
		want     int
	}{
		{"invalid bucket", "/files/bucket$$$$$../", "fileA.png", http.StatusBadRequest},
		{"traversal in part name", "/files/bucket/", `..\..\fileA.png`, http.StatusBadRequest},
		{"slash in part name", "/files/bucket/", "../../fileA.png", http.StatusBadRequest},
		{"traversal in override", `/files/bucket/?filename=..%5C..%5Csomething.php`, "fileA.png", http.StatusBadRequest},
		{"dotfile", "/files/bucket/", ".htaccess", http.StatusBadRequest},
		{"empty name", "/files/bucket/", "", http.StatusBadRequest},
		{"missing bucket", "/files/ghost/", "fileA.png", http.StatusNotFound},
		{"already exists", "/files/bucket/", "taken.png", http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := upload(t, h, tc.target, tc.filename, "data")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
			decodeError(t, rec)
		})
	}

	data, err := os.ReadFile(filepath.Join(root, "bucket", "taken.png"))
	if err != nil || string(data) != "abcd" {
		t.Errorf("existing file changed: %q, %v", data, err)
	}
}

func TestUploadWithoutFilePart(t *testing.T) {
	h, _ := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")

	body, contentType := multipartBody(t, "other", "a.txt", "data")
	req := httptest.NewRequest(http.MethodPost, "/files/bucket/", body)
	req.Header.Set("Content-Type", contentType)
	rec := do(t, h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/files/bucket/", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "text/plain")
	rec = do(t, h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-multipart status = %d, want 400", rec.Code)
	}
}

func TestUploadTooLarge(t *testing.T) {
	h, root := newTestRouter(t, 512)
	createBucket(t, h, "bucket")

	rec := upload(t, h, "/files/bucket/", "big.bin", strings.Repeat("x", 4096))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (body %s)", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(root, "bucket", "big.bin")); !os.IsNotExist(err) {
		t.Errorf("oversized upload stored: %v", err)
	}
}

func TestRejectedUploadsAreCounted(t *testing.T) {
	h, _ := newTestRouter(t, 512)
	createBucket(t, h, "bucket")
	upload(t, h, "/files/bucket/", "exists.txt", "x")

	count := func(op, status string) float64 {
		return testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues(op, status))
	}

	tests := []struct {
		name   string
		method string
		target string
		ctype  string
		body   func() io.Reader
		op     string
		status string
		code   int
	}{
		{"upload not multipart", http.MethodPost, "/files/bucket/", "text/plain",
			func() io.Reader { return strings.NewReader("raw") }, "UploadFile", "BadRequest", http.StatusBadRequest},
		{"upload without file part", http.MethodPost, "/files/bucket/", "",
			nil, "UploadFile", "BadRequest", http.StatusBadRequest},
		{"upload too large", http.MethodPost, "/files/bucket/", "",
			nil, "UploadFile", "RequestTooLarge", http.StatusRequestEntityTooLarge},
		{"overwrite malformed multipart", http.MethodPut, "/files/bucket/exists.txt", "multipart/form-data",
			func() io.Reader { return strings.NewReader("junk") }, "OverwriteFile", "BadRequest", http.StatusBadRequest},
		{"download bad att", http.MethodGet, "/files/bucket/exists.txt?att=maybe", "",
			func() io.Reader { return nil }, "DownloadFile", "BadRequest", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			ctype := tc.ctype
			switch {
			case tc.body != nil:
				body = tc.body()
			case tc.status == "RequestTooLarge":
				body, ctype = multipartBody(t, "file", "big.bin", strings.Repeat("x", 4096))
			default:
				body, ctype = multipartBody(t, "other", "a.txt", "data")
			}
			req := httptest.NewRequest(tc.method, tc.target, body)
			if ctype != "" {
				req.Header.Set("Content-Type", ctype)
			}

			before := count(tc.op, tc.status)
			rec := do(t, h, req)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.code, rec.Body.String())
			}
			if got := count(tc.op, tc.status) - before; got != 1 {
				t.Errorf("%s/%s counter moved by %v, want 1", tc.op, tc.status, got)
			}
		})
	}
}

func TestOverwriteMultipartAndRaw(t *testing.T) {
	h, _ := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")
	upload(t, h, "/files/bucket/", "fileA.png", "abcd")

	body, contentType := multipartBody(t, "file", "ignored.png", "xyz")
	req := httptest.NewRequest(http.MethodPut, "/files/bucket/fileA.png", body)
	req.Header.Set("Content-Type", contentType)
	rec := do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("multipart overwrite status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/files/bucket/fileA.png", nil))
	if rec.Body.String() != "xyz" {
		t.Errorf("after multipart overwrite body = %q, want xyz", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPut, "/files/bucket/fileA.png", strings.NewReader("raw bytes"))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec = do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("raw overwrite status = %d", rec.Code)
	}
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/files/bucket/fileA.png", nil))
	if rec.Body.String() != "raw bytes" {
		t.Errorf("after raw overwrite body = %q", rec.Body.String())
	}
}

func TestOverwriteErrors(t *testing.T) {
	h, _ := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"invalid bucket", "/files/bucket$$$$$../fileA.png", http.StatusBadRequest},
		{"invalid file", "/files/bucket/fileA..%5C..%5C.png", http.StatusBadRequest},
		{"missing bucket", "/files/ghost/fileA.png", http.StatusNotFound},
		{"missing file", "/files/bucket/fileA.png", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, httptest.NewRequest(http.MethodPut, tc.target, strings.NewReader("data")))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestListFiles(t *testing.T) {
	h, _ := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")
	upload(t, h, "/files/bucket/", "filea.png", "abcde")
	upload(t, h, "/files/bucket/", "b.txt", "hi")

	for _, path := range []string{"/files/bucket/", "/files/bucket"} {
		rec := do(t, h, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, rec.Code)
		}
		var records []fileinfo.Record
		if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("got %d records, want 2", len(records))
		}
		if records[0].Name != "b.txt" || records[1].Name != "filea.png" {
			t.Errorf("order = %s,%s", records[0].Name, records[1].Name)
		}
		if records[1].Size != 5 || records[1].MimeType != "image/png" {
			t.Errorf("record = %+v", records[1])
		}
	}
}

func TestListFilesJSONShape(t *testing.T) {
	h, _ := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")
	upload(t, h, "/files/bucket/", "filea.png", "abcde")

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/files/bucket/", nil))
	var raw []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	for _, key := range []string{"name", "size", "mimeType", "dateCreated"} {
		if _, ok := raw[0][key]; !ok {
			t.Errorf("record lacks %q: %v", key, raw[0])
		}
	}
}

func TestListFilesErrors(t *testing.T) {
	h, _ := newTestRouter(t, 1<<20)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/files/..%5C..%5Cshadow/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid bucket status = %d, want 400", rec.Code)
	}
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/files/bucket/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing bucket status = %d, want 404", rec.Code)
	}
}

func TestDeleteFile(t *testing.T) {
	h, root := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")
	upload(t, h, "/files/bucket/", "fileA.png", "abcd")

	rec := do(t, h, httptest.NewRequest(http.MethodDelete, "/files/bucket/fileA.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(root, "bucket", "fileA.png")); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/files/bucket/fileA.png", http.StatusNotFound},
		{"/files/ghost/fileA.png", http.StatusNotFound},
		{"/files/bucket/fileA%5C..%5C..%5Cshadow.png", http.StatusBadRequest},
		{"/files/bucket/..%2Fbucket2%2Fx", http.StatusBadRequest},
		{"/files/.%5C..%5C..%5CsomeDir/sensitive_data", http.StatusBadRequest},
	}
	for _, tc := range tests {
		rec := do(t, h, httptest.NewRequest(http.MethodDelete, tc.target, nil))
		if rec.Code != tc.want {
			t.Errorf("DELETE %s status = %d, want %d", tc.target, rec.Code, tc.want)
		}
	}
}

func TestPercentInFileNameIsNotDecodedTwice(t *testing.T) {
	h, root := newTestRouter(t, 1<<20)
	createBucket(t, h, "b")
	for name, content := range map[string]string{"%41.txt": "pct", "A.txt": "plain", "100%.txt": "full"} {
		if rec := upload(t, h, "/files/b/", name, content); rec.Code != http.StatusOK {
			t.Fatalf("upload %q: status %d, body %s", name, rec.Code, rec.Body.String())
		}
	}

	tests := []struct {
		target string
		want   string
	}{
		{"/files/b/%2541.txt", "pct"},
		{"/files/b/A.txt", "plain"},
		{"/files/b/%41.txt", "plain"},
		{"/files/b/100%25.txt", "full"},
	}
	for _, tc := range tests {
		rec := do(t, h, httptest.NewRequest(http.MethodGet, tc.target, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != tc.want {
			t.Errorf("GET %s = %d %q, want 200 %q", tc.target, rec.Code, rec.Body.String(), tc.want)
		}
	}

	rec := do(t, h, httptest.NewRequest(http.MethodDelete, "/files/b/%2541.txt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(root, "b", "%41.txt")); !os.IsNotExist(err) {
		t.Errorf("%%41.txt still present: %v", err)
	}
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/files/b/A.txt", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "plain" {
		t.Errorf("A.txt after deleting %%41.txt = %d %q", rec.Code, rec.Body.String())
	}
}

func TestContainmentViolationIsServerError(t *testing.T) {
	h, root := newTestRouter(t, 1<<20)
	createBucket(t, h, "bucket")

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret"), []byte("top secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "bucket", "secret")); err != nil {
		t.Fatal(err)
	}

	before := testutil.ToFloat64(metrics.ContainmentViolationsTotal)
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/files/bucket/secret", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decodeError(t, rec)
	if strings.Contains(resp.Message, outside) || strings.Contains(rec.Body.String(), "top secret") {
		t.Errorf("response leaks filesystem details: %q", rec.Body.String())
	}
	if after := testutil.ToFloat64(metrics.ContainmentViolationsTotal); after != before+1 {
		t.Errorf("violation counter = %v, want %v", after, before+1)
	}
}
