package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stjepano/filestore/internal/config"
	"github.com/stjepano/filestore/internal/journal"
	"github.com/stjepano/filestore/internal/metrics"
	"github.com/stjepano/filestore/internal/pathguard"
	"github.com/stjepano/filestore/internal/storage"
)

func init() {
	// Register metrics once for the entire test binary so that tests
	// checking /metrics output see the expected collectors.
	metrics.Register()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.MaxUploadSize = 1 << 20
	return cfg
}

func newTestStore(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	guard, err := pathguard.New(t.TempDir())
	if err != nil {
		t.Fatalf("pathguard.New failed: %v", err)
	}
	store, err := storage.NewLocalStore(guard)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return store, guard.Root()
}

// newTestServer creates a Server over a temp content root with default config.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, _ := newTestStore(t)
	return newTestServerWithConfig(t, testConfig(), store)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, store storage.Store, opts ...Option) *Server {
	t.Helper()
	srv, err := New(cfg, store, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return srv
}

// testRequest performs an HTTP request against the full middleware chain.
func testRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "GET", "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}
	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		t.Errorf("GET /health Content-Type = %q, want application/json", ct)
	}

	var body HealthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET /health body unmarshal error: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("GET /health status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %+v, want ok", body.Checks["storage"])
	}
}

func TestHealthEndpointRootGone(t *testing.T) {
	store, root := newTestStore(t)
	srv := newTestServerWithConfig(t, testConfig(), store)
	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}

	rec := testRequest(t, srv, "GET", "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health status = %d, want 503", rec.Code)
	}
	var body HealthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "error" || body.Checks["storage"].Status != "error" {
		t.Errorf("body = %+v", body)
	}
	if body.Checks["storage"].Error == "" {
		t.Error("storage check has no error text")
	}
	if strings.Contains(rec.Body.String(), root) {
		t.Errorf("health body leaks the content root: %s", rec.Body.String())
	}

	rec = testRequest(t, srv, "HEAD", "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("HEAD /health status = %d, want 503", rec.Code)
	}
}

func TestHealthHeadEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "HEAD", "/health")

	if rec.Code != http.StatusOK {
		t.Errorf("HEAD /health status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealthCheckDisabled(t *testing.T) {
	store, _ := newTestStore(t)
	cfg := testConfig()
	cfg.Observability.HealthCheck = false
	srv := newTestServerWithConfig(t, cfg, store)

	rec := testRequest(t, srv, "GET", "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET /health body unmarshal error: %v", err)
	}
	if _, ok := body["checks"]; ok {
		t.Error("GET /health with health_check disabled should not contain 'checks'")
	}
}

func TestDocsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "GET", "/docs")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /docs status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("GET /docs Content-Type = %q, want text/html", ct)
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := testRequest(t, srv, "GET", "/openapi.json")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /openapi.json status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET /openapi.json body is not valid JSON: %v", err)
	}
	paths, ok := body["paths"].(map[string]any)
	if !ok {
		t.Fatal("OpenAPI document has no paths")
	}
	if _, ok := paths["/health"]; !ok {
		t.Error("OpenAPI document does not describe /health")
	}
	if _, ok := paths["/journal"]; ok {
		t.Error("OpenAPI document describes /journal although the journal is disabled")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Vec metrics only appear after at least one observation.
	testRequest(t, srv, "GET", "/health")
	testRequest(t, srv, "GET", "/files/")

	rec := testRequest(t, srv, "GET", "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, name := range []string{
		"filestore_http_requests_total",
		"filestore_http_request_duration_seconds",
		"filestore_operations_total",
		"filestore_buckets_total",
		"filestore_containment_violations_total",
		"filestore_bytes_received_total",
		"filestore_bytes_sent_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("GET /metrics does not contain %s", name)
		}
	}
	if !strings.Contains(body, `path="/files/"`) {
		t.Error("GET /metrics has no normalized /files/ label")
	}
}

func TestMetricsDisabled(t *testing.T) {
	store, _ := newTestStore(t)
	cfg := testConfig()
	cfg.Observability.Metrics = false
	srv := newTestServerWithConfig(t, cfg, store)

	rec := testRequest(t, srv, "GET", "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics with metrics disabled status = %d, want 404", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	rec := testRequest(t, srv, "GET", "/files/")
	id := rec.Header().Get(requestIDHeader)
	if len(id) != 16 {
		t.Errorf("request ID = %q, want 16 characters", id)
	}
	if got := rec.Header().Get("Server"); got != "filestore" {
		t.Errorf("Server header = %q", got)
	}

	req := httptest.NewRequest("GET", "/files/", nil)
	req.Header.Set(requestIDHeader, "caller-chosen")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "caller-chosen" {
		t.Errorf("request ID = %q, want caller-chosen", got)
	}
}

func TestFilesRoutesMounted(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/files/", strings.NewReader("photos"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /files/ status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = testRequest(t, srv, "GET", "/files/")
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(names) != 1 || names[0] != "photos" {
		t.Errorf("buckets = %v, want [photos]", names)
	}

	rec = testRequest(t, srv, "GET", "/files/photos/")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("GET /files/photos/ = %d %q", rec.Code, rec.Body.String())
	}
}

func TestJournalEndpoint(t *testing.T) {
	store, _ := newTestStore(t)
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	srv := newTestServerWithConfig(t, testConfig(), journal.NewRecorder(store, j), WithJournal(j))

	for _, name := range []string{"one", "two", "three"} {
		req := httptest.NewRequest("POST", "/files/", strings.NewReader(name))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("create %s: status %d", name, rec.Code)
		}
	}

	rec := testRequest(t, srv, "GET", "/journal?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /journal status = %d, body %s", rec.Code, rec.Body.String())
	}
	var entries []journal.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Bucket != "three" || entries[0].Operation != journal.OpCreateBucket {
		t.Errorf("newest entry = %+v", entries[0])
	}

	rec = testRequest(t, srv, "GET", "/journal?limit=0")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("GET /journal?limit=0 status = %d, want 422", rec.Code)
	}

	rec = testRequest(t, srv, "GET", "/health")
	var body HealthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Checks["journal"].Status != "ok" {
		t.Errorf("journal check = %+v", body.Checks["journal"])
	}
}
