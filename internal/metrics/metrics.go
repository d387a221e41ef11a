// Package metrics defines the Prometheus collectors exported by filestore.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestore_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filestore_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filestore_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filestore_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Storage operation metrics.
var (
	// OperationsTotal counts storage operations by operation name and outcome
	// kind ("success" or the error kind).
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestore_operations_total",
			Help: "Storage operations by type and outcome",
		},
		[]string{"operation", "status"},
	)

	// BucketsTotal is a gauge tracking the number of buckets seen by the
	// latest bucket listing or mutation.
	BucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "filestore_buckets_total",
			Help: "Total buckets",
		},
	)

	// ContainmentViolationsTotal counts resolved paths that escaped their
	// expected parent directory.
	ContainmentViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filestore_containment_violations_total",
			Help: "Paths rejected because they resolved outside their parent",
		},
	)

	// BytesReceivedTotal counts file bytes written by upload and overwrite.
	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filestore_bytes_received_total",
			Help: "Total file bytes stored",
		},
	)

	// BytesSentTotal counts file bytes streamed by download.
	BytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filestore_bytes_sent_total",
			Help: "Total file bytes downloaded",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			HTTPResponseSize,
			OperationsTotal,
			BucketsTotal,
			ContainmentViolationsTotal,
			BytesReceivedTotal,
			BytesSentTotal,
		)
		// Initialize OperationsTotal so it appears in /metrics output
		// even before any operation has been performed.
		OperationsTotal.WithLabelValues("ListBuckets", "success")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual bucket and file names.
func NormalizePath(path string) string {
	switch path {
	case "/health":
		return "/health"
	case "/journal":
		return "/journal"
	case "/docs", "/docs/":
		return "/docs"
	case "/metrics":
		return "/metrics"
	case "/", "":
		return "/"
	}

	// Stoplight Elements assets and the OpenAPI document variants.
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/openapi") {
		return "/openapi"
	}

	rest, ok := strings.CutPrefix(path, "/files")
	if !ok {
		return "/other"
	}
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return "/files/"
	}

	idx := strings.IndexByte(rest, '/')
	if idx < 0 || rest[idx+1:] == "" {
		return "/files/{bucket}"
	}
	return "/files/{bucket}/{filename}"
}
