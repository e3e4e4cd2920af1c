// Package metrics provides Prometheus metrics for sftpdesk.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdesk_operations_total",
			Help: "Total remote file operations by kind and result",
		},
		[]string{"op", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sftpdesk_operation_duration_seconds",
			Help:    "Remote file operation duration in seconds, connect through close",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdesk_operation_failures_total",
			Help: "Failed remote file operations by failing step",
		},
		[]string{"step"},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftpdesk_bytes_downloaded_total",
			Help: "Total bytes copied from remote hosts",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftpdesk_bytes_uploaded_total",
			Help: "Total bytes copied to remote hosts",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdesk_http_requests_total",
			Help: "Total number of bridge HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftpdesk_rate_limit_hits_total",
			Help: "Total bridge requests rejected by the rate limiter (429s)",
		},
	)

	sandboxConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdesk_sandbox_connections_total",
			Help: "Connections handled by the sandbox SFTP server",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOperation records one completed list/download/upload call. step is
// empty on success.
func RecordOperation(op, step string, duration time.Duration) {
	result := "success"
	if step != "" {
		result = "failed"
		failuresTotal.WithLabelValues(step).Inc()
	}
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDownloadBytes adds n to the downloaded byte counter.
func RecordDownloadBytes(n int64) {
	if n > 0 {
		bytesDownloaded.Add(float64(n))
	}
}

// RecordUploadBytes adds n to the uploaded byte counter.
func RecordUploadBytes(n int64) {
	if n > 0 {
		bytesUploaded.Add(float64(n))
	}
}

// RecordHTTPRequest records a bridge HTTP request.
func RecordHTTPRequest(method, path string, status int) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// HTTPRequests returns the HTTP request counter, for tests that inspect
// its series.
func HTTPRequests() prometheus.Collector {
	return httpRequestsTotal
}

// RecordRateLimitHit records a 429 response.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// RecordSandboxConnection records a sandbox connection outcome
// ("accepted", "rejected", "auth_failed").
func RecordSandboxConnection(result string) {
	sandboxConnectionsTotal.WithLabelValues(result).Inc()
}
