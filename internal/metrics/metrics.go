// Package metrics exposes Prometheus metrics for the portal API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	docsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_docs_cache_lookups_total",
			Help: "Docs cache lookups by kind (tree, file) and result (hit, miss)",
		},
		[]string{"kind", "result"},
	)

	docsUpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_docs_upstream_duration_seconds",
			Help:    "Docs host fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "status"},
	)

	docsSearchSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_docs_search_skipped_files_total",
			Help: "Files skipped by content search because their fetch failed",
		},
	)

	directoryProblems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_directory_problems",
			Help: "Structural problems found in the last indexed directory snapshot",
		},
		[]string{"department", "kind"},
	)

	searchBackendQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_entry_search_queries_total",
			Help: "Entry search queries by backend",
		},
		[]string{"backend"},
	)
)

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	route := RouteLabel(path)
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordDocsCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	docsCacheLookups.WithLabelValues(kind, result).Inc()
}

func RecordDocsUpstream(kind string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	docsUpstreamDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

func RecordDocsSearchSkipped() {
	docsSearchSkipped.Inc()
}

func SetDirectoryProblems(departmentID, kind string, count int) {
	directoryProblems.WithLabelValues(departmentID, kind).Set(float64(count))
}

func RecordEntrySearch(backend string) {
	searchBackendQueries.WithLabelValues(backend).Inc()
}

// RouteLabel keeps label cardinality bounded: only the first two path
// segments survive, so /api/resolve/eng/docs becomes /api/resolve/:rest.
func RouteLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) <= 2 {
		return "/" + strings.Join(parts, "/")
	}
	return "/" + parts[0] + "/" + parts[1] + "/:rest"
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
