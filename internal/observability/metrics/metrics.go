// Package metrics exposes Prometheus instrumentation for the HTTP surface,
// the provider fan-out, and the channel upload queue.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the metric vectors for one process. Paths are normalised
// before use as label values to keep cardinality bounded.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	providerUploads  *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec

	queueDepth     prometheus.Gauge
	queueProcessed *prometheus.CounterVec

	transcodeJobs    *prometheus.CounterVec
	cacheOperations  *prometheus.CounterVec
	bytesDistributed prometheus.Counter
}

var (
	defaultRecorder     *Recorder
	defaultRecorderOnce sync.Once
)

// Default returns the process-wide Recorder, creating it on first use.
func Default() *Recorder {
	defaultRecorderOnce.Do(func() {
		defaultRecorder = NewRecorder()
	})
	return defaultRecorder
}

// NewRecorder builds a Recorder backed by its own registry, so tests can
// instantiate recorders without colliding on metric names.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	recorder := &Recorder{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidvault_http_requests_total",
			Help: "HTTP requests handled, by method, normalised path, and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidvault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by method and normalised path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		providerUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidvault_provider_uploads_total",
			Help: "Provider upload attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidvault_provider_upload_duration_seconds",
			Help:    "Provider upload latency in seconds, by provider.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"provider"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vidvault_channel_queue_depth",
			Help: "Jobs waiting in the channel upload queue.",
		}),
		queueProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidvault_channel_queue_jobs_total",
			Help: "Channel queue jobs processed, by outcome.",
		}, []string{"outcome"}),
		transcodeJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidvault_transcode_jobs_total",
			Help: "Transcode rendition jobs, by label and outcome.",
		}, []string{"label", "outcome"}),
		cacheOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidvault_cache_operations_total",
			Help: "Cache lookups, by result.",
		}, []string{"result"}),
		bytesDistributed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidvault_distributed_bytes_total",
			Help: "Payload bytes shipped to providers.",
		}),
	}
	registry.MustRegister(
		recorder.requestsTotal,
		recorder.requestDuration,
		recorder.providerUploads,
		recorder.providerDuration,
		recorder.queueDepth,
		recorder.queueProcessed,
		recorder.transcodeJobs,
		recorder.cacheOperations,
		recorder.bytesDistributed,
	)
	return recorder
}

// Handler serves the Prometheus exposition endpoint for this Recorder.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	normalized := normalizePath(path)
	r.requestsTotal.WithLabelValues(method, normalized, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, normalized).Observe(duration.Seconds())
}

// ObserveProviderUpload records one provider upload attempt.
func (r *Recorder) ObserveProviderUpload(provider string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.providerUploads.WithLabelValues(provider, outcome).Inc()
	r.providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetQueueDepth publishes the channel queue's pending job count.
func (r *Recorder) SetQueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}

// ObserveQueueJob records one finished channel queue job.
func (r *Recorder) ObserveQueueJob(outcome string) {
	r.queueProcessed.WithLabelValues(outcome).Inc()
}

// ObserveTranscode records one rendition encode attempt.
func (r *Recorder) ObserveTranscode(label string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.transcodeJobs.WithLabelValues(label, outcome).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func (r *Recorder) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheOperations.WithLabelValues(result).Inc()
}

// AddDistributedBytes accumulates payload bytes shipped to providers.
func (r *Recorder) AddDistributedBytes(n int64) {
	if n > 0 {
		r.bytesDistributed.Add(float64(n))
	}
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}
