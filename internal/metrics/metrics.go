package metrics

import (
	"runtime"
	"strconv"
	"time"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Fold metrics
	FoldsTotal       *CounterVec // labels: status
	FoldErrors       *CounterVec // labels: code
	FoldDuration     *Histogram
	DegenerateLabels *Counter
	TopKAccuracy     *GaugeVec // labels: k

	// Embedding metrics
	EmbedBatches  *Counter
	EmbedItems    *Counter
	EmbedLatency  *Histogram
	QueriesScored *Counter

	// Cache metrics
	CacheHits   *CounterVec // labels: cache_type
	CacheMisses *CounterVec // labels: cache_type
	CacheSize   *GaugeVec   // labels: cache_type

	// Event bus metrics
	BusEventsPublished *CounterVec   // labels: topic
	BusEventLatency    *HistogramVec // labels: topic
	BusErrors          *CounterVec   // labels: topic

	// HTTP metrics
	HTTPRequests         *CounterVec   // labels: method, path, status
	HTTPDuration         *HistogramVec // labels: method, path
	HTTPRequestsInFlight *Gauge

	// System metrics
	GoroutineCount *Gauge
	MemoryUsage    *Gauge
	Uptime         *Gauge

	startTime time.Time
}

// New creates a new metrics instance.
func New() *Metrics {
	return &Metrics{
		FoldsTotal: NewCounterVec(
			"reco_folds_total",
			"Total number of evaluated folds",
			[]string{"status"},
		),
		FoldErrors: NewCounterVec(
			"reco_fold_errors_total",
			"Total number of failed folds by error code",
			[]string{"code"},
		),
		FoldDuration: NewHistogram(
			"reco_fold_duration_ms",
			"Fold evaluation duration in milliseconds",
			[]float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000, 300000},
		),
		DegenerateLabels: NewCounter(
			"reco_degenerate_labels_total",
			"Validation labels whose records were all taken into the gallery",
			nil,
		),
		TopKAccuracy: NewGaugeVec(
			"reco_top_k_accuracy",
			"Top-k accuracy of the most recent fold",
			[]string{"k"},
		),

		EmbedBatches: NewCounter(
			"reco_embed_batches_total",
			"Total number of embedded batches",
			nil,
		),
		EmbedItems: NewCounter(
			"reco_embed_items_total",
			"Total number of embedded items",
			nil,
		),
		EmbedLatency: NewHistogram(
			"reco_embed_latency_ms",
			"Batch embedding latency in milliseconds",
			[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		),
		QueriesScored: NewCounter(
			"reco_queries_scored_total",
			"Total number of query rows scored against a gallery",
			nil,
		),

		CacheHits: NewCounterVec(
			"reco_cache_hits_total",
			"Total number of cache hits",
			[]string{"cache_type"},
		),
		CacheMisses: NewCounterVec(
			"reco_cache_misses_total",
			"Total number of cache misses",
			[]string{"cache_type"},
		),
		CacheSize: NewGaugeVec(
			"reco_cache_size",
			"Current number of entries in cache",
			[]string{"cache_type"},
		),

		BusEventsPublished: NewCounterVec(
			"reco_bus_events_published_total",
			"Total number of events published to the bus",
			[]string{"topic"},
		),
		BusEventLatency: NewHistogramVec(
			"reco_bus_event_latency_seconds",
			"Event publish latency in seconds",
			[]string{"topic"},
			[]float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		),
		BusErrors: NewCounterVec(
			"reco_bus_errors_total",
			"Total number of bus publish errors",
			[]string{"topic"},
		),

		HTTPRequests: NewCounterVec(
			"reco_http_requests_total",
			"Total number of HTTP requests",
			[]string{"method", "path", "status"},
		),
		HTTPDuration: NewHistogramVec(
			"reco_http_request_duration_seconds",
			"HTTP request duration in seconds",
			[]string{"method", "path"},
			[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		),
		HTTPRequestsInFlight: NewGauge(
			"reco_http_requests_in_flight",
			"Number of HTTP requests currently being served",
			nil,
		),

		GoroutineCount: NewGauge(
			"reco_goroutines",
			"Number of goroutines",
			nil,
		),
		MemoryUsage: NewGauge(
			"reco_memory_bytes",
			"Allocated heap memory in bytes",
			nil,
		),
		Uptime: NewGauge(
			"reco_uptime_seconds",
			"Process uptime in seconds",
			nil,
		),

		startTime: time.Now(),
	}
}

// collectSystemMetrics refreshes runtime gauges. Called on every scrape.
func (m *Metrics) collectSystemMetrics() {
	m.GoroutineCount.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsage.Set(float64(memStats.Alloc))

	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordFold records the outcome of one fold.
func (m *Metrics) RecordFold(duration time.Duration, err error) {
	code := ""
	if err != nil {
		code = errorCode(err)
	}
	m.recordFold(duration, code)
}

// recordFold records a fold outcome; an empty code means success.
func (m *Metrics) recordFold(duration time.Duration, code string) {
	m.FoldDuration.Observe(float64(duration.Milliseconds()))
	if code == "" {
		m.FoldsTotal.WithLabels("succeeded").Inc()
		return
	}
	m.FoldsTotal.WithLabels("failed").Inc()
	m.FoldErrors.WithLabels(code).Inc()
}

// RecordAccuracy sets the top-k accuracy gauge.
func (m *Metrics) RecordAccuracy(k int, accuracy float64) {
	m.TopKAccuracy.WithLabels(strconv.Itoa(k)).Set(accuracy)
}

// RecordDegenerate counts labels left without query records.
func (m *Metrics) RecordDegenerate(labels int) {
	m.DegenerateLabels.Add(int64(labels))
}

// RecordEmbedBatch records one embedded batch.
func (m *Metrics) RecordEmbedBatch(latency time.Duration, items int) {
	m.EmbedBatches.Inc()
	m.EmbedItems.Add(int64(items))
	m.EmbedLatency.Observe(float64(latency.Microseconds()) / 1000)
}

// RecordQueriesScored records query rows scored against a gallery.
func (m *Metrics) RecordQueriesScored(n int) {
	m.QueriesScored.Add(int64(n))
}

// RecordBusPublish records event bus publish metrics.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventsPublished.WithLabels(topic).Inc()
	m.BusEventLatency.WithLabels(topic).Observe(latency.Seconds())
	if err != nil {
		m.BusErrors.WithLabels(topic).Inc()
	}
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabels(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabels(cacheType).Inc()
}

// UpdateCacheSize updates the cache size.
func (m *Metrics) UpdateCacheSize(cacheType string, size int) {
	m.CacheSize.WithLabels(cacheType).Set(float64(size))
}

// RecordHTTP records HTTP request metrics.
// This is called by the HTTP middleware.
func (m *Metrics) RecordHTTP(method, path string, status int, durationSeconds float64) {
	normalizedPath := normalizePath(path)
	m.HTTPRequests.WithLabels(method, normalizedPath, statusCode(status)).Inc()
	m.HTTPDuration.WithLabels(method, normalizedPath).Observe(durationSeconds)
}

// errorCode labels an error by its application code.
func errorCode(err error) string {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.Code
	}
	return "generic"
}
