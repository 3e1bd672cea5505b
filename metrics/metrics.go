// Package metrics records collection-run counters in Prometheus form.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsharvest"

// Recorder holds the counters for listing, enrichment and sink activity. A
// nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	PagesFetched    *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	TopicsCompleted *prometheus.CounterVec
	RecordsEnriched *prometheus.CounterVec
	BatchesWritten  prometheus.Counter
	ChunkFailures   prometheus.Counter
	FetchDuration   *prometheus.HistogramVec
}

// NewRecorder registers all collectors on a private registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Recorder{registry: reg}

	r.PagesFetched = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listing",
		Name:      "pages_fetched_total",
		Help:      "Listing pages fetched successfully, per topic",
	}, []string{"topic"})

	r.RateLimited = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listing",
		Name:      "rate_limited_total",
		Help:      "Listing responses with status 429, per topic",
	}, []string{"topic"})

	r.TopicsCompleted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listing",
		Name:      "topics_completed_total",
		Help:      "Topics whose collection ended, by outcome",
	}, []string{"outcome"})

	r.RecordsEnriched = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "detail",
		Name:      "records_enriched_total",
		Help:      "Enriched records built, split by partial flag",
	}, []string{"partial"})

	r.BatchesWritten = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "batches_written_total",
		Help:      "Batches appended to the sink",
	})

	r.ChunkFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "detail",
		Name:      "chunk_failures_total",
		Help:      "Chunks aborted by an enrichment or sink error",
	})

	r.FetchDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of upstream HTTP fetches",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"stage"})

	return r
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) PageFetched(topic string) {
	if r == nil {
		return
	}
	r.PagesFetched.WithLabelValues(topic).Inc()
}

func (r *Recorder) RateLimitHit(topic string) {
	if r == nil {
		return
	}
	r.RateLimited.WithLabelValues(topic).Inc()
}

// TopicDone counts a finished topic; outcome is "succeeded" or "failed".
func (r *Recorder) TopicDone(outcome string) {
	if r == nil {
		return
	}
	r.TopicsCompleted.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordEnriched(partial bool) {
	if r == nil {
		return
	}
	label := "false"
	if partial {
		label = "true"
	}
	r.RecordsEnriched.WithLabelValues(label).Inc()
}

func (r *Recorder) BatchWritten() {
	if r == nil {
		return
	}
	r.BatchesWritten.Inc()
}

func (r *Recorder) ChunkFailed() {
	if r == nil {
		return
	}
	r.ChunkFailures.Inc()
}

// ObserveFetch records the duration in seconds of one fetch for stage
// ("listing" or "detail").
func (r *Recorder) ObserveFetch(stage string, seconds float64) {
	if r == nil {
		return
	}
	r.FetchDuration.WithLabelValues(stage).Observe(seconds)
}
