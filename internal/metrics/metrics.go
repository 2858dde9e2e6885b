// Package metrics records sync outcomes on a private Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the doccal collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	eventsTotal    *prometheus.CounterVec
	documentsTotal *prometheus.CounterVec
	refreshTotal   *prometheus.CounterVec
	insertDuration prometheus.Histogram
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doccal_events_total",
			Help: "Total number of candidate events by final status.",
		}, []string{"status"}),
		documentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doccal_documents_total",
			Help: "Total number of processed documents by outcome.",
		}, []string{"outcome"}),
		refreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doccal_token_refresh_total",
			Help: "Total number of access token refreshes by result.",
		}, []string{"result"}),
		insertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "doccal_insert_duration_seconds",
			Help:    "Histogram of remote event insertion latencies.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveEvent counts one event result by its sync status.
func (r *Recorder) ObserveEvent(status string) {
	if r == nil {
		return
	}
	r.eventsTotal.WithLabelValues(status).Inc()
}

// ObserveDocument counts one processed document: ok, malformed or aborted.
func (r *Recorder) ObserveDocument(outcome string) {
	if r == nil {
		return
	}
	r.documentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRefresh counts a token refresh attempt.
func (r *Recorder) ObserveRefresh(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.refreshTotal.WithLabelValues(result).Inc()
}

// ObserveInsert records the latency of one remote insertion started at start.
func (r *Recorder) ObserveInsert(start time.Time) {
	if r == nil {
		return
	}
	r.insertDuration.Observe(time.Since(start).Seconds())
}

// WriteTextfile dumps all metrics in the text exposition format, for
// pickup by a node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
