// Package metrics holds the prometheus instruments of the service. All
// methods are safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the indexer and API.
type Metrics struct {
	IngestedEntities *prometheus.CounterVec
	SchemaErrors     prometheus.Counter
	IngestCursor     prometheus.Gauge

	PollRefreshes  *prometheus.CounterVec
	StaleDiscarded prometheus.Counter

	QuoteRequests *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		IngestedEntities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paper_ingested_entities_total",
			Help: "Entities processed by ingest, by kind and upsert result",
		}, []string{"kind", "result"}),

		SchemaErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "paper_ingest_schema_errors_total",
			Help: "Log records rejected as schema violations",
		}),

		IngestCursor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paper_ingest_cursor_block",
			Help: "Highest block committed by ingest",
		}),

		PollRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paper_poll_refresh_total",
			Help: "Trading state refreshes by result (ok, partial, failed)",
		}, []string{"result"}),

		StaleDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "paper_poll_stale_discarded_total",
			Help: "Poll results dropped because a newer one was already applied",
		}),

		QuoteRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paper_quote_requests_total",
			Help: "Price quote requests by kind (spot, history) and source",
		}, []string{"kind", "source"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paper_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),

		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paper_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) RecordIngested(kind, result string) {
	if m == nil {
		return
	}
	m.IngestedEntities.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordSchemaError() {
	if m == nil {
		return
	}
	m.SchemaErrors.Inc()
}

func (m *Metrics) SetIngestCursor(block uint64) {
	if m == nil {
		return
	}
	m.IngestCursor.Set(float64(block))
}

func (m *Metrics) RecordPoll(result string) {
	if m == nil {
		return
	}
	m.PollRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordStaleDiscarded() {
	if m == nil {
		return
	}
	m.StaleDiscarded.Inc()
}

func (m *Metrics) RecordQuote(kind, source string) {
	if m == nil {
		return
	}
	m.QuoteRequests.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) RecordHTTP(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(seconds)
}
