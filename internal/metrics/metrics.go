package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	Settlements        *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	QuoteLookups       *prometheus.CounterVec
	EventsPublished    *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Settled orders by side and result code.",
			},
			[]string{"side", "code"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settlement_duration_seconds",
				Help:    "Time spent settling an order, quote lookup included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"side"},
		),
		QuoteLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_lookups_total",
				Help: "Quote lookups by source.",
			},
			[]string{"source"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Settlement events by sink and status.",
			},
			[]string{"sink", "status"},
		),
	}
	if registry != nil {
		registry.MustRegister(m.RequestCount, m.RequestDuration, m.Settlements, m.SettlementDuration, m.QuoteLookups, m.EventsPublished)
	}
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) QuoteLookup(source string) {
	if m == nil {
		return
	}
	m.QuoteLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) EventPublished(sink, status string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) ObserveSettlement(side, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(side, code).Inc()
	m.SettlementDuration.WithLabelValues(side).Observe(d.Seconds())
}
