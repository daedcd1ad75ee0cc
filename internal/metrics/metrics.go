package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lse"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	settlements        *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec
	lockWait           prometheus.Histogram
	lockTimeouts       prometheus.Counter
	riskScore          prometheus.Histogram
	riskDecisions      *prometheus.CounterVec
	eventsPublished    *prometheus.CounterVec
	idempotencyPurged  prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlements by transaction type and terminal status",
		}, []string{"type", "status"}),
		settlementDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "End-to-end settlement latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"type"}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring account locks",
			Buckets:   []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		lockTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Lock acquisitions that timed out",
		}),
		riskScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Composite risk scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		riskDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_decisions_total",
			Help:      "Risk decisions by verdict",
		}, []string{"decision"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Published events by type and result",
		}, []string{"type", "result"}),
		idempotencyPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_purged_total",
			Help:      "Expired idempotency records removed",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSettlement(txType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(txType, status).Inc()
	m.settlementDuration.WithLabelValues(txType).Observe(d.Seconds())
}

func (m *Metrics) ObserveLockWait(d time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
	if timedOut {
		m.lockTimeouts.Inc()
	}
}

func (m *Metrics) ObserveRisk(score int, decision string) {
	if m == nil {
		return
	}
	m.riskScore.Observe(float64(score))
	m.riskDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveEvent(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) ObservePurge(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.idempotencyPurged.Add(float64(n))
}
