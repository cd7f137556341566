// Package metrics holds the Prometheus registry and the collectors shared by
// the webhook server, the signal pipeline and the exchange adapter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps a private registry with the predefined collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	SignalsTotal        *prometheus.CounterVec
	TradesRecorded      *prometheus.CounterVec
	ExchangeCalls       *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	SnapshotsTaken      prometheus.Counter
}

// New creates a registry with Go runtime and process collectors registered.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	m.HTTPRequestDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.SignalsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_total",
		Help:      "Webhook signals processed, by classified intent and outcome",
	}, []string{"intent", "outcome"})

	m.TradesRecorded = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_recorded_total",
		Help:      "Trades written to the ledger, by trade type",
	}, []string{"type"})

	m.ExchangeCalls = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exchange_calls_total",
		Help:      "Exchange API calls, by operation and result",
	}, []string{"operation", "result"})

	m.BreakerState = m.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0: closed, 1: half-open, 2: open)",
	}, []string{"name"})

	m.SnapshotsTaken = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "account_snapshots_total",
		Help:      "Account snapshots persisted",
	})
	reg.MustRegister(m.SnapshotsTaken)

	return m
}

// NewCounterVec creates and registers a counter vector.
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labelNames)
	m.registry.MustRegister(cv)
	return cv
}

// NewGaugeVec creates and registers a gauge vector.
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(opts, labelNames)
	m.registry.MustRegister(gv)
	return gv
}

// NewHistogramVec creates and registers a histogram vector.
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(opts, labelNames)
	m.registry.MustRegister(hv)
	return hv
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSignal(intent, outcome string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) ObserveTrade(tradeType string) {
	if m == nil {
		return
	}
	m.TradesRecorded.WithLabelValues(tradeType).Inc()
}

func (m *Metrics) ObserveExchangeCall(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ExchangeCalls.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}

func (m *Metrics) ObserveSnapshot() {
	if m == nil {
		return
	}
	m.SnapshotsTaken.Inc()
}
