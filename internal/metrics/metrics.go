// Package metrics holds the Prometheus registry and the reconciliation,
// decision and HTTP metrics exposed at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

const namespace = "treasury"

// Metrics owns a private registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	PassesTotal       *prometheus.CounterVec
	PassDuration      prometheus.Histogram
	MutationsTotal    *prometheus.CounterVec
	VenueFetchErrors  *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	OpenPositions     prometheus.Gauge
	ExposureUSD       *prometheus.GaugeVec
	HedgeDecisions    *prometheus.CounterVec
	HedgeDeltaUSD     *prometheus.GaugeVec
	StopLossTriggered prometheus.Counter
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates a registry with Go runtime and process collectors plus the
// treasury metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.PassesTotal = m.counterVec("passes_total", "Reconciliation passes by outcome.", "dry_run", "outcome")
	m.PassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pass_duration_seconds",
		Help:      "Wall time of a full pass.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
	reg.MustRegister(m.PassDuration)
	m.MutationsTotal = m.counterVec("ledger_mutations_total", "Ledger mutations by venue and kind.", "venue", "kind", "dry_run")
	m.VenueFetchErrors = m.counterVec("venue_fetch_errors_total", "Failed venue snapshot fetches.", "venue")
	m.BreakerState = m.gaugeVec("venue_breaker_state", "Venue circuit breaker state (0 closed, 1 half-open, 2 open).", "venue")
	m.OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_positions",
		Help:      "Open ledger rows after the last live pass.",
	})
	reg.MustRegister(m.OpenPositions)
	m.ExposureUSD = m.gaugeVec("exposure_usd", "Aggregate exposure per asset.", "symbol")
	m.HedgeDecisions = m.counterVec("hedge_decisions_total", "Hedge decisions by action.", "symbol", "action")
	m.HedgeDeltaUSD = m.gaugeVec("hedge_delta_usd", "Last advised hedge delta per asset (0 when in range).", "symbol")
	m.StopLossTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stop_loss_triggered_total",
		Help:      "Stop-loss advisories raised.",
	})
	reg.MustRegister(m.StopLossTriggered)
	m.HTTPRequestsTotal = m.counterVec("http_requests_total", "HTTP requests.", "method", "path", "status")
	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
	reg.MustRegister(m.HTTPDuration)

	return m
}

func (m *Metrics) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	m.registry.MustRegister(cv)
	return cv
}

func (m *Metrics) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	m.registry.MustRegister(gv)
	return gv
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePass records a finished pass report.
func (m *Metrics) ObservePass(report domain.PassReport) {
	if m == nil {
		return
	}
	dry := boolLabel(report.DryRun)
	outcome := "ok"
	if report.Summary.Errored > 0 {
		outcome = "partial"
	}
	m.PassesTotal.WithLabelValues(dry, outcome).Inc()
	m.PassDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	for _, v := range report.Venues {
		s := v.Summary
		for kind, n := range map[domain.MutationKind]int{
			domain.MutationInsert: s.Inserted,
			domain.MutationUpdate: s.Updated,
			domain.MutationMerge:  s.Merged,
			domain.MutationClose:  s.Closed,
		} {
			if n > 0 {
				m.MutationsTotal.WithLabelValues(v.Venue, string(kind), dry).Add(float64(n))
			}
		}
		if v.Error != "" {
			m.VenueFetchErrors.WithLabelValues(v.Venue).Inc()
		}
	}

	if report.DryRun {
		return
	}
	m.ExposureUSD.Reset()
	for _, e := range report.Exposures {
		m.ExposureUSD.WithLabelValues(e.Symbol).Set(e.ValueUSD)
	}
	m.HedgeDeltaUSD.Reset()
	for _, d := range report.HedgeDecisions {
		m.HedgeDecisions.WithLabelValues(d.Symbol, string(d.Action)).Inc()
		m.HedgeDeltaUSD.WithLabelValues(d.Symbol).Set(d.DeltaUSD)
	}
	m.StopLossTriggered.Add(float64(len(report.StopLosses)))
}

// SetOpenPositions records the open row count.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(n))
}

// SetBreakerState records a venue breaker transition.
func (m *Metrics) SetBreakerState(venue string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(venue).Set(state)
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
