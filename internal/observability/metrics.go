package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/webitel/relay-probe/internal/domain/model"
	"github.com/webitel/relay-probe/internal/domain/registry"
)

// Interface guard
var _ registry.Observer = (*Metrics)(nil)

// Metrics owns a private registry so tests and multiple apps never collide on
// the global default.
type Metrics struct {
	Registry *prometheus.Registry

	framesReceived   *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	exchanges        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastRunSuccess   prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayprobe",
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Inbound frames decoded, by verb.",
			},
			[]string{"verb"},
		),
		framesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayprobe",
				Subsystem: "frames",
				Name:      "dropped_total",
				Help:      "Inbound frames absorbed by the correlator, by reason.",
			},
			[]string{"reason"},
		),
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayprobe",
				Subsystem: "exchange",
				Name:      "finished_total",
				Help:      "Exchanges released, by kind and final state.",
			},
			[]string{"kind", "state"},
		),
		exchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relayprobe",
				Subsystem: "exchange",
				Name:      "duration_seconds",
				Help:      "Time from registration to release.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "state"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayprobe",
				Subsystem: "scenario",
				Name:      "runs_total",
				Help:      "Scenario runs, by outcome.",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "relayprobe",
				Subsystem: "scenario",
				Name:      "run_duration_seconds",
				Help:      "Wall time of a full scenario run.",
				Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 20, 30, 60},
			},
		),
		lastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relayprobe",
				Subsystem: "scenario",
				Name:      "last_run_success",
				Help:      "1 if the most recent run passed every assertion, else 0.",
			},
		),
	}

	m.Registry.MustRegister(
		m.framesReceived,
		m.framesDropped,
		m.exchanges,
		m.exchangeDuration,
		m.runs,
		m.runDuration,
		m.lastRunSuccess,
	)
	return m
}

func (m *Metrics) FrameReceived(verb model.Verb) {
	m.framesReceived.WithLabelValues(string(verb)).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ExchangeFinished(kind registry.Kind, state registry.State, elapsed time.Duration) {
	m.exchanges.WithLabelValues(string(kind), state.String()).Inc()
	m.exchangeDuration.WithLabelValues(string(kind), state.String()).Observe(elapsed.Seconds())
}

// RecordRun tracks one scenario outcome: "passed", "failed" or "skipped".
func (m *Metrics) RecordRun(outcome string, duration time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	if outcome == "skipped" {
		return
	}
	m.runDuration.Observe(duration.Seconds())
	if outcome == "passed" {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
}
