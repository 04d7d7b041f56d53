// Package metrics exposes engine progress as Prometheus metrics. Collectors
// are fed from the event bus, so the engine itself has no metrics code.
//
// Metrics:
//   - autobuild_runs_total{final_decision} - finished runs
//   - autobuild_runs_active - runs currently in progress
//   - autobuild_turns_total{status} - closed turns
//   - autobuild_synthetic_reports_total - turns that used a reconstructed report
//   - autobuild_turn_duration_seconds - histogram of turn wall time
//   - autobuild_checkpoints_total{tests} - checkpoints by test outcome
//   - autobuild_rollbacks_total - rollbacks to a passing checkpoint
//   - autobuild_stalls_total{trigger} - runs ended as stalled
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Iron-Ham/autobuild/internal/event"
)

// Metrics holds the engine collectors.
type Metrics struct {
	RunsTotal   *prometheus.CounterVec
	RunsActive  prometheus.Gauge
	TurnsTotal  *prometheus.CounterVec
	Synthetic   prometheus.Counter
	TurnSeconds prometheus.Histogram
	Checkpoints *prometheus.CounterVec
	Rollbacks   prometheus.Counter
	Stalls      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autobuild_runs_total",
				Help: "Total number of finished runs",
			},
			[]string{"final_decision"},
		),
		RunsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "autobuild_runs_active",
				Help: "Number of runs in progress",
			},
		),
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autobuild_turns_total",
				Help: "Total number of closed turns",
			},
			[]string{"status"},
		),
		Synthetic: f.NewCounter(
			prometheus.CounterOpts{
				Name: "autobuild_synthetic_reports_total",
				Help: "Total number of turns that used a reconstructed Player report",
			},
		),
		TurnSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autobuild_turn_duration_seconds",
				Help:    "Duration of one Player/Coach turn in seconds",
				Buckets: prometheus.ExponentialBuckets(15, 2, 9), // 15s to ~1h
			},
		),
		Checkpoints: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autobuild_checkpoints_total",
				Help: "Total number of checkpoints created",
			},
			[]string{"tests"}, // "pass" or "fail"
		),
		Rollbacks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "autobuild_rollbacks_total",
				Help: "Total number of rollbacks to a passing checkpoint",
			},
		),
		Stalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autobuild_stalls_total",
				Help: "Total number of runs ended as stalled",
			},
			[]string{"trigger"},
		),
	}
}

// Observe updates the collectors for one engine event.
func (m *Metrics) Observe(ev event.Event) {
	switch e := ev.(type) {
	case event.RunStartedEvent:
		m.RunsActive.Inc()
	case event.RunFinishedEvent:
		m.RunsActive.Dec()
		m.RunsTotal.WithLabelValues(e.FinalDecision).Inc()
	case event.TurnCompletedEvent:
		m.TurnsTotal.WithLabelValues(e.Status).Inc()
		m.TurnSeconds.Observe(e.Duration.Seconds())
		if e.Synthetic {
			m.Synthetic.Inc()
		}
	case event.CheckpointCreatedEvent:
		tests := "fail"
		if e.TestsPassed {
			tests = "pass"
		}
		m.Checkpoints.WithLabelValues(tests).Inc()
	case event.RolledBackEvent:
		m.Rollbacks.Inc()
	case event.StallDetectedEvent:
		m.Stalls.WithLabelValues(e.Trigger).Inc()
	}
}

// Subscribe feeds every event published on bus into m. The returned func
// removes the subscription.
func (m *Metrics) Subscribe(bus *event.Bus) func() {
	id := bus.SubscribeAll(m.Observe)
	return func() { bus.Unsubscribe(id) }
}
