// Package observe holds the observers fed by cycle reports: Prometheus
// metrics, the SQLite timedata recorder and the per-cycle debug log.
//
// Metrics and Recorder are events.ReportHandler functions subscribed to the
// report bus, so they run off the cycle goroutine and can never delay a
// tick. DebugLog is a phase hook and runs on the cycle goroutine.
package observe

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/edgecycle/internal/events"
)

// Metrics exports cycle statistics and numeric channel values.
//
// The bus may deliver reports out of tick order. Counters take every
// report; gauges only move forward, per address, by tick.
type Metrics struct {
	ticks              prometheus.Counter
	duration           prometheus.Histogram
	controllerFailures *prometheus.CounterVec
	schedulerErrors    prometheus.Counter
	failedControllers  prometheus.Gauge
	channelValue       *prometheus.GaugeVec

	mu          sync.Mutex
	lastTick    uint64
	addressTick map[string]uint64
}

// NewMetrics registers the cycle metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		addressTick: make(map[string]uint64),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgecycle",
			Name:      "cycle_ticks_total",
			Help:      "Number of completed cycle ticks",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edgecycle",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a cycle tick",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}),
		controllerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgecycle",
			Name:      "controller_failures_total",
			Help:      "Controller runs that failed, panicked or were missing",
		}, []string{"controller"}),
		schedulerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgecycle",
			Name:      "scheduler_errors_total",
			Help:      "Ticks whose controller phase was skipped by a scheduler error",
		}),
		failedControllers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgecycle",
			Name:      "failed_controllers",
			Help:      "Failed controllers in the last tick",
		}),
		channelValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgecycle",
			Name:      "channel_value",
			Help:      "Last numeric or boolean value of a channel",
		}, []string{"address"}),
	}
}

// Observe implements events.ReportHandler.
func (m *Metrics) Observe(_ context.Context, r events.CycleReport) error {
	m.ticks.Inc()
	m.duration.Observe(r.Duration.Seconds())
	for _, f := range r.Failed {
		m.controllerFailures.WithLabelValues(f.ID).Inc()
	}
	if r.SchedulerError != "" {
		m.schedulerErrors.Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Tick >= m.lastTick {
		m.lastTick = r.Tick
		m.failedControllers.Set(float64(len(r.Failed)))
	}
	for _, s := range r.Changed {
		if seen, ok := m.addressTick[s.Address]; ok && r.Tick < seen {
			continue
		}
		m.addressTick[s.Address] = r.Tick
		if !s.Defined {
			m.channelValue.DeleteLabelValues(s.Address)
			continue
		}
		if v, ok := numeric(s.Value); ok {
			m.channelValue.WithLabelValues(s.Address).Set(v)
		}
	}
	return nil
}

// numeric converts the value kinds channels carry to float64. Reports
// decoded from JSON carry float64 for every number.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
