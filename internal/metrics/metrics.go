// Package metrics exposes Prometheus instrumentation for resolution and
// engine activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xtding233/experiment-engine/internal/experiment"
)

// Transition kinds.
const (
	TransitionAdvance     = "advance"
	TransitionBack        = "back"
	TransitionRecalculate = "recalculate"
)

// Error kinds.
const (
	ErrorCycle      = "cycle"
	ErrorEvaluation = "evaluation"
	ErrorOther      = "other"
)

type Metrics struct {
	ResolutionsTotal prometheus.Counter
	ResolveDuration  prometheus.Histogram
	ErrorsTotal      *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	ActiveEngines    prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide collector set, registering it with
// the default registry on first use.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ResolutionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "experiment_resolutions_total",
				Help: "Total number of parameter resolution passes",
			}),
			ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "experiment_resolve_duration_seconds",
				Help:    "Duration of parameter resolution passes",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			}),
			ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "experiment_resolution_errors_total",
				Help: "Resolution failures by kind",
			}, []string{"kind"}),
			TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "experiment_engine_transitions_total",
				Help: "Step engine transitions by kind",
			}, []string{"kind"}),
			ActiveEngines: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "experiment_engines_active",
				Help: "Current number of live step engines",
			}),
		}
	})
	return metricsInstance
}

// ObserveResolution records one resolution pass that started at start and
// ended with err.
func (m *Metrics) ObserveResolution(start time.Time, err error) {
	if m == nil || m.ResolutionsTotal == nil {
		return
	}
	m.ResolutionsTotal.Inc()
	m.ResolveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.ErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
	}
}

func (m *Metrics) RecordTransition(kind string) {
	if m == nil || m.TransitionsTotal == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) EngineStarted() {
	if m == nil || m.ActiveEngines == nil {
		return
	}
	m.ActiveEngines.Inc()
}

func (m *Metrics) EngineStopped() {
	if m == nil || m.ActiveEngines == nil {
		return
	}
	m.ActiveEngines.Dec()
}

// ErrorKind maps a resolution error to its metric label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, experiment.ErrCircularDependency):
		return ErrorCycle
	case errors.Is(err, experiment.ErrEvaluation):
		return ErrorEvaluation
	default:
		return ErrorOther
	}
}
