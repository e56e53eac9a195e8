package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/xtding233/experiment-engine/internal/experiment"
)

func TestNewMetricsIsSingleton(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestObserveResolution(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.ResolutionsTotal)
	cycles := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(ErrorCycle))

	m.ObserveResolution(time.Now(), nil)
	m.ObserveResolution(time.Now(), fmt.Errorf("round r: %w", &experiment.CycleError{ParamID: "x", Path: []string{"x", "x"}}))

	assert.Equal(t, before+2, testutil.ToFloat64(m.ResolutionsTotal))
	assert.Equal(t, cycles+1, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(ErrorCycle)))
}

func TestTransitionsAndGauge(t *testing.T) {
	m := NewMetrics()
	back := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(TransitionBack))
	active := testutil.ToFloat64(m.ActiveEngines)

	m.RecordTransition(TransitionBack)
	m.EngineStarted()
	assert.Equal(t, back+1, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(TransitionBack)))
	assert.Equal(t, active+1, testutil.ToFloat64(m.ActiveEngines))
	m.EngineStopped()
	assert.Equal(t, active, testutil.ToFloat64(m.ActiveEngines))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveResolution(time.Now(), errors.New("boom"))
		m.RecordTransition(TransitionAdvance)
		m.EngineStarted()
		m.EngineStopped()
	})
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, ErrorEvaluation, ErrorKind(&experiment.EvalError{ParamID: "p", Err: errors.New("bad")}))
	assert.Equal(t, ErrorCycle, ErrorKind(experiment.ErrCircularDependency))
	assert.Equal(t, ErrorOther, ErrorKind(experiment.ErrUnknownParamType))
}
