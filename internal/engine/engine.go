// Package engine walks a flattened experiment phase by phase.
//
// An Engine owns one simulation run: the current (round, phase) position,
// the random draws cached for the current round, the committed student
// inputs and the history table that later rounds read. Every transition
// resolves into temporaries first, so a failing resolution leaves the
// position and all state untouched.
//
// An Engine is not safe for concurrent use.
package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/metrics"
	"github.com/xtding233/experiment-engine/internal/sampling"
	"github.com/xtding233/experiment-engine/internal/template"
)

var ErrEmptyExperiment = errors.New("experiment has no rounds")

// roundState is what a round needs to be re-entered backwards.
type roundState struct {
	randoms map[string]any
	inputs  map[string]any
}

type Engine struct {
	runID   string
	flat    []experiment.FlatRoundConfig
	history []experiment.HistoryRow

	round int
	phase experiment.Phase

	resolved    experiment.Resolved
	inputs      map[string]any
	randomCache map[string]any
	left        map[int]roundState

	rng     sampling.RandomSource
	log     *zap.Logger
	metrics *metrics.Metrics
	closed  bool
}

type Option func(*Engine)

// WithRNG sets the source used for norm/unif draws and Math.random.
func WithRNG(rng sampling.RandomSource) Option {
	return func(e *Engine) { e.rng = rng }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New flattens cfg and enters round 0 at the intro phase.
func New(cfg experiment.Config, opts ...Option) (*Engine, error) {
	flat := experiment.FlattenConfig(cfg)
	if len(flat) == 0 {
		return nil, ErrEmptyExperiment
	}
	e := &Engine{
		runID: uuid.NewString(),
		flat:  flat,
		left:  make(map[int]roundState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = sampling.DefaultRNG()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.With(zap.String("run_id", e.runID))

	cache := e.sample(0)
	resolved, err := e.resolve(0, cache, nil, nil)
	if err != nil {
		return nil, err
	}
	e.randomCache = cache
	e.inputs = map[string]any{}
	e.resolved = resolved
	e.history = writeRow(nil, 0, resolved)
	e.metrics.EngineStarted()
	e.log.Debug("engine started", zap.Int("rounds", len(flat)))
	return e, nil
}

// Close releases the engine's slot in the active-engines gauge. It is
// idempotent; the engine stays readable afterwards.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.metrics.EngineStopped()
}

// sample draws every norm/unif parameter active at round idx once, in ID
// order so a seeded source replays identically.
func (e *Engine) sample(idx int) map[string]any {
	cache := make(map[string]any)
	params := e.flat[idx].Params
	for _, id := range params.IDs() {
		def := params[id].Def
		switch def.Type {
		case experiment.TypeNorm:
			cache[id] = sampling.Norm(e.rng, def.Mean, def.Std)
		case experiment.TypeUnif:
			cache[id] = sampling.Unif(e.rng, def.Min, def.Max)
		}
	}
	return cache
}

// resolve runs the resolver for round idx with cached draws pinned as
// constants. rows is the history visible to the round; only rows before
// idx are read.
func (e *Engine) resolve(idx int, cache, inputs map[string]any, rows []experiment.HistoryRow) (experiment.Resolved, error) {
	round := e.flat[idx]
	effective := make(experiment.MergedParams, len(round.Params))
	for id, entry := range round.Params {
		if v, ok := cache[id]; ok && entry.Def.IsRandom() {
			pinned := experiment.Constant(v)
			pinned.DataType = experiment.DataNumber
			entry = experiment.Entry{Def: pinned, Source: entry.Source}
		}
		effective[id] = entry
	}

	start := time.Now()
	resolved, err := experiment.ResolveFromMerged(effective, experiment.ResolveInput{
		StudentInputs: inputs,
		History:       &experiment.HistoryContext{Rows: rows, RoundIndex: idx},
		RNG:           e.rng,
	})
	e.metrics.ObserveResolution(start, err)
	if err != nil {
		e.log.Warn("resolution failed",
			zap.String("block", round.BlockID),
			zap.String("round", round.RoundID),
			zap.String("kind", metrics.ErrorKind(err)),
			zap.Error(err))
		return nil, fmt.Errorf("block %q round %q: %w", round.BlockID, round.RoundID, err)
	}
	// keep the authored definition visible to callers, not the pinned constant
	for id, p := range resolved {
		p.Definition = round.Params[id].Def
		resolved[id] = p
	}
	return resolved, nil
}

// writeRow returns rows with the row for idx written or appended.
func writeRow(rows []experiment.HistoryRow, idx int, resolved experiment.Resolved) []experiment.HistoryRow {
	out := slices.Clone(rows)
	row := resolved.Row(idx)
	if idx < len(out) {
		out[idx] = row
		return out
	}
	return append(out, row)
}

// Recalculate re-resolves the current round with inputs without moving.
// Cached draws are reused and the history row for the round is overwritten.
func (e *Engine) Recalculate(inputs map[string]any) error {
	resolved, err := e.resolve(e.round, e.randomCache, inputs, e.history)
	if err != nil {
		return err
	}
	e.inputs = cloneInputs(inputs)
	e.resolved = resolved
	e.history = writeRow(e.history, e.round, resolved)
	e.metrics.RecordTransition(metrics.TransitionRecalculate)
	return nil
}

// Advance commits inputs for the current phase and moves forward: to the
// next phase, or from the result phase into the next round with fresh
// draws and no inputs. At the end of the run it does nothing.
func (e *Engine) Advance(inputs map[string]any) error {
	if e.IsFinished() {
		return nil
	}
	resolved, err := e.resolve(e.round, e.randomCache, inputs, e.history)
	if err != nil {
		return err
	}
	rows := writeRow(e.history, e.round, resolved)

	if e.phase < experiment.PhaseResult {
		e.inputs = cloneInputs(inputs)
		e.resolved = resolved
		e.history = rows
		e.phase++
		e.metrics.RecordTransition(metrics.TransitionAdvance)
		e.log.Debug("advanced phase", zap.Int("round", e.round), zap.Stringer("phase", e.phase))
		return nil
	}

	next := e.round + 1
	cache := e.sample(next)
	nextResolved, err := e.resolve(next, cache, nil, rows)
	if err != nil {
		return err
	}
	e.left[e.round] = roundState{randoms: e.randomCache, inputs: cloneInputs(inputs)}
	e.history = writeRow(rows, next, nextResolved)
	e.round = next
	e.phase = experiment.PhaseIntro
	e.randomCache = cache
	e.inputs = map[string]any{}
	e.resolved = nextResolved
	e.metrics.RecordTransition(metrics.TransitionAdvance)
	e.log.Debug("entered round",
		zap.Int("round", next),
		zap.String("block_id", e.flat[next].BlockID),
		zap.String("round_id", e.flat[next].RoundID))
	return nil
}

// GoBack moves one phase backwards. Crossing into the previous round lands
// on its result phase with the draws and inputs it had when it was left,
// and re-resolves it. At the first step it does nothing.
func (e *Engine) GoBack() error {
	if e.phase > experiment.PhaseIntro {
		e.phase--
		e.metrics.RecordTransition(metrics.TransitionBack)
		return nil
	}
	if e.round == 0 {
		return nil
	}

	prev := e.round - 1
	st, ok := e.left[prev]
	if !ok {
		st = roundState{randoms: e.sample(prev), inputs: map[string]any{}}
	}
	resolved, err := e.resolve(prev, st.randoms, st.inputs, e.history)
	if err != nil {
		return err
	}
	e.history = writeRow(e.history, prev, resolved)
	e.round = prev
	e.phase = experiment.PhaseResult
	e.randomCache = st.randoms
	e.inputs = cloneInputs(st.inputs)
	e.resolved = resolved
	e.metrics.RecordTransition(metrics.TransitionBack)
	e.log.Debug("returned to round", zap.Int("round", prev))
	return nil
}

// ValidateInput checks candidate against the validation rule of the
// student_input paramID. Unknown params and empty rules accept everything.
func (e *Engine) ValidateInput(paramID string, candidate any) bool {
	p, ok := e.resolved[paramID]
	if !ok {
		return true
	}
	return experiment.ValidateInput(p.Definition.Validation, candidate, e.resolved)
}

func (e *Engine) RunID() string { return e.runID }

func (e *Engine) CurrentRound() experiment.FlatRoundConfig { return e.flat[e.round] }

func (e *Engine) CurrentRoundIndex() int { return e.round }

func (e *Engine) CurrentPhase() experiment.Phase { return e.phase }

// CurrentTemplate is the template text of the current phase.
func (e *Engine) CurrentTemplate() string { return e.flat[e.round].Template(e.phase) }

// Render renders the current template against the current resolution.
func (e *Engine) Render() []template.Segment {
	return template.Render(e.CurrentTemplate(), e.resolved)
}

func (e *Engine) ResolvedParams() experiment.Resolved { return maps.Clone(e.resolved) }

func (e *Engine) StudentInputs() map[string]any { return maps.Clone(e.inputs) }

// HistoryTable returns a copy of one row per visited round.
func (e *Engine) HistoryTable() []experiment.HistoryRow {
	out := make([]experiment.HistoryRow, len(e.history))
	for i, row := range e.history {
		out[i] = experiment.HistoryRow{RoundIndex: row.RoundIndex, Values: maps.Clone(row.Values)}
	}
	return out
}

func (e *Engine) FlatConfig() []experiment.FlatRoundConfig { return slices.Clone(e.flat) }

func (e *Engine) TotalRounds() int { return len(e.flat) }

// TotalSteps counts every phase of every round.
func (e *Engine) TotalSteps() int { return len(e.flat) * len(experiment.Phases) }

// CurrentStep is 1-indexed across all rounds and phases.
func (e *Engine) CurrentStep() int { return e.round*len(experiment.Phases) + int(e.phase) + 1 }

func (e *Engine) IsFirst() bool { return e.round == 0 && e.phase == experiment.PhaseIntro }

func (e *Engine) IsFinished() bool {
	return e.round == len(e.flat)-1 && e.phase == experiment.PhaseResult
}

// Status is a serializable summary of the engine position.
type Status struct {
	RunID      string           `json:"runId" yaml:"runId"`
	BlockID    string           `json:"blockId" yaml:"blockId"`
	RoundID    string           `json:"roundId" yaml:"roundId"`
	RoundIndex int              `json:"roundIndex" yaml:"roundIndex"`
	Phase      experiment.Phase `json:"phase" yaml:"phase"`
	Step       int              `json:"step" yaml:"step"`
	TotalSteps int              `json:"totalSteps" yaml:"totalSteps"`
	Finished   bool             `json:"finished" yaml:"finished"`
}

func (e *Engine) Status() Status {
	r := e.flat[e.round]
	return Status{
		RunID:      e.runID,
		BlockID:    r.BlockID,
		RoundID:    r.RoundID,
		RoundIndex: e.round,
		Phase:      e.phase,
		Step:       e.CurrentStep(),
		TotalSteps: e.TotalSteps(),
		Finished:   e.IsFinished(),
	}
}

func cloneInputs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}
