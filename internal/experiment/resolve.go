package experiment

import (
	"fmt"
	"math"
	"regexp"
	"slices"

	"github.com/xtding233/experiment-engine/internal/expr"
	"github.com/xtding233/experiment-engine/internal/sampling"
)

var refPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// References returns every {{id}} in s in order of appearance. Duplicates are kept.
func References(s string) []string {
	var ids []string
	for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// substitute replaces every {{id}} with lookup(id).
func substitute(s string, lookup func(id string) string) string {
	return refPattern.ReplaceAllStringFunc(s, func(tok string) string {
		return lookup(tok[2 : len(tok)-2])
	})
}

// HistoryContext gives history params access to earlier rounds.
type HistoryContext struct {
	Rows       []HistoryRow
	RoundIndex int // rows before this index count as history
}

// ResolveInput carries everything a resolution pass needs besides the
// merged scope. The zero value is valid.
type ResolveInput struct {
	StudentInputs map[string]any
	History       *HistoryContext
	RNG           sampling.RandomSource
}

// ResolveParameters resolves the merged scope at (blockIndex, roundIndex).
func ResolveParameters(cfg Config, blockIndex, roundIndex int, in ResolveInput) (Resolved, error) {
	return ResolveFromMerged(MergeParams(cfg, blockIndex, roundIndex), in)
}

// ResolveFromMerged resolves every parameter of merged to a value.
func ResolveFromMerged(merged MergedParams, in ResolveInput) (Resolved, error) {
	order, err := sortByDependencies(merged)
	if err != nil {
		return nil, err
	}
	rng := in.RNG
	if rng == nil {
		rng = sampling.DefaultRNG()
	}

	scope := make(map[string]any, len(merged))
	out := make(Resolved, len(merged))
	for _, id := range order {
		entry := merged[id]
		var value any
		switch def := entry.Def; def.Type {
		case TypeConstant:
			value = expr.Normalize(def.Value)
		case TypeNorm:
			value = sampling.Norm(rng, def.Mean, def.Std)
		case TypeUnif:
			value = sampling.Unif(rng, def.Min, def.Max)
		case TypeEquation:
			src := substitute(def.Expression, func(ref string) string {
				if v, ok := scope[ref]; ok {
					return expr.Stringify(v)
				}
				return "0"
			})
			value, err = evaluate(id, def.Expression, src, scope, rng)
		case TypeHistory:
			if in.History == nil {
				break
			}
			value, err = resolveHistory(id, def.Expression, merged, scope, in.History, rng)
		case TypeStudentInput:
			if v, ok := in.StudentInputs[id]; ok {
				value = expr.Normalize(v)
			}
		default:
			err = fmt.Errorf("%w %q for parameter %q", ErrUnknownParamType, def.Type, id)
		}
		if err != nil {
			return nil, err
		}
		if value != nil {
			scope[id] = value
		}
		out[id] = ResolvedParam{ParamID: id, Definition: entry.Def, Value: value, Source: entry.Source}
	}
	return out, nil
}

func evaluate(paramID, original, src string, vars map[string]any, rng sampling.RandomSource) (any, error) {
	v, err := expr.Eval(src, &expr.Env{Vars: vars, Random: rng.Float64})
	if err != nil {
		return nil, &EvalError{ParamID: paramID, Expression: original, Err: err}
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, &EvalError{ParamID: paramID, Expression: original, Err: fmt.Errorf("%w (%s)", ErrNonFinite, expr.Stringify(f))}
	}
	return v, nil
}

// dependencies lists the in-scope parameters each parameter must wait for.
func dependencies(merged MergedParams) map[string][]string {
	deps := make(map[string][]string, len(merged))
	for id, entry := range merged {
		switch entry.Def.Type {
		case TypeEquation:
			deps[id] = References(entry.Def.Expression)
		case TypeHistory:
			aggs, plain := historyReferences(entry.Def.Expression)
			for _, dep := range aggs {
				// history params read other history params from the table only
				if e, ok := merged[dep]; ok && e.Def.Type == TypeHistory {
					continue
				}
				deps[id] = append(deps[id], dep)
			}
			deps[id] = append(deps[id], plain...)
		}
	}
	return deps
}

// sortByDependencies orders IDs so every parameter follows its in-scope
// dependencies. Roots are visited lexicographically so both the order and
// any reported cycle are deterministic.
func sortByDependencies(merged MergedParams) ([]string, error) {
	deps := dependencies(merged)
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(merged))
	sorted := make([]string, 0, len(merged))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			start := slices.Index(stack, id)
			path := append(slices.Clone(stack[start:]), id)
			return &CycleError{ParamID: id, Path: path}
		}
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if _, ok := merged[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		sorted = append(sorted, id)
		return nil
	}

	for _, id := range merged.IDs() {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// RunEntry is one resolved round of a full run.
type RunEntry struct {
	GlobalIndex int      `json:"globalIndex" yaml:"globalIndex"`
	BlockIndex  int      `json:"blockIndex" yaml:"blockIndex"`
	RoundIndex  int      `json:"roundIndex" yaml:"roundIndex"`
	BlockID     string   `json:"blockId" yaml:"blockId"`
	RoundID     string   `json:"roundId" yaml:"roundId"`
	BlockLabel  string   `json:"blockLabel,omitempty" yaml:"blockLabel,omitempty"`
	Params      Resolved `json:"params" yaml:"params"`
}

// ResolveFullRun resolves every (block, round) in document order without
// interaction. Each round sees the history rows of all earlier rounds.
// in.History is ignored; in.StudentInputs apply to every round.
func ResolveFullRun(cfg Config, in ResolveInput) ([]RunEntry, []HistoryRow, error) {
	var (
		entries []RunEntry
		rows    []HistoryRow
	)
	global := 0
	for bi, block := range cfg.Blocks {
		for ri, round := range block.Rounds {
			pass := in
			pass.History = &HistoryContext{Rows: rows, RoundIndex: global}
			params, err := ResolveParameters(cfg, bi, ri, pass)
			if err != nil {
				return nil, nil, fmt.Errorf("block %q round %q: %w", block.ID, round.ID, err)
			}
			rows = append(rows, params.Row(global))
			entries = append(entries, RunEntry{
				GlobalIndex: global,
				BlockIndex:  bi,
				RoundIndex:  ri,
				BlockID:     block.ID,
				RoundID:     round.ID,
				BlockLabel:  block.Label,
				Params:      params,
			})
			global++
		}
	}
	return entries, rows, nil
}

// Row snapshots the resolved values as a history row.
func (r Resolved) Row(roundIndex int) HistoryRow {
	row := HistoryRow{RoundIndex: roundIndex, Values: make(map[string]any, len(r))}
	for id, p := range r {
		row.Values[id] = p.Value
	}
	return row
}

// Values returns the non-nil resolved values keyed by ID.
func (r Resolved) Values() map[string]any {
	out := make(map[string]any, len(r))
	for id, p := range r {
		if p.Value != nil {
			out[id] = p.Value
		}
	}
	return out
}
