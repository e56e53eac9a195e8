package experiment

import (
	"fmt"
	"regexp"

	"github.com/xtding233/experiment-engine/internal/expr"
	"github.com/xtding233/experiment-engine/internal/sampling"
)

// Aggregation is a reduction over one parameter's history column.
type Aggregation string

const (
	AggMin    Aggregation = "min"
	AggMax    Aggregation = "max"
	AggMean   Aggregation = "mean"
	AggMode   Aggregation = "mode"
	AggSum    Aggregation = "sum"
	AggLatest Aggregation = "latest"
)

var aggPattern = regexp.MustCompile(`\b(min|max|mean|mode|sum|latest)\(\{\{(\w+)\}\}\)`)

// historyReferences splits a history expression's references into
// aggregated ones (sum({{x}})) and plain ones ({{x}} outside an aggregate).
func historyReferences(expression string) (aggs, plain []string) {
	for _, m := range aggPattern.FindAllStringSubmatch(expression, -1) {
		aggs = append(aggs, m[2])
	}
	plain = References(aggPattern.ReplaceAllString(expression, ""))
	return aggs, plain
}

// resolveHistory evaluates a history expression. Aggregates read the history
// column of their parameter; latest reads only the previous row, the others
// read every earlier row plus the current round's value when it is already
// resolved. Plain references see the current round first, then the most
// recent history row, then 0.
func resolveHistory(paramID, expression string, merged MergedParams, scope map[string]any, hc *HistoryContext, rng sampling.RandomSource) (any, error) {
	prior := hc.Rows
	if hc.RoundIndex < len(prior) {
		prior = prior[:max(hc.RoundIndex, 0)]
	}

	vars := make(map[string]any)
	for _, row := range prior {
		for id, v := range row.Values {
			if v != nil {
				vars[id] = v
			}
		}
	}
	for id, v := range scope {
		vars[id] = v
	}

	counter := 0
	src := aggPattern.ReplaceAllStringFunc(expression, func(call string) string {
		m := aggPattern.FindStringSubmatch(call)
		fn, target := Aggregation(m[1]), m[2]

		var values []float64
		if fn == AggLatest {
			if n := len(prior); n > 0 {
				if f, ok := numeric(prior[n-1].Values[target]); ok {
					values = append(values, f)
				}
			}
		} else {
			for _, row := range prior {
				if f, ok := numeric(row.Values[target]); ok {
					values = append(values, f)
				}
			}
			if e, inScope := merged[target]; inScope && e.Def.Type != TypeHistory {
				if f, ok := numeric(scope[target]); ok {
					values = append(values, f)
				}
			}
		}

		placeholder := fmt.Sprintf("__hist_%d", counter)
		counter++
		vars[placeholder] = Aggregate(fn, values)
		return placeholder
	})

	src = substitute(src, func(ref string) string {
		if v, ok := vars[ref]; ok {
			return expr.Stringify(v)
		}
		return "0"
	})
	return evaluate(paramID, expression, src, vars, rng)
}

func numeric(v any) (float64, bool) {
	f, ok := expr.Normalize(v).(float64)
	return f, ok
}

// Aggregate reduces values with fn. An empty slice aggregates to 0. Mode
// ties go to the value that reached the winning count first.
func Aggregate(fn Aggregation, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	switch fn {
	case AggMin:
		out := values[0]
		for _, v := range values[1:] {
			out = min(out, v)
		}
		return out
	case AggMax:
		out := values[0]
		for _, v := range values[1:] {
			out = max(out, v)
		}
		return out
	case AggMean:
		return sum(values) / float64(len(values))
	case AggMode:
		counts := make(map[float64]int, len(values))
		best, bestCount := values[0], 0
		for _, v := range values {
			counts[v]++
			if counts[v] > bestCount {
				best, bestCount = v, counts[v]
			}
		}
		return best
	case AggSum:
		return sum(values)
	case AggLatest:
		return values[len(values)-1]
	default:
		return 0
	}
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}
