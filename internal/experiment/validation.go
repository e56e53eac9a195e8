package experiment

import (
	"strings"

	"github.com/xtding233/experiment-engine/internal/expr"
)

const thisRef = "this"

// ValidateInput gates a candidate student input with a validation rule such
// as "{{this}} > 0 && {{this}} <= {{budget}}". {{this}} is the candidate and
// every other {{id}} is a resolved value (0 when unresolved).
//
// An empty rule passes. A rule that cannot be evaluated also passes: a
// malformed rule must never block the student.
func ValidateInput(rule string, candidate any, resolved Resolved) bool {
	if strings.TrimSpace(rule) == "" {
		return true
	}
	vars := resolved.Values()
	src := substitute(rule, func(ref string) string {
		if ref == thisRef {
			return candidateLiteral(candidate)
		}
		if v, ok := vars[ref]; ok {
			return expr.Stringify(v)
		}
		return "0"
	})
	v, err := expr.Eval(src, &expr.Env{Vars: vars})
	if err != nil {
		return true
	}
	return expr.Truthy(v)
}

// candidateLiteral renders numeric candidates bare and anything else as a
// quoted string literal.
func candidateLiteral(candidate any) string {
	switch c := expr.Normalize(candidate).(type) {
	case float64, bool:
		return expr.Stringify(c)
	case string:
		if expr.IsNumeric(c) {
			return strings.TrimSpace(c)
		}
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
		return `"` + r.Replace(c) + `"`
	default:
		return "null"
	}
}
