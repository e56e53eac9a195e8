package experiment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCircularDependency = errors.New("circular dependency")
	ErrEvaluation         = errors.New("failed to evaluate expression")
	ErrNonFinite          = errors.New("expression produced a non-finite number")
	ErrUnknownParamType   = errors.New("unknown parameter type")
)

// CycleError is returned when equation/history references loop back on
// themselves. Path lists the loop starting and ending at ParamID.
type CycleError struct {
	ParamID string
	Path    []string
}

func (e *CycleError) Error() string {
	if len(e.Path) > 1 {
		return fmt.Sprintf("circular dependency detected involving parameter %q (%s)", e.ParamID, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("circular dependency detected involving parameter %q", e.ParamID)
}

func (e *CycleError) Unwrap() error { return ErrCircularDependency }

// EvalError carries the authored (pre-substitution) expression and the
// underlying failure.
type EvalError struct {
	ParamID    string
	Expression string
	Err        error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("failed to evaluate %q for parameter %q: %v", e.Expression, e.ParamID, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

func (e *EvalError) Is(target error) bool { return target == ErrEvaluation }
