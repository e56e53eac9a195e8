// Package expr evaluates the arithmetic/boolean rules used by equation,
// history and validation parameters.
//
// Rules are written in a JavaScript-flavoured subset: number, string and
// boolean literals, identifiers bound from a caller supplied scope, the
// operators + - * / % ** ! && || == != === !== < <= > >= and ?:, and a
// read-only Math namespace (Math.max(a, b), Math.PI, ...). Sources are
// checked and normalized, then compiled with expr-lang. A patch pass routes
// every operator through JavaScript coercion rules. Builtins are disabled,
// so the scope is exactly the bound variables plus Math.
package expr

import (
	"fmt"
	"math"
	"math/rand/v2"

	lang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
)

const mathName = "Math"

// Env is the complete evaluation scope of a Program.
type Env struct {
	// Vars binds identifiers to scalar values.
	Vars map[string]any
	// Random backs Math.random; nil falls back to math/rand/v2.
	Random func() float64
}

// SyntaxError reports a malformed expression. Pos is a byte offset into the
// source, or -1 when the compiler rejected the normalized source.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	if e.Pos < 0 {
		return "syntax error: " + e.Msg
	}
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// ReferenceError reports an identifier that is bound nowhere in the scope.
type ReferenceError struct {
	Name string
}

func (e *ReferenceError) Error() string { return e.Name + " is not defined" }

// TypeError reports an operation applied to the wrong kind of value.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string { return e.Msg }

// Program is a compiled expression bound to its scope.
type Program struct {
	src   string
	prog  *vm.Program
	scope map[string]any
}

func (p *Program) Source() string { return p.src }

// Compile checks src and compiles it against env. A nil env compiles with
// an empty scope.
func Compile(src string, env *Env) (*Program, error) {
	if env == nil {
		env = &Env{}
	}
	scope := env.scope()
	normalized, err := prepare(src, func(name string) bool {
		_, ok := scope[name]
		return ok
	})
	if err != nil {
		return nil, err
	}
	opts := append([]lang.Option{lang.Env(scope)}, compileOptions...)
	prog, err := lang.Compile(normalized, opts...)
	if err != nil {
		return nil, &SyntaxError{Pos: -1, Msg: err.Error()}
	}
	return &Program{src: src, prog: prog, scope: scope}, nil
}

// Run evaluates the program. The result is nil, float64, string or bool.
func (p *Program) Run() (any, error) {
	out, err := lang.Run(p.prog, p.scope)
	if err != nil {
		return nil, &TypeError{Msg: err.Error()}
	}
	out = Normalize(out)
	if err := checkScalar(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Eval compiles and runs src against env.
func Eval(src string, env *Env) (any, error) {
	p, err := Compile(src, env)
	if err != nil {
		return nil, err
	}
	return p.Run()
}

func (env *Env) scope() map[string]any {
	scope := make(map[string]any, len(env.Vars)+3)
	for k, v := range env.Vars {
		scope[k] = Normalize(v)
	}
	scope["NaN"] = math.NaN()
	scope["Infinity"] = math.Inf(1)
	scope[mathName] = mathNamespace(env.random)
	return scope
}

func (env *Env) random() float64 {
	if env.Random != nil {
		return env.Random()
	}
	return rand.Float64()
}

// Operator helpers are registered under names the source check never lets
// through, so rules cannot call them directly.
var binaryHelpers = map[string]string{
	"+": "$add", "-": "$sub", "*": "$mul", "/": "$div", "%": "$mod", "**": "$pow",
	"==": "$eq", "!=": "$ne", "in": "$same",
	"<": "$lt", "<=": "$le", ">": "$gt", ">=": "$ge",
	"&&": "$and", "and": "$and", "||": "$or", "or": "$or",
}

var unaryHelpers = map[string]string{
	"!": "$not", "not": "$not", "-": "$neg", "+": "$pos",
}

const truthyHelper = "$truthy"

var binaryOps = map[string]func(l, r any) any{
	"$add": func(l, r any) any {
		_, ls := l.(string)
		_, rs := r.(string)
		if ls || rs {
			return Stringify(l) + Stringify(r)
		}
		return ToNumber(l) + ToNumber(r)
	},
	"$sub":  func(l, r any) any { return ToNumber(l) - ToNumber(r) },
	"$mul":  func(l, r any) any { return ToNumber(l) * ToNumber(r) },
	"$div":  func(l, r any) any { return ToNumber(l) / ToNumber(r) },
	"$mod":  func(l, r any) any { return math.Mod(ToNumber(l), ToNumber(r)) },
	"$pow":  func(l, r any) any { return math.Pow(ToNumber(l), ToNumber(r)) },
	"$eq":   func(l, r any) any { return looseEqual(l, r) },
	"$ne":   func(l, r any) any { return !looseEqual(l, r) },
	"$same": func(l, r any) any { return strictEqual(l, r) },
	"$lt":   func(l, r any) any { return compare("<", l, r) },
	"$le":   func(l, r any) any { return compare("<=", l, r) },
	"$gt":   func(l, r any) any { return compare(">", l, r) },
	"$ge":   func(l, r any) any { return compare(">=", l, r) },
	// both operands are already evaluated; only the selected one is returned
	"$and": func(l, r any) any {
		if !Truthy(l) {
			return l
		}
		return r
	},
	"$or": func(l, r any) any {
		if Truthy(l) {
			return l
		}
		return r
	},
}

var unaryOps = map[string]func(x any) any{
	"$not":       func(x any) any { return !Truthy(x) },
	"$neg":       func(x any) any { return -ToNumber(x) },
	"$pos":       func(x any) any { return ToNumber(x) },
	truthyHelper: func(x any) any { return Truthy(x) },
}

var compileOptions = buildOptions()

func buildOptions() []lang.Option {
	opts := []lang.Option{lang.DisableAllBuiltins(), lang.Patch(jsSemantics{})}
	for name, op := range binaryOps {
		opts = append(opts, lang.Function(name, func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("%s: want 2 operands, got %d", name, len(params))
			}
			l, r := Normalize(params[0]), Normalize(params[1])
			if err := checkScalar(l); err != nil {
				return nil, err
			}
			if err := checkScalar(r); err != nil {
				return nil, err
			}
			return op(l, r), nil
		}))
	}
	for name, op := range unaryOps {
		opts = append(opts, lang.Function(name, func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("%s: want 1 operand, got %d", name, len(params))
			}
			x := Normalize(params[0])
			if err := checkScalar(x); err != nil {
				return nil, err
			}
			return op(x), nil
		}))
	}
	return opts
}

// jsSemantics rewrites operators into helper calls and ternary conditions
// into truthiness tests.
type jsSemantics struct{}

func (jsSemantics) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.BinaryNode:
		if fn, ok := binaryHelpers[n.Operator]; ok {
			ast.Patch(node, helperCall(fn, n.Left, n.Right))
		}
	case *ast.UnaryNode:
		if fn, ok := unaryHelpers[n.Operator]; ok {
			ast.Patch(node, helperCall(fn, n.Node))
		}
	case *ast.ConditionalNode:
		if c, ok := n.Cond.(*ast.CallNode); ok && isHelper(c, truthyHelper) {
			return
		}
		ast.Patch(&n.Cond, helperCall(truthyHelper, n.Cond))
	}
}

func helperCall(name string, args ...ast.Node) *ast.CallNode {
	return &ast.CallNode{Callee: &ast.IdentifierNode{Value: name}, Arguments: args}
}

func isHelper(c *ast.CallNode, name string) bool {
	id, ok := c.Callee.(*ast.IdentifierNode)
	return ok && id.Value == name
}

// checkScalar rejects namespace and function values flowing into operators
// or out of a program.
func checkScalar(v any) error {
	switch v.(type) {
	case nil, float64, string, bool:
		return nil
	}
	return &TypeError{Msg: "Math members must be called or read as constants"}
}
