package expr

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalArithmetic(t *testing.T) {
	cases := []struct {
		src  string
		want any
	}{
		{"1 + 2 * 3", 7.0},
		{"(1 + 2) * 3", 9.0},
		{"10 / 4", 2.5},
		{"7 % 3", 1.0},
		{"-7 % 3", -1.0},
		{"5.5 % 2", 1.5},
		{"2 ** 3 ** 2", 512.0},
		{"(-3) ** 2", 9.0},
		{"2 ** -1", 0.5},
		{"-3 * 2", -6.0},
		{"5 - -3", 8.0},
		{".5 + 1e2", 100.5},
		{"Math.max(1, 4, 2)", 4.0},
		{"Math.min()", math.Inf(1)},
		{"Math.round(2.5)", 3.0},
		{"Math.round(-2.5)", -2.0},
		{"Math.floor(Math.PI)", 3.0},
		{"Math.pow(2, 10)", 1024.0},
		{"-Math.abs(-4)", -4.0},
		{"'a' + 1", "a1"},
		{"\"x\" + 'y'", "xy"},
		{"1 < 2 && 2 < 3", true},
		{"0 || 'fallback'", "fallback"},
		{"'' && 1", ""},
		{"1 == '1'", true},
		{"1 === '1'", false},
		{"1 !== '1'", true},
		{"'1'===\"1\"", true},
		{"null == undefined", true},
		{"true ? 10 : 20", 10.0},
		{"0 ? 'yes' : 'no'", "no"},
		{"false ? 1 : true ? 2 : 3", 2.0},
		{"!0", true},
		{"!0 * 2", 2.0},
		{"!!'x'", true},
		{"'b' > 'a'", true},
		{"true + 1", 2.0},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			got, err := Eval(tc.src, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalLiteralRange(t *testing.T) {
	got, err := Eval("1e400", nil)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.(float64), 1))

	got, err = Eval("-1e400", nil)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.(float64), -1))

	got, err = Eval("1e-400", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	got, err = Eval("12345678901234567890 + 0", nil)
	require.NoError(t, err)
	assert.Equal(t, 12345678901234567890.0, got)
}

func TestEvalScope(t *testing.T) {
	got, err := Eval("price * qty + bonus", &Env{Vars: map[string]any{"price": 2.5, "qty": 4, "bonus": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, 11.0, got)

	got, err = Eval("__hist_0 > 3 ? 'high' : 'low'", &Env{Vars: map[string]any{"__hist_0": 5.0}})
	require.NoError(t, err)
	assert.Equal(t, "high", got)
}

func TestEvalSandbox(t *testing.T) {
	for _, src := range []string{"os", "now()", "len('ab')", "nil", "$add(1, 2)"} {
		_, err := Eval(src, nil)
		require.Error(t, err, src)
	}

	_, err := Eval("os", nil)
	var ref *ReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "os", ref.Name)

	_, err = Eval("now()", nil)
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "now", ref.Name)

	_, err = Eval("Math.exit(1)", nil)
	var typ *TypeError
	require.ErrorAs(t, err, &typ)

	_, err = Eval("Math + 1", nil)
	require.ErrorAs(t, err, &typ)

	_, err = Eval("Math.max", nil)
	require.Error(t, err, "functions do not escape as values")
}

func TestCompileErrors(t *testing.T) {
	env := &Env{Vars: map[string]any{"a": 1.0, "b": 2.0}}
	for _, src := range []string{
		"", "1 +", "(1", "1 2", "'open", "3abc", "a ? b", "#",
		"-3 ** 2", "-(2) ** 2", "2 ** -3 ** 2", "!a ** 2", "-Math.abs(2) ** 2",
		"5--3", "a++", "a ?? b", "a = 1", "a | b", "a & b", "2 ^ 3", "[1]", "a..b",
	} {
		_, err := Compile(src, env)
		var syn *SyntaxError
		assert.True(t, errors.As(err, &syn), "expected syntax error for %q, got %v", src, err)
	}
}

func TestUnaryBeforeExponentPosition(t *testing.T) {
	_, err := Compile("1 + -3 ** 2", nil)
	var syn *SyntaxError
	require.ErrorAs(t, err, &syn)
	assert.Equal(t, 4, syn.Pos)
	assert.Contains(t, syn.Error(), "exponentiation")

	got, err := Eval("1 - 3 ** 2", nil)
	require.NoError(t, err)
	assert.Equal(t, -8.0, got)
}

func TestMathRandomUsesEnv(t *testing.T) {
	p, err := Compile("Math.random() * 10", &Env{Random: func() float64 { return 0.25 }})
	require.NoError(t, err)
	assert.Equal(t, "Math.random() * 10", p.Source())
	got, err := p.Run()
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)
}

func TestPrepareRewrites(t *testing.T) {
	bound := func(name string) bool { return name == "x" }
	cases := map[string]string{
		"x === 1":     "x  in  1",
		"-x * 2":      "(-x) * 2",
		"!x % 2":      "(!x) % 2",
		"!-x":         "(!(-x))",
		"1e400":       "Infinity",
		".5":          "0.5",
		"x == null":   "x == nil",
		"'a === b'":   "'a === b'",
		"Math.PI * x": "Math.PI * x",
	}
	for src, want := range cases {
		got, err := prepare(src, bound)
		require.NoError(t, err, src)
		assert.Equal(t, want, got, src)
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "3", Stringify(3.0))
	assert.Equal(t, "0.30000000000000004", Stringify(0.1+0.2))
	assert.Equal(t, "-1.5", Stringify(-1.5))
	assert.Equal(t, "1e-7", Stringify(1e-7))
	assert.Equal(t, "1e+21", Stringify(1e21))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "null", Stringify(nil))
	assert.Equal(t, "Infinity", Stringify(math.Inf(1)))
	assert.Equal(t, "42", Stringify(42))
}

func TestToNumber(t *testing.T) {
	assert.Equal(t, 0.0, ToNumber(""))
	assert.Equal(t, 12.5, ToNumber(" 12.5 "))
	assert.True(t, math.IsNaN(ToNumber("abc")))
	assert.True(t, math.IsNaN(ToNumber("inf")))
	assert.True(t, math.IsNaN(ToNumber("0x10")))
	assert.Equal(t, 1.0, ToNumber(true))
	assert.True(t, IsNumeric("-3"))
	assert.False(t, IsNumeric("Infinity"))
}
