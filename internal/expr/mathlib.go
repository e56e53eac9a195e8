package expr

import "math"

var mathConsts = map[string]float64{
	"PI":      math.Pi,
	"E":       math.E,
	"LN2":     math.Ln2,
	"LN10":    math.Ln10,
	"LOG2E":   math.Log2E,
	"LOG10E":  math.Log10E,
	"SQRT2":   math.Sqrt2,
	"SQRT1_2": math.Sqrt2 / 2,
}

var mathFuncs = map[string]func(args []float64) float64{
	"abs":   unaryFn(math.Abs),
	"ceil":  unaryFn(math.Ceil),
	"floor": unaryFn(math.Floor),
	"round": unaryFn(jsRound),
	"trunc": unaryFn(math.Trunc),
	"sign":  unaryFn(sign),
	"sqrt":  unaryFn(math.Sqrt),
	"cbrt":  unaryFn(math.Cbrt),
	"exp":   unaryFn(math.Exp),
	"expm1": unaryFn(math.Expm1),
	"log":   unaryFn(math.Log),
	"log2":  unaryFn(math.Log2),
	"log10": unaryFn(math.Log10),
	"log1p": unaryFn(math.Log1p),
	"sin":   unaryFn(math.Sin),
	"cos":   unaryFn(math.Cos),
	"tan":   unaryFn(math.Tan),
	"asin":  unaryFn(math.Asin),
	"acos":  unaryFn(math.Acos),
	"atan":  unaryFn(math.Atan),
	"sinh":  unaryFn(math.Sinh),
	"cosh":  unaryFn(math.Cosh),
	"tanh":  unaryFn(math.Tanh),
	"atan2": binaryFn(math.Atan2),
	"pow":   binaryFn(math.Pow),
	"min": func(args []float64) float64 {
		out := math.Inf(1)
		for _, a := range args {
			if math.IsNaN(a) {
				return a
			}
			out = math.Min(out, a)
		}
		return out
	},
	"max": func(args []float64) float64 {
		out := math.Inf(-1)
		for _, a := range args {
			if math.IsNaN(a) {
				return a
			}
			out = math.Max(out, a)
		}
		return out
	},
	"hypot": func(args []float64) float64 {
		var sum float64
		for _, a := range args {
			sum += a * a
		}
		return math.Sqrt(sum)
	},
}

const mathRandom = "random"

func isMathMember(name string) bool {
	if _, ok := mathConsts[name]; ok {
		return true
	}
	_, ok := mathFuncs[name]
	return ok || name == mathRandom
}

// mathNamespace builds the Math object of one scope. Functions take their
// arguments as any so the VM can pass integer and float literals alike.
func mathNamespace(random func() float64) map[string]any {
	ns := make(map[string]any, len(mathConsts)+len(mathFuncs)+1)
	for name, c := range mathConsts {
		ns[name] = c
	}
	for name, f := range mathFuncs {
		ns[name] = func(args ...any) float64 {
			nums := make([]float64, len(args))
			for i, a := range args {
				nums[i] = ToNumber(a)
			}
			return f(nums)
		}
	}
	ns[mathRandom] = func(...any) float64 { return random() }
	return ns
}

func arg(args []float64, i int) float64 {
	if i < len(args) {
		return args[i]
	}
	return math.NaN()
}

func unaryFn(f func(float64) float64) func([]float64) float64 {
	return func(args []float64) float64 { return f(arg(args, 0)) }
}

func binaryFn(f func(float64, float64) float64) func([]float64) float64 {
	return func(args []float64) float64 { return f(arg(args, 0), arg(args, 1)) }
}

// jsRound rounds half up, matching Math.round (-2.5 rounds to -2).
func jsRound(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Floor(x + 0.5)
}

func sign(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return x
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}
