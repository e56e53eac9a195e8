// types.go
package experiment

// ParamType discriminates ParamDefinition variants.
type ParamType string

const (
	TypeConstant     ParamType = "constant"
	TypeNorm         ParamType = "norm"
	TypeUnif         ParamType = "unif"
	TypeEquation     ParamType = "equation"
	TypeStudentInput ParamType = "student_input"
	TypeHistory      ParamType = "history"
)

// DataType is the declared scalar kind of a constant.
type DataType string

const (
	DataNumber  DataType = "number"
	DataString  DataType = "string"
	DataBoolean DataType = "boolean"
)

// InputType is the widget kind requested by a student_input.
type InputType string

const (
	InputNumber InputType = "number"
	InputText   InputType = "text"
)

// ParamDefinition is a tagged union keyed by Type. Only the fields of the
// active variant are meaningful:
//
//	constant       DataType, Value
//	norm           Mean, Std
//	unif           Min, Max
//	equation       Expression
//	history        Expression
//	student_input  InputLabel, InputType, Validation
type ParamDefinition struct {
	Type       ParamType `json:"type" yaml:"type"`
	DataType   DataType  `json:"dataType,omitempty" yaml:"dataType,omitempty"`
	Value      any       `json:"value" yaml:"value"`
	Mean       float64   `json:"mean,omitempty" yaml:"mean,omitempty"`
	Std        float64   `json:"std,omitempty" yaml:"std,omitempty"`
	Min        float64   `json:"min,omitempty" yaml:"min,omitempty"`
	Max        float64   `json:"max,omitempty" yaml:"max,omitempty"`
	Expression string    `json:"expression,omitempty" yaml:"expression,omitempty"`
	InputLabel string    `json:"inputLabel,omitempty" yaml:"inputLabel,omitempty"`
	InputType  InputType `json:"inputType,omitempty" yaml:"inputType,omitempty"`
	Validation string    `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Constant builds a constant definition, inferring its data type.
func Constant(v any) ParamDefinition {
	d := ParamDefinition{Type: TypeConstant, Value: v}
	switch v.(type) {
	case string:
		d.DataType = DataString
	case bool:
		d.DataType = DataBoolean
	default:
		d.DataType = DataNumber
	}
	return d
}

// Norm builds a normal distribution definition.
func Norm(mean, std float64) ParamDefinition {
	return ParamDefinition{Type: TypeNorm, Mean: mean, Std: std}
}

// Unif builds a uniform distribution definition.
func Unif(min, max float64) ParamDefinition {
	return ParamDefinition{Type: TypeUnif, Min: min, Max: max}
}

// Equation builds an equation definition.
func Equation(expression string) ParamDefinition {
	return ParamDefinition{Type: TypeEquation, Expression: expression}
}

// History builds a history definition.
func History(expression string) ParamDefinition {
	return ParamDefinition{Type: TypeHistory, Expression: expression}
}

// StudentInput builds a student_input definition.
func StudentInput(label string, inputType InputType, validation string) ParamDefinition {
	return ParamDefinition{Type: TypeStudentInput, InputLabel: label, InputType: inputType, Validation: validation}
}

// IsRandom reports whether the definition is sampled.
func (d ParamDefinition) IsRandom() bool {
	return d.Type == TypeNorm || d.Type == TypeUnif
}

// ParamSource tags the hierarchy level a definition came from.
type ParamSource string

const (
	SourceExperiment ParamSource = "experiment"
	SourceBlock      ParamSource = "block"
	SourceRound      ParamSource = "round"
	SourceRepetition ParamSource = "repetition"
)

// Params maps parameter IDs to definitions at one level.
type Params map[string]ParamDefinition

// Templates holds the three phase templates of one level. Empty strings
// inherit from the next level up.
type Templates struct {
	IntroTemplate    string `json:"introTemplate,omitempty" yaml:"introTemplate,omitempty"`
	DecisionTemplate string `json:"decisionTemplate,omitempty" yaml:"decisionTemplate,omitempty"`
	ResultTemplate   string `json:"resultTemplate,omitempty" yaml:"resultTemplate,omitempty"`
}

// Config is the whole authored experiment.
type Config struct {
	Params    Params  `json:"params" yaml:"params"`
	Templates `yaml:",inline"`
	Blocks    []Block `json:"blocks" yaml:"blocks"`
}

// Block groups rounds and may override experiment level params/templates.
type Block struct {
	ID        string  `json:"id" yaml:"id"`
	Label     string  `json:"label,omitempty" yaml:"label,omitempty"`
	Params    Params  `json:"params,omitempty" yaml:"params,omitempty"`
	Templates `yaml:",inline"`
	Rounds    []Round `json:"rounds" yaml:"rounds"`
}

// Round is the smallest unit of the experiment sequence.
type Round struct {
	ID        string `json:"id" yaml:"id"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Params    Params `json:"params,omitempty" yaml:"params,omitempty"`
	Templates `yaml:",inline"`
}

// ResolvedParam pairs a definition with its concrete value. Value is nil
// exactly when a student_input has not been supplied, or a history param was
// resolved without a history context.
type ResolvedParam struct {
	ParamID    string          `json:"paramId" yaml:"paramId"`
	Definition ParamDefinition `json:"definition" yaml:"definition"`
	Value      any             `json:"value" yaml:"value"`
	Source     ParamSource     `json:"source" yaml:"source"`
}

// Resolved maps parameter IDs to their resolution.
type Resolved map[string]ResolvedParam

// HistoryRow records every parameter value of one visited round.
type HistoryRow struct {
	RoundIndex int            `json:"roundIndex" yaml:"roundIndex"`
	Values     map[string]any `json:"values" yaml:"values"`
}

// Phase indexes the three templates of a round.
type Phase int

const (
	PhaseIntro Phase = iota
	PhaseDecision
	PhaseResult
)

// Phases lists every phase in step order.
var Phases = []Phase{PhaseIntro, PhaseDecision, PhaseResult}

func (p Phase) String() string {
	switch p {
	case PhaseIntro:
		return "intro"
	case PhaseDecision:
		return "decision"
	case PhaseResult:
		return "result"
	default:
		return "unknown"
	}
}

// Template returns the template string of this phase.
func (t Templates) Template(p Phase) string {
	switch p {
	case PhaseIntro:
		return t.IntroTemplate
	case PhaseDecision:
		return t.DecisionTemplate
	case PhaseResult:
		return t.ResultTemplate
	default:
		return ""
	}
}
