package experiment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xtding233/experiment-engine/internal/expr"
)

// Validate checks semantic constraints of an authored Config.
func Validate(cfg Config) error {
	var errs []string

	checkParams := func(where string, params Params) {
		ids := make([]string, 0, len(params))
		for id := range params {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			for _, msg := range validateDefinition(params[id]) {
				errs = append(errs, fmt.Sprintf("%s.params.%s: %s", where, id, msg))
			}
		}
	}

	checkParams("experiment", cfg.Params)

	rounds := 0
	blockIDs := make(map[string]bool, len(cfg.Blocks))
	for bi, block := range cfg.Blocks {
		where := fmt.Sprintf("blocks[%d]", bi)
		switch {
		case block.ID == "":
			errs = append(errs, where+".id must not be empty")
		case blockIDs[block.ID]:
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", where, block.ID))
		}
		blockIDs[block.ID] = true
		checkParams(where, block.Params)

		roundIDs := make(map[string]bool, len(block.Rounds))
		for ri, round := range block.Rounds {
			rwhere := fmt.Sprintf("%s.rounds[%d]", where, ri)
			switch {
			case round.ID == "":
				errs = append(errs, rwhere+".id must not be empty")
			case roundIDs[round.ID]:
				errs = append(errs, fmt.Sprintf("%s.id %q is duplicated within block %q", rwhere, round.ID, block.ID))
			}
			roundIDs[round.ID] = true
			checkParams(rwhere, round.Params)
			rounds++
		}
	}
	if rounds == 0 {
		errs = append(errs, "experiment must contain at least one round")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDefinition(d ParamDefinition) []string {
	var errs []string
	switch d.Type {
	case TypeConstant:
		v := expr.Normalize(d.Value)
		switch d.DataType {
		case DataNumber, "":
			if _, ok := v.(float64); !ok {
				errs = append(errs, "constant value must be a number")
			}
		case DataString:
			if _, ok := v.(string); !ok {
				errs = append(errs, "constant value must be a string")
			}
		case DataBoolean:
			if _, ok := v.(bool); !ok {
				errs = append(errs, "constant value must be a boolean")
			}
		default:
			errs = append(errs, "constant dataType must be one of: number, string, boolean")
		}
	case TypeNorm:
		if d.Std < 0 {
			errs = append(errs, "norm std must be >= 0")
		}
	case TypeUnif:
		if d.Min > d.Max {
			errs = append(errs, "unif min must be <= max")
		}
	case TypeEquation, TypeHistory:
		if strings.TrimSpace(d.Expression) == "" {
			errs = append(errs, string(d.Type)+" expression must not be empty")
		}
	case TypeStudentInput:
		switch d.InputType {
		case "", InputNumber, InputText:
		default:
			errs = append(errs, "student_input inputType must be one of: number, text")
		}
	default:
		errs = append(errs, fmt.Sprintf("type %q must be one of: constant, norm, unif, equation, student_input, history", d.Type))
	}
	return errs
}

// NormalizeConfig folds decoded numeric constants (int from YAML, etc.) into
// float64 in place and infers a missing constant dataType.
func NormalizeConfig(cfg *Config) {
	normalize := func(params Params) {
		for id, def := range params {
			if def.Type == TypeConstant {
				def.Value = expr.Normalize(def.Value)
				if def.DataType == "" {
					def.DataType = Constant(def.Value).DataType
				}
				params[id] = def
			}
		}
	}
	normalize(cfg.Params)
	for _, block := range cfg.Blocks {
		normalize(block.Params)
		for _, round := range block.Rounds {
			normalize(round.Params)
		}
	}
}

// Reference is a {{id}} that names nothing in its coordinate's scope. At run
// time such references resolve to 0 in expressions and stay literal in
// templates; this diagnostic lets authors catch typos early.
type Reference struct {
	BlockID string `json:"blockId" yaml:"blockId"`
	RoundID string `json:"roundId" yaml:"roundId"`
	Where   string `json:"where" yaml:"where"` // "params.<id>", "params.<id>.validation" or "<phase>Template"
	Ref     string `json:"ref" yaml:"ref"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s %s: unknown reference {{%s}}", r.BlockID, r.RoundID, r.Where, r.Ref)
}

// UnknownReferences reports every dangling reference at every coordinate,
// deduplicated and in document order.
func UnknownReferences(cfg Config) []Reference {
	var out []Reference
	for _, flat := range FlattenConfig(cfg) {
		seen := make(map[Reference]bool)
		add := func(where string, refs []string, allowThis bool) {
			for _, ref := range refs {
				if _, ok := flat.Params[ref]; ok || (allowThis && ref == thisRef) {
					continue
				}
				r := Reference{BlockID: flat.BlockID, RoundID: flat.RoundID, Where: where, Ref: ref}
				if !seen[r] {
					seen[r] = true
					out = append(out, r)
				}
			}
		}
		for _, id := range flat.Params.IDs() {
			def := flat.Params[id].Def
			switch def.Type {
			case TypeEquation:
				add("params."+id, References(def.Expression), false)
			case TypeHistory:
				aggs, plain := historyReferences(def.Expression)
				add("params."+id, append(aggs, plain...), false)
			case TypeStudentInput:
				add("params."+id+".validation", References(def.Validation), true)
			}
		}
		for _, phase := range Phases {
			add(phase.String()+"Template", References(flat.Template(phase)), false)
		}
	}
	return out
}
