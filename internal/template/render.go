// Package template renders {{param_id}} templates into segment streams.
package template

import (
	"regexp"
	"strings"

	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/expr"
)

// SegmentType discriminates Segment variants.
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentValue SegmentType = "value"
	SegmentInput SegmentType = "input"
)

// Segment is one unit of a rendered template:
//
//	text   Content
//	value  ParamID, Value, Source
//	input  ParamID, InputLabel, InputType, Validation
type Segment struct {
	Type       SegmentType            `json:"type" yaml:"type"`
	Content    string                 `json:"content,omitempty" yaml:"content,omitempty"`
	ParamID    string                 `json:"paramId,omitempty" yaml:"paramId,omitempty"`
	Value      any                    `json:"value,omitempty" yaml:"value,omitempty"`
	Source     experiment.ParamSource `json:"source,omitempty" yaml:"source,omitempty"`
	InputLabel string                 `json:"inputLabel,omitempty" yaml:"inputLabel,omitempty"`
	InputType  experiment.InputType   `json:"inputType,omitempty" yaml:"inputType,omitempty"`
	Validation string                 `json:"validation,omitempty" yaml:"validation,omitempty"`
}

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render splits tmpl into text, value and input segments. Unknown IDs are
// kept as literal text; an unresolved student_input becomes an input segment.
func Render(tmpl string, resolved experiment.Resolved) []Segment {
	var segs []Segment
	last := 0
	for _, m := range placeholder.FindAllStringSubmatchIndex(tmpl, -1) {
		if m[0] > last {
			segs = append(segs, Segment{Type: SegmentText, Content: tmpl[last:m[0]]})
		}
		id := tmpl[m[2]:m[3]]
		last = m[1]

		p, ok := resolved[id]
		switch {
		case !ok:
			segs = append(segs, Segment{Type: SegmentText, Content: tmpl[m[0]:m[1]]})
		case p.Definition.Type == experiment.TypeStudentInput && p.Value == nil:
			segs = append(segs, Segment{
				Type:       SegmentInput,
				ParamID:    id,
				InputLabel: p.Definition.InputLabel,
				InputType:  p.Definition.InputType,
				Validation: p.Definition.Validation,
			})
		default:
			v := p.Value
			if v == nil {
				v = 0.0
			}
			segs = append(segs, Segment{Type: SegmentValue, ParamID: id, Value: v, Source: p.Source})
		}
	}
	if last < len(tmpl) {
		segs = append(segs, Segment{Type: SegmentText, Content: tmpl[last:]})
	}
	return segs
}

// String renders the segment as display text. Input segments show their
// label (or ID) in brackets.
func (s Segment) String() string {
	switch s.Type {
	case SegmentValue:
		return expr.Stringify(s.Value)
	case SegmentInput:
		if s.InputLabel != "" {
			return "[" + s.InputLabel + "]"
		}
		return "[" + s.ParamID + "]"
	default:
		return s.Content
	}
}

// Text concatenates the display text of segs.
func Text(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(s.String())
	}
	return sb.String()
}

// InputIDs lists the parameter IDs of input segments in order.
func InputIDs(segs []Segment) []string {
	var ids []string
	for _, s := range segs {
		if s.Type == SegmentInput {
			ids = append(ids, s.ParamID)
		}
	}
	return ids
}
