// Package simulate materializes a whole experiment run for inspection:
// every round resolved in order with its three templates rendered.
package simulate

import (
	"time"

	"github.com/google/uuid"

	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/metrics"
	"github.com/xtding233/experiment-engine/internal/sampling"
	"github.com/xtding233/experiment-engine/internal/template"
)

// Segments holds the rendered templates of one round by phase.
type Segments struct {
	Intro    []template.Segment `json:"intro" yaml:"intro"`
	Decision []template.Segment `json:"decision" yaml:"decision"`
	Result   []template.Segment `json:"result" yaml:"result"`
}

type Round struct {
	BlockIndex int                  `json:"blockIndex" yaml:"blockIndex"`
	RoundIndex int                  `json:"roundIndex" yaml:"roundIndex"`
	BlockID    string               `json:"blockId" yaml:"blockId"`
	RoundID    string               `json:"roundId" yaml:"roundId"`
	BlockLabel string               `json:"blockLabel,omitempty" yaml:"blockLabel,omitempty"`
	Params     experiment.Resolved  `json:"params" yaml:"params"`
	Templates  experiment.Templates `json:"templates" yaml:"templates"`
	Segments   Segments             `json:"segments" yaml:"segments"`
}

type Result struct {
	RunID      string                  `json:"runId" yaml:"runId"`
	Simulation []Round                 `json:"simulation" yaml:"simulation"`
	History    []experiment.HistoryRow `json:"history" yaml:"history"`
}

// Run resolves every round of cfg without interaction. inputs apply to
// every round; m may be nil.
func Run(cfg experiment.Config, inputs map[string]any, rng sampling.RandomSource, m *metrics.Metrics) (Result, error) {
	start := time.Now()
	entries, rows, err := experiment.ResolveFullRun(cfg, experiment.ResolveInput{StudentInputs: inputs, RNG: rng})
	m.ObserveResolution(start, err)
	if err != nil {
		return Result{}, err
	}

	out := Result{RunID: uuid.NewString(), Simulation: make([]Round, 0, len(entries)), History: rows}
	for _, e := range entries {
		tpl := experiment.ResolveTemplates(cfg, e.BlockIndex, e.RoundIndex)
		out.Simulation = append(out.Simulation, Round{
			BlockIndex: e.BlockIndex,
			RoundIndex: e.RoundIndex,
			BlockID:    e.BlockID,
			RoundID:    e.RoundID,
			BlockLabel: e.BlockLabel,
			Params:     e.Params,
			Templates:  tpl,
			Segments: Segments{
				Intro:    template.Render(tpl.IntroTemplate, e.Params),
				Decision: template.Render(tpl.DecisionTemplate, e.Params),
				Result:   template.Render(tpl.ResultTemplate, e.Params),
			},
		})
	}
	return out, nil
}

// TableRow is one line of the static table view.
type TableRow struct {
	experiment.FlatRoundConfig `yaml:",inline"`
	Diagnostics                []experiment.Reference `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Table flattens cfg and attaches the unknown-reference diagnostics of each
// coordinate.
func Table(cfg experiment.Config) []TableRow {
	byCoord := make(map[[2]string][]experiment.Reference)
	for _, ref := range experiment.UnknownReferences(cfg) {
		key := [2]string{ref.BlockID, ref.RoundID}
		byCoord[key] = append(byCoord[key], ref)
	}
	flat := experiment.FlattenConfig(cfg)
	rows := make([]TableRow, len(flat))
	for i, f := range flat {
		rows[i] = TableRow{FlatRoundConfig: f, Diagnostics: byCoord[[2]string{f.BlockID, f.RoundID}]}
	}
	return rows
}
