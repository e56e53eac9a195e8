package simulate

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/template"
)

func config() experiment.Config {
	return experiment.Config{
		Params: experiment.Params{
			"price": experiment.Constant(10),
			"qty":   experiment.StudentInput("Quantity", experiment.InputNumber, ""),
			"cost":  experiment.Equation("{{price}} * {{qty}}"),
		},
		Templates: experiment.Templates{
			IntroTemplate:    "Price {{price}}",
			DecisionTemplate: "How many? {{qty}}",
			ResultTemplate:   "Cost {{cost}} {{typo}}",
		},
		Blocks: []experiment.Block{{
			ID:    "b",
			Label: "Market",
			Rounds: []experiment.Round{
				{ID: "r1"},
				{ID: "r2", Params: experiment.Params{"price": experiment.Constant(20)}},
			},
		}},
	}
}

func TestRun(t *testing.T) {
	res, err := Run(config(), nil, nil, nil)
	require.NoError(t, err)
	_, err = uuid.Parse(res.RunID)
	require.NoError(t, err)
	require.Len(t, res.Simulation, 2)
	require.Len(t, res.History, 2)

	r2 := res.Simulation[1]
	assert.Equal(t, "Market", r2.BlockLabel)
	assert.Equal(t, "Price 20", template.Text(r2.Segments.Intro))

	want := []template.Segment{
		{Type: template.SegmentText, Content: "How many? "},
		{Type: template.SegmentInput, ParamID: "qty", InputLabel: "Quantity", InputType: experiment.InputNumber},
	}
	if diff := cmp.Diff(want, r2.Segments.Decision); diff != "" {
		t.Fatalf("decision segments (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Cost 0 {{typo}}", template.Text(r2.Segments.Result))
}

func TestRunWithInputs(t *testing.T) {
	res, err := Run(config(), map[string]any{"qty": 3}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.Simulation[0].Params["cost"].Value)
	assert.Equal(t, "How many? 3", template.Text(res.Simulation[0].Segments.Decision))
}

func TestRunPropagatesErrors(t *testing.T) {
	cfg := config()
	cfg.Params["cost"] = experiment.Equation("{{cost}}")
	_, err := Run(cfg, nil, nil, nil)
	require.ErrorIs(t, err, experiment.ErrCircularDependency)
}

func TestTable(t *testing.T) {
	rows := Table(config())
	require.Len(t, rows, 2)
	assert.Equal(t, "r2", rows[1].RoundID)
	require.Len(t, rows[0].Diagnostics, 1)
	assert.Equal(t, "typo", rows[0].Diagnostics[0].Ref)

	b, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"introTemplate":"Price {{price}}"`)
	assert.Contains(t, string(b), `"diagnostics"`)
}
