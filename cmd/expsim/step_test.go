package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtding233/experiment-engine/internal/engine"
	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/sampling"
)

const experimentDoc = `
params:
  value: {type: unif, min: 0, max: 100}
  bid:
    type: student_input
    inputLabel: Your bid
    inputType: number
    validation: "{{this}} >= 0 && {{this}} <= {{value}}"
  profit: {type: equation, expression: "{{value}} - {{bid}}"}
introTemplate: "Value {{value}}"
decisionTemplate: "Bid {{bid}}"
resultTemplate: "Profit {{profit}} {{typo}}"
blocks:
  - id: main
    rounds: [{id: r1}, {id: r2}]
`

func writeDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := experiment.Config{
		Params: experiment.Params{
			"value":  experiment.Unif(0, 100),
			"bid":    experiment.StudentInput("Your bid", experiment.InputNumber, "{{this}} <= {{value}}"),
			"profit": experiment.Equation("{{value}} - {{bid}}"),
		},
		Templates: experiment.Templates{
			IntroTemplate:    "Value {{value}}",
			DecisionTemplate: "Bid {{bid}}",
			ResultTemplate:   "Profit {{profit}}",
		},
		Blocks: []experiment.Block{{ID: "main", Rounds: []experiment.Round{{ID: "r1"}, {ID: "r2"}}}},
	}
	f := sampling.Fixed{0.4, 0.8}
	e, err := engine.New(cfg, engine.WithRNG(&f))
	require.NoError(t, err)
	return e
}

func TestRunSteps(t *testing.T) {
	e := newEngine(t)
	var out bytes.Buffer
	script := strings.Join([]string{
		"",       // to decision
		"bid=90", // rejected, above value
		"bid=15", // staged
		"recalc", // re-render with the staged bid
		"",       // to result
		"history",
		"back",
		"quit",
	}, "\n")
	require.NoError(t, runSteps(e, strings.NewReader(script), &out))

	got := out.String()
	assert.Contains(t, got, "[1/6] main/r1 intro\nValue 40\n")
	assert.Contains(t, got, "[2/6] main/r1 decision\nBid [Your bid]\n  input bid (Your bid)\n")
	assert.Contains(t, got, "rejected: bid=90 fails validation")
	assert.Contains(t, got, "[2/6] main/r1 decision\nBid 15\n")
	assert.Contains(t, got, "[3/6] main/r1 result\nProfit 25\n")
	assert.Contains(t, got, "profit: 25")
	assert.Equal(t, experiment.PhaseDecision, e.CurrentPhase())
}

func TestRunStepsToEnd(t *testing.T) {
	e := newEngine(t)
	var out bytes.Buffer
	require.NoError(t, runSteps(e, strings.NewReader(strings.Repeat("\n", 6)), &out))
	assert.True(t, e.IsFinished())
	assert.Contains(t, out.String(), "[4/6] main/r2 intro\nValue 80\n")
	assert.Contains(t, out.String(), "run finished")
}

func TestRunStepsBadLine(t *testing.T) {
	e := newEngine(t)
	var out bytes.Buffer
	require.NoError(t, runSteps(e, strings.NewReader("=3\n"), &out))
	assert.Contains(t, out.String(), `error: expected id=value, got "=3"`)
	assert.True(t, e.IsFirst())
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"bid=12.5", "name = Ada "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bid": 12.5, "name": "Ada"}, got)

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLintCommand(t *testing.T) {
	out, err := execute(t, "lint", writeDoc(t, experimentDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "warning: main/r1 resultTemplate: unknown reference {{typo}}")
	assert.Contains(t, out, "ok: 2 rounds, 2 warnings")

	_, err = execute(t, "lint", writeDoc(t, "blocks: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one round")
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--seed", "9", "--format", "yaml", "--input", "bid=5", writeDoc(t, experimentDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "runId:")
	assert.Contains(t, out, "roundId: r2")
}

func TestFlattenCommand(t *testing.T) {
	out, err := execute(t, "flatten", writeDoc(t, experimentDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "PARAM")
	assert.Contains(t, out, "profit")
	assert.Contains(t, out, "unknown reference {{typo}}")
}

func TestMontecarloCommand(t *testing.T) {
	out, err := execute(t, "montecarlo", "--seed", "1", "--trials", "200", writeDoc(t, experimentDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "MEAN")
	assert.Contains(t, out, "value")
}
