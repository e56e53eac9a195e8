package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xtding233/experiment-engine/internal/engine"
	"github.com/xtding233/experiment-engine/internal/export"
	"github.com/xtding233/experiment-engine/internal/template"
)

// runSteps drives e from line commands on in until quit, EOF, or an advance
// past the end of the run.
func runSteps(e *engine.Engine, in io.Reader, out io.Writer) error {
	staged := e.StudentInputs()
	show := func() {
		st := e.Status()
		fmt.Fprintf(out, "[%d/%d] %s/%s %s\n", st.Step, st.TotalSteps, st.BlockID, st.RoundID, st.Phase)
		segs := e.Render()
		fmt.Fprintln(out, template.Text(segs))
		for _, s := range segs {
			if s.Type == template.SegmentInput {
				label := s.InputLabel
				if label == "" {
					label = s.ParamID
				}
				fmt.Fprintf(out, "  input %s (%s)\n", s.ParamID, label)
			}
		}
	}
	show()

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "quit", "exit":
			return nil
		case "", "next":
			if e.IsFinished() {
				fmt.Fprintln(out, "run finished")
				return nil
			}
			round := e.CurrentRoundIndex()
			if err := e.Advance(staged); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if e.CurrentRoundIndex() != round {
				staged = e.StudentInputs()
			}
			show()
		case "back":
			if err := e.GoBack(); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			staged = e.StudentInputs()
			show()
		case "recalc":
			if err := e.Recalculate(staged); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			show()
		case "history":
			if err := export.Write(out, export.FormatYAML, e.HistoryTable()); err != nil {
				return err
			}
		default:
			id, v, err := parseAssignment(line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if !e.ValidateInput(id, v) {
				fmt.Fprintf(out, "rejected: %s=%v fails validation\n", id, v)
				continue
			}
			staged[id] = v
		}
	}
	return sc.Err()
}
