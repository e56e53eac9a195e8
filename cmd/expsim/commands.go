package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xtding233/experiment-engine/internal/engine"
	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/export"
	"github.com/xtding233/experiment-engine/internal/loader"
	"github.com/xtding233/experiment-engine/internal/montecarlo"
	"github.com/xtding233/experiment-engine/internal/sampling"
	"github.com/xtding233/experiment-engine/internal/simulate"
)

const formatTable = "table"

// rngFromFlags returns a seeded source when --seed was given.
func rngFromFlags(cmd *cobra.Command) sampling.RandomSource {
	if cmd.Flags().Changed("seed") {
		return sampling.NewSeededRNG(seed)
	}
	return sampling.DefaultRNG()
}

// parseAssignment splits id=value. Numeric values become float64.
func parseAssignment(s string) (string, any, error) {
	id, raw, ok := strings.Cut(s, "=")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", nil, fmt.Errorf("expected id=value, got %q", s)
	}
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return id, f, nil
	}
	return id, raw, nil
}

func parseAssignments(list []string) (map[string]any, error) {
	out := make(map[string]any, len(list))
	for _, s := range list {
		id, v, err := parseAssignment(s)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

func writeFormatted(w io.Writer, name string, v any) error {
	f, err := export.ParseFormat(name)
	if err != nil {
		return err
	}
	return export.Write(w, f, v)
}

func flattenExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loader.ReadFile(args[0])
	if err != nil {
		return err
	}
	rows := simulate.Table(cfg)
	if flattenFormat != formatTable {
		return writeFormatted(cmd.OutOrStdout(), flattenFormat, rows)
	}
	return printTable(cmd.OutOrStdout(), rows)
}

func printTable(w io.Writer, rows []simulate.TableRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tBLOCK\tROUND\tPARAM\tTYPE\tSOURCE")
	for i, row := range rows {
		for _, id := range row.Params.IDs() {
			entry := row.Params[id]
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, row.BlockID, row.RoundID, id, entry.Def.Type, entry.Source)
		}
		for _, ref := range row.Diagnostics {
			fmt.Fprintf(tw, "%d\t%s\t%s\t!\t%s\t\n", i, row.BlockID, row.RoundID, ref)
		}
	}
	return tw.Flush()
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loader.ReadFile(args[0])
	if err != nil {
		return err
	}
	in, err := parseAssignments(inputs)
	if err != nil {
		return err
	}
	res, err := simulate.Run(cfg, in, rngFromFlags(cmd), nil)
	if err != nil {
		return err
	}
	logger.Debug("run complete", zap.String("run_id", res.RunID), zap.Int("rounds", len(res.Simulation)))
	return writeFormatted(cmd.OutOrStdout(), runFormat, res)
}

func stepExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loader.ReadFile(args[0])
	if err != nil {
		return err
	}
	e, err := engine.New(cfg, engine.WithRNG(rngFromFlags(cmd)), engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer e.Close()
	return runSteps(e, cmd.InOrStdin(), cmd.OutOrStdout())
}

// lintExperiment reports validation errors and unknown references. Only
// validation errors fail the command.
func lintExperiment(cmd *cobra.Command, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cfg, err := loader.Decode(b)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	experiment.NormalizeConfig(&cfg)

	out := cmd.OutOrStdout()
	refs := experiment.UnknownReferences(cfg)
	for _, ref := range refs {
		fmt.Fprintf(out, "warning: %s\n", ref)
	}
	if err := experiment.Validate(cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "ok: %d rounds, %d warnings\n", len(experiment.FlattenConfig(cfg)), len(refs))
	return nil
}

func montecarloExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loader.ReadFile(args[0])
	if err != nil {
		return err
	}
	in, err := parseAssignments(inputs)
	if err != nil {
		return err
	}
	rounds, err := montecarlo.Run(cfg, trials, rngFromFlags(cmd), montecarlo.Options{StudentInputs: in, KeepSamples: samples})
	if err != nil {
		return err
	}
	if mcFormat != formatTable {
		return writeFormatted(cmd.OutOrStdout(), mcFormat, rounds)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tBLOCK\tROUND\tPARAM\tMEAN\tSTDDEV\tP50\tP90\tP99")
	for _, r := range rounds {
		ids := make([]string, 0, len(r.Params))
		for id := range r.Params {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			st := r.Params[id]
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\n",
				r.GlobalIndex, r.BlockID, r.RoundID, id, st.Mean, st.StdDev, st.P50, st.P90, st.P99)
		}
	}
	return tw.Flush()
}

func watchExperiment(cmd *cobra.Command, args []string) error {
	dir, name := args[0], args[1]
	l := loader.NewLoader(dir, loader.WithLogger(logger))
	in, err := parseAssignments(inputs)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	rng := rngFromFlags(cmd)

	rerun := func() {
		cfg, err := l.Load(name)
		if err != nil {
			logger.Error("load failed", zap.String("experiment", name), zap.Error(err))
			return
		}
		res, err := simulate.Run(cfg, in, rng, nil)
		if err != nil {
			logger.Error("run failed", zap.String("experiment", name), zap.Error(err))
			return
		}
		if err := writeFormatted(out, watchFormat, res); err != nil {
			logger.Error("write failed", zap.Error(err))
		}
	}

	if _, err := export.ParseFormat(watchFormat); err != nil {
		return err
	}
	rerun()

	changes := make(chan struct{}, 1)
	w, err := l.Watch(cmd.Context(), 0, func(names []string) {
		if slices.Contains(names, name) || slices.Contains(names, "default") {
			select {
			case changes <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-changes:
			rerun()
		}
	}
}
