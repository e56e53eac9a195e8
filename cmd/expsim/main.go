package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xtding233/experiment-engine/internal/export"
)

var (
	verbose bool
	logger  *zap.Logger

	seed          uint64
	inputs        []string
	runFormat     string
	watchFormat   string
	flattenFormat string
	mcFormat      string
	trials        int
	samples       bool
)

var rootCmd = &cobra.Command{
	Use:   "expsim",
	Short: "Inspect, lint and step through experiment definitions",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var flattenCmd = &cobra.Command{
	Use:   "flatten [file]",
	Short: "Print the flattened round table with reference diagnostics",
	Args:  cobra.ExactArgs(1),
	RunE:  flattenExperiment,
}

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Resolve every round without interaction and render all templates",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperiment,
}

var stepCmd = &cobra.Command{
	Use:   "step [file]",
	Short: "Step through an experiment phase by phase",
	Long: `Reads commands from stdin, one per line:
  id=value   stage a student input (checked against its validation rule)
  (empty)    advance, committing staged inputs
  back       go back one phase
  recalc     re-resolve the current round with staged inputs
  history    print the history table
  quit       stop`,
	Args: cobra.ExactArgs(1),
	RunE: stepExperiment,
}

var lintCmd = &cobra.Command{
	Use:   "lint [file]",
	Short: "Validate an experiment and report unknown references",
	Args:  cobra.ExactArgs(1),
	RunE:  lintExperiment,
}

var montecarloCmd = &cobra.Command{
	Use:   "montecarlo [file]",
	Short: "Repeat full runs and summarize numeric parameters per round",
	Args:  cobra.ExactArgs(1),
	RunE:  montecarloExperiment,
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir] [name]",
	Short: "Re-run an experiment from a config directory whenever it changes",
	Args:  cobra.ExactArgs(2),
	RunE:  watchExperiment,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "Seed for replayable draws (default: crypto random)")

	for _, c := range []*cobra.Command{runCmd, montecarloCmd, watchCmd} {
		c.Flags().StringArrayVar(&inputs, "input", nil, "Student input applied to every round, as id=value (repeatable)")
	}
	runCmd.Flags().StringVarP(&runFormat, "format", "f", string(export.FormatJSON), "Output format: json, yaml or protojson")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", string(export.FormatJSON), "Output format: json, yaml or protojson")
	montecarloCmd.Flags().StringVarP(&mcFormat, "format", "f", "table", "Output format: table, json, yaml or protojson")
	montecarloCmd.Flags().IntVar(&trials, "trials", 1000, "Number of full runs")
	montecarloCmd.Flags().BoolVar(&samples, "samples", false, "Include raw samples in structured output")
	flattenCmd.Flags().StringVarP(&flattenFormat, "format", "f", "table", "Output format: table, json, yaml or protojson")

	rootCmd.AddCommand(flattenCmd, runCmd, stepCmd, lintCmd, montecarloCmd, watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
