package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/xtding233/experiment-engine/internal/loader"
	"github.com/xtding233/experiment-engine/internal/metrics"
)

var (
	verbose   bool
	addr      string
	configDir string
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "HTTP endpoint for non-interactive experiment simulation",
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
	RunE: serve,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	rootCmd.Flags().StringVar(&configDir, "config-dir", "", "Base directory holding experiments/*.yaml (enables /experiments)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &server{log: logger, metrics: metrics.NewMetrics(), sessions: newSessions()}
	defer s.sessions.closeAll()
	if configDir != "" {
		s.loader = loader.NewLoader(configDir, loader.WithLogger(logger))
		w, err := s.loader.Watch(ctx, 0, nil)
		if err != nil {
			logger.Warn("hot reload disabled", zap.String("dir", configDir), zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
