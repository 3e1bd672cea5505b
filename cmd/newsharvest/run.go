package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pevans/newsharvest/config"
	"github.com/pevans/newsharvest/logging"
	"github.com/pevans/newsharvest/metrics"
	"github.com/pevans/newsharvest/pipeline"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	var selectors []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one collection",
		Long: `Collect the listing of every topic, enrich each entry from its detail
page and append the records to the configured sinks in batches.

The command exits non-zero when any topic or batch failed. Batches written
before a failure are kept.`,
		Example: `  newsharvest run
  newsharvest run --topic business --topic news/world
  NEWSHARVEST_SINK_KIND=sqlite,csv newsharvest run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rec := metrics.NewRecorder()
			if cfg.Metrics.Addr != "" {
				shutdown := serveMetrics(cfg.Metrics.Addr, rec, log)
				defer shutdown()
			}

			p, err := pipeline.New(cfg, log, rec)
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(); err != nil {
					log.Error("failed to close pipeline", zap.Error(err))
				}
			}()

			report, runErr := p.Run(ctx, selectors)
			renderReport(cmd.OutOrStdout(), report)
			if runErr != nil {
				return fmt.Errorf("run %s finished with failures: %w", report.RunID, runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&selectors, "topic", nil, "collect only this category or category/subcategory (repeatable)")
	return cmd
}

// serveMetrics exposes rec on addr until the returned function is called.
func serveMetrics(addr string, rec *metrics.Recorder, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
