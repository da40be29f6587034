package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/pipemedic/internal/config"
	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/internal/server"
	"github.com/dwsmith1983/pipemedic/internal/telemetry"
	"github.com/dwsmith1983/pipemedic/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch pipeline runs and heal failures",
		Long:  "Polls recent workflow runs, remediates failures that are likely to heal, and serves the operational HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configDir(cmd))
		},
	}
}

func runServe(dir string) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(os.Stderr, os.Getenv("LOG_LEVEL"))
	ctx := context.Background()

	// Telemetry
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}

	// Metrics
	prom := metrics.NewPrometheus(prometheus.NewRegistry())
	otelSink, err := metrics.NewOTel(telemetry.Meter(metrics.MeterName))
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return fmt.Errorf("creating otel metrics: %w", err)
	}
	sink := metrics.Multi{prom, otelSink}

	a, err := newApp(ctx, cfg, sink, logger)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return err
	}

	// Tracker
	dedup, err := newDeduper(ctx, cfg)
	if err != nil {
		a.close(ctx)
		_ = shutdownTelemetry(ctx)
		return fmt.Errorf("creating deduper: %w", err)
	}
	poll, err := config.PollInterval(cfg)
	if err != nil {
		a.close(ctx)
		_ = shutdownTelemetry(ctx)
		return err
	}
	tr := tracker.New(a.github, a.engine, dedup, sink, logger, tracker.Config{
		PollInterval: poll,
		PageSize:     cfg.Tracker.PageSize,
		Workers:      cfg.Tracker.Workers,
	})

	// Server
	srv := server.New(cfg.Server.Addr, a.engine, a.store, a.pred, server.Options{
		APIKey:            cfg.Server.APIKey,
		MaxBody:           cfg.Server.MaxRequestBody,
		MinHealingSamples: cfg.Predictor.MinHealingSamples,
		Metrics:           sink,
		MetricsHandler:    prom.Handler(),
		Logger:            logger,
	})

	tr.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	color.Green("pipemedic watching %s, API on %s", cfg.Repository, cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-errCh:
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	tr.Stop(shutdownCtx)
	if err := srv.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	if c, ok := dedup.(io.Closer); ok {
		_ = c.Close()
	}
	a.close(shutdownCtx)
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("flushing telemetry", "error", err)
	}
	if serveErr != nil {
		return serveErr
	}
	color.Green("Stopped gracefully")
	return nil
}
