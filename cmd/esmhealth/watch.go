package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marcus-qen/esmhealth/internal/config"
	"github.com/marcus-qen/esmhealth/internal/telemetry"
)

// cmdWatch runs the health check on a cron schedule until interrupted.
// Prometheus metrics are served on the configured listen address and traces
// exported when an OTLP endpoint is set.
func cmdWatch(ctx context.Context, args []string) error {
	configPath, _ := parseConfigFlag(args)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Schedule == "" {
		return fmt.Errorf("watch requires a schedule in the config file")
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("trace provider shutdown failed", zap.Error(err))
		}
	}()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server exited", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	// Overlap guard: a tick is skipped while the previous run is active.
	var running sync.Mutex
	doRun := func() {
		if !running.TryLock() {
			logger.Warn("previous run still active, skipping tick")
			return
		}
		defer running.Unlock()

		run, err := executeRun(ctx, cfg, logger)
		if err != nil {
			logger.Error("evaluation run failed", zap.Error(err))
			return
		}
		renderRun(run)
		sendNotifications(ctx, cfg, run, zapr.NewLogger(logger))
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, doRun); err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}

	logger.Info("watch starting", zap.String("schedule", cfg.Schedule))
	doRun()
	c.Start()

	<-ctx.Done()
	logger.Info("watch stopping")

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for in-flight run")
	}
	return nil
}
