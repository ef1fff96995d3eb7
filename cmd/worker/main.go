package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dealer_payments_echo/internal/config"
	"dealer_payments_echo/internal/handlers"
	"dealer_payments_echo/internal/logger"
	"dealer_payments_echo/internal/metrics"
	"dealer_payments_echo/internal/services"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With("process", "worker")
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found, using system environment")
	}

	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	gateway := services.NewGatewayService(cfg.Gateway, log)
	signer := services.NewCallbackSigner(cfg.CallbackSecret)
	settlement := services.NewSettlementService(db, gateway, signer, cfg.Plans, log)
	reconciler := services.NewReconciler(db, settlement, cfg.Reconcile, log)

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)

	metricsServer := handlers.NewMetricsRouter(log, reg)
	metricsServer.Server.ReadHeaderTimeout = 10 * time.Second
	go func() {
		if err := metricsServer.Start(":" + cfg.Reconcile.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	log.Info("worker started",
		"interval", cfg.Reconcile.Interval,
		"stale_after", cfg.Reconcile.StaleAfter,
		"expire_after", cfg.Reconcile.ExpireAfter,
		"metrics_port", cfg.Reconcile.MetricsPort,
	)

	ticker := time.NewTicker(cfg.Reconcile.Interval)
	defer ticker.Stop()

	// Run once at startup, then on every tick
	runPass(ctx, reconciler, log)

	for {
		select {
		case <-ticker.C:
			runPass(ctx, reconciler, log)
		case <-ctx.Done():
			log.Info("shutting down worker")
			return
		}
	}
}

func runPass(ctx context.Context, r *services.Reconciler, log *slog.Logger) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Error("reconcile pass failed", "error", err)
	}
}
