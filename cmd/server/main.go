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

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found, using system environment")
	}

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := services.AutoMigrate(db, log); err != nil {
		return fmt.Errorf("run database migrations: %w", err)
	}

	ids, err := services.NewSnowflakeIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		return err
	}

	if cfg.CallbackSecret == "" {
		log.Warn("CALLBACK_SIGNING_SECRET not set, callback signatures will not be verified")
	}
	signer := services.NewCallbackSigner(cfg.CallbackSecret)
	gateway := services.NewGatewayService(cfg.Gateway, log)

	payments := services.NewPaymentService(db, gateway, signer, ids, cfg.Plans, cfg.AppURL, log)
	settlement := services.NewSettlementService(db, gateway, signer, cfg.Plans, log)

	if cfg.RedisURL != "" {
		client, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()
		payments.SetIdempotencyStore(services.NewRedisIdempotencyStore(client))
		log.Info("idempotency store enabled")
	} else {
		log.Info("REDIS_URL not set, Idempotency-Key header will be ignored")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)

	e := handlers.NewRouter(
		log,
		handlers.NewPaymentHandler(payments, settlement),
		handlers.NewHealthHandler(db),
		reg,
	)
	e.Server.ReadHeaderTimeout = 10 * time.Second

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
