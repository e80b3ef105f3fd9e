package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/symfeed/service/config"
	"github.com/brojonat/symfeed/service/db"
	"github.com/brojonat/symfeed/service/metrics"
	natspkg "github.com/brojonat/symfeed/service/nats"
	"github.com/brojonat/symfeed/service/server"
	"github.com/brojonat/symfeed/service/session"
	"github.com/brojonat/symfeed/service/tracker"
	"github.com/brojonat/symfeed/service/transfer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"network", cfg.Network,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	broadcaster := tracker.NewBroadcaster(0, logger)
	defer broadcaster.Close()

	// Optional NATS publisher
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		events, unsubscribe := broadcaster.Subscribe()
		defer unsubscribe()
		go natspkg.Forward(ctx, events, publisher, logger)
	} else {
		logger.Info("NATS_URL not set, record events will not be published")
	}

	// Optional Postgres archive
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		if err := db.EnsureSchema(ctx, dbPool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		events, unsubscribe := broadcaster.Subscribe()
		defer unsubscribe()
		go db.Archive(ctx, events, db.NewStore(dbPool, m), logger)
	}

	alerter := session.NewAlerterFromConfig(cfg, logger)
	coordinator := session.NewCoordinatorFromConfig(cfg, alerter, broadcaster, m, logger)
	coordinator.Bind(ctx)
	defer coordinator.Stop()

	if cfg.AccountAddress != "" {
		s, err := coordinator.SwitchAccount(cfg.AccountAddress)
		if err != nil {
			logger.Error("failed to start tracking", "address", cfg.AccountAddress, "error", err)
			os.Exit(1)
		}
		logger.Info("tracking account",
			"address", s.Address,
			"network", s.Network,
			"endpoint", s.Endpoint.URL,
		)
	} else {
		logger.Info("ACCOUNT_ADDRESS not set, waiting for PUT /api/v1/account")
	}

	var submitter server.Submitter
	if signer := signerFromConfig(cfg); signer != nil {
		submitter = transfer.NewSubmitter(signer, coordinator, m, logger)
	}

	httpServer := server.New(cfg.ServerAddr, coordinator, submitter, m, logger).
		WithWriteRateLimit(cfg.WriteRateLimit)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// signerFromConfig returns the configured signer, or nil when submission is
// disabled.
func signerFromConfig(cfg *config.Config) transfer.Signer {
	switch {
	case cfg.SignerCommand != "":
		return &transfer.ExecSigner{Command: cfg.SignerCommand, Timeout: 5 * time.Minute}
	case cfg.SignerURL != "":
		return &transfer.HTTPSigner{URL: cfg.SignerURL, Client: &http.Client{Timeout: 5 * time.Minute}}
	default:
		return nil
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
