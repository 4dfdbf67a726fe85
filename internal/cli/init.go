// Package cli holds the start-up steps shared by cmd/budgetbook and
// cmd/budgetbook-events.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"budgetbook/internal/amqp"
	"budgetbook/internal/config"
	applog "budgetbook/internal/log"
	"budgetbook/internal/storage"
)

// SetupLogger builds the process logger at level and makes it the slog
// default.
func SetupLogger(level, format, component string) *applog.Logger {
	cfg := applog.DefaultConfig()
	cfg.Component = component
	cfg.JSON = format == "json"
	if lvl, err := applog.ParseLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger := applog.New(cfg)
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Exits the process on failure.
func LoadAndValidateConfig() *config.Config {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitStore opens the SQLite ledger and runs migrations. Exits the process
// on failure.
func InitStore(logger *applog.Logger, dbPath string, notifier storage.Notifier) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath, notifier)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// InitAMQP connects to the broker when cfg enables it. A nil client means
// events are disabled; a failed connection is logged and also yields nil.
func InitAMQP(logger *applog.Logger, cfg *config.Config) *amqp.Client {
	if !cfg.AMQPEnabled() {
		logger.Info("AMQP disabled, ledger events will not be published")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to connect to AMQP, continuing without events", "error", err)
		return nil
	}
	logger.Info("Connected to AMQP", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received", "operation", applog.OpShutdown)
	}()
	return ctx, cancel
}
