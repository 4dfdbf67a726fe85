// Command budgetbook-events consumes ledger events from AMQP and logs an
// alert whenever a budget crosses its warning or over threshold.
package main

import (
	"context"
	"errors"
	"os"

	"budgetbook/internal/amqp"
	"budgetbook/internal/cli"
	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
	"budgetbook/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, applog.ComponentEvents)

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the events worker")
		os.Exit(1)
	}

	// Read-only use of the store; the worker never writes, so no hub.
	repo := cli.InitStore(logger, cfg.SQLiteDBPath, nil)
	defer repo.Close()
	ledger := services.NewLedgerService(repo, nil, cfg.DefaultCurrency)

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	budgets := worker.NewBudgetWorker(ledger)
	// Prime the last-seen statuses so start-up does not replay old alerts.
	if _, err := budgets.Check(ctx); err != nil {
		logger.Warn("Initial budget check failed", "error", err)
	}

	logger.Info("Starting budgetbook-events", "queue", cfg.AMQPQueue)
	if err := client.ConsumeLedgerEvents(ctx, budgets.HandleLedgerEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Events worker stopped")
}
