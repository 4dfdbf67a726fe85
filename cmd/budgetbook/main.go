package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"budgetbook/internal/cli"
	apphttp "budgetbook/internal/http"
	"budgetbook/internal/live"
	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, applog.ComponentApp)

	hub := live.NewHub()
	repo := cli.InitStore(logger, cfg.SQLiteDBPath, hub)
	defer repo.Close()

	var publisher services.EventPublisher
	if client := cli.InitAMQP(logger, cfg); client != nil {
		defer client.Close()
		publisher = client
	}

	ledger := services.NewLedgerService(repo, publisher, cfg.DefaultCurrency)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	if err := ledger.EnsureDefaults(ctx); err != nil {
		logger.Error("Failed to seed default settings", "error", err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, ledger, hub, logger)
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting budgetbook server",
			"port", cfg.Port, "db", cfg.SQLiteDBPath, "schema_version", repo.SchemaVersion())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
