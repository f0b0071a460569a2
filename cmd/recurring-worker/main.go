package main

import (
	"context"
	"os"
	"time"

	"ledger/internal/backend"
	"ledger/internal/cli"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/worker"
)

func main() {
	logger, cfg := cli.Bootstrap(log.ComponentRecurring)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger.InfoContext(ctx, "Starting recurring-worker")

	if cfg.DataBackend != backend.SQLiteBackend.String() {
		logger.WarnContext(ctx, "Memory backend is private to this process, executions are not shared with the API server")
	}

	be := cli.OpenBackend(ctx, logger, cfg)
	defer be.Close()

	executor := services.NewExecutor(be.Store, time.Now)
	// Previews are served by the API process; no cache here.
	svc := services.NewRecurringService(be.Store, executor, nil, be.Publisher)
	processor := services.NewRecurringProcessor(be.Store, svc, cfg.RecurringConcurrency)

	poller := worker.NewPoller("recurring", cfg.RecurringInterval, func(ctx context.Context) error {
		summary, err := processor.ProcessDue(ctx, cfg.RecurringTenantID, core.Today())
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "Recurring run complete",
			"checked", summary.Checked,
			"errors", summary.Errors,
			"next_check", time.Now().Add(cfg.RecurringInterval).Format("15:04:05"))
		return nil
	})

	logger.InfoContext(ctx, "Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"concurrency", cfg.RecurringConcurrency,
		log.FieldTenantID, cfg.RecurringTenantID,
		"backend", cfg.DataBackend)
	if err := poller.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to start recurring poller", log.FieldError, err)
		os.Exit(1)
	}

	sig := cli.WaitForSignal(ctx)
	logger.InfoContext(ctx, "Shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := cli.ShutdownContext()
	defer shutdownCancel()

	// Posting ignores cancellation once started, so in-flight executions finish.
	cancel()
	if err := poller.Stop(shutdownCtx); err != nil {
		logger.WarnContext(shutdownCtx, "Recurring poller did not stop in time", log.FieldError, err)
		return
	}
	logger.InfoContext(shutdownCtx, "Recurring-worker shutdown complete")
}
