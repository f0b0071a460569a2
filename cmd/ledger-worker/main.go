package main

import (
	"context"
	"errors"
	"os"

	"ledger/internal/amqp"
	"ledger/internal/cli"
	"ledger/internal/log"
	gsheet "ledger/internal/sheets/google"
	"ledger/internal/storage"
	"ledger/internal/worker"
)

func main() {
	logger, cfg := cli.Bootstrap(log.ComponentWorker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger.InfoContext(ctx, "Starting ledger-worker")

	if cfg.GoogleSpreadsheetID == "" {
		logger.ErrorContext(ctx, "GOOGLE_SPREADSHEET_ID is required for the ledger mirror")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	sheetsClient, err := gsheet.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.InfoContext(ctx, "Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	syncWorker := worker.NewSyncWorker(repo, repo, sheetsClient, cfg.SyncBatchSize)

	// Entries posted while the worker was down
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed startup sync check", log.FieldError, err)
	}

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			if err := amqpClient.ConsumeEntrySync(ctx, syncWorker.HandleSyncMessage); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "Message consumption failed", log.FieldError, err)
				cancel()
			}
		}()
	} else {
		logger.InfoContext(ctx, "AMQP disabled, relying on the periodic scan only")
	}

	// Backup scan for messages that were lost or never published
	poller := worker.NewPoller("sync", cfg.SyncInterval, syncWorker.ProcessPendingEntries)
	if err := poller.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to start sync poller", log.FieldError, err)
		os.Exit(1)
	}

	if sig := cli.WaitForSignal(ctx); sig != nil {
		logger.InfoContext(ctx, "Shutdown signal received", "signal", sig.String())
	} else {
		logger.InfoContext(context.Background(), "Context cancelled")
	}

	shutdownCtx, shutdownCancel := cli.ShutdownContext()
	defer shutdownCancel()

	logger.InfoContext(shutdownCtx, "Shutting down worker...")
	cancel()
	if err := poller.Stop(shutdownCtx); err != nil {
		logger.WarnContext(shutdownCtx, "Sync poller did not stop in time", log.FieldError, err)
		return
	}
	logger.InfoContext(shutdownCtx, "Worker shutdown complete")
}
