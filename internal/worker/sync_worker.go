package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ledger/internal/amqp"
	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/sheets"
)

// SyncWorker mirrors posted ledger entries to the cloud sheet.
type SyncWorker struct {
	entries   ledger.EntryReader
	tracker   ledger.SyncTracker
	sheets    sheets.EntryWriter
	batchSize int
}

func NewSyncWorker(entries ledger.EntryReader, tracker ledger.SyncTracker, sheets sheets.EntryWriter, batchSize int) *SyncWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	return &SyncWorker{
		entries:   entries,
		tracker:   tracker,
		sheets:    sheets,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single entry sync message from AMQP
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.EntrySyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		log.FieldOperation, log.OpSync,
		log.FieldEntryID, msg.EntryID,
		log.FieldTenantID, msg.TenantID,
		log.FieldRecurringID, msg.RecurringID)

	e, err := w.entries.FindEntry(ctx, msg.EntryID)
	if err != nil {
		return fmt.Errorf("get entry from storage: %w", err)
	}
	if err := w.syncEntry(ctx, *e); err != nil {
		return fmt.Errorf("sync entry to sheets: %w", err)
	}
	return nil
}

// ProcessPendingEntries mirrors entries that were never marked synced. This
// is a backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessPendingEntries(ctx context.Context) error {
	_, _, err := w.syncPending(ctx, w.batchSize)
	return err
}

// StartupSyncCheck runs a larger backup pass when the worker starts, to
// recover from missed messages or worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, failed, err := w.syncPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	slog.InfoContext(ctx, "Startup sync completed",
		log.FieldOperation, log.OpStartup,
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *SyncWorker) syncPending(ctx context.Context, limit int) (synced, failed int, err error) {
	if w.tracker == nil {
		return 0, 0, nil
	}
	pending, err := w.tracker.PendingSyncEntries(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending entries: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	slog.InfoContext(ctx, "Processing pending entries",
		log.FieldOperation, log.OpSync,
		"count", len(pending))
	for _, e := range pending {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		if err := w.syncEntry(ctx, e); err != nil {
			slog.ErrorContext(ctx, "Failed to sync entry", log.FieldEntryID, e.ID, log.FieldError, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

func (w *SyncWorker) syncEntry(ctx context.Context, e core.LedgerEntry) error {
	ref, err := w.sheets.AppendEntry(ctx, e)
	if err != nil {
		return fmt.Errorf("append to sheets: %w", err)
	}

	if w.tracker != nil {
		if err := w.tracker.MarkEntrySynced(ctx, e.ID); err != nil {
			// The row exists; a later backup pass finds it by entry id.
			slog.ErrorContext(ctx, "Failed to mark as synced", log.FieldEntryID, e.ID, log.FieldError, err)
		}
	}

	slog.InfoContext(ctx, "Successfully synced entry",
		log.FieldOperation, log.OpSync,
		log.FieldEntryID, e.ID,
		log.FieldAccountID, e.AccountID,
		"sheets_ref", ref,
		log.FieldAmount, core.FormatAmount(e.Amount))
	return nil
}
