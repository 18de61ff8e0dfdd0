// Package worker pushes locally persisted entries to the remote ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"papi/internal/amqp"
	"papi/internal/core"
	"papi/internal/ledger"
	"papi/internal/storage"
)

// SyncWorker handles synchronization of entries from SQLite to the remote
// ledger (Airtable by default).
type SyncWorker struct {
	storage   *storage.SQLiteRepository
	remote    ledger.EntryWriter
	deleter   ledger.EntryDeleter
	batchSize int
}

func NewSyncWorker(storage *storage.SQLiteRepository, remote ledger.EntryWriter, deleter ledger.EntryDeleter, batchSize int) *SyncWorker {
	return &SyncWorker{
		storage:   storage,
		remote:    remote,
		deleter:   deleter,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single entry sync message from AMQP
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.EntrySyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"id", msg.ID,
		"version", msg.Version)

	if err := w.syncEntry(ctx, msg.ID); err != nil {
		if errors.Is(err, core.ErrEntryNotFound) {
			// Deleted locally before the worker got to it; nothing to sync.
			slog.InfoContext(ctx, "Entry no longer exists, dropping sync message", "id", msg.ID)
			return nil
		}
		return fmt.Errorf("sync entry %d: %w", msg.ID, err)
	}
	return nil
}

// HandleDeleteMessage processes a remote delete request from AMQP
func (w *SyncWorker) HandleDeleteMessage(ctx context.Context, msg *amqp.EntryDeleteMessage) error {
	slog.InfoContext(ctx, "Processing delete message",
		"id", msg.ID,
		"remote_ref", msg.RemoteRef)

	if w.deleter == nil {
		slog.WarnContext(ctx, "No remote deleter configured, skipping remote deletion",
			"id", msg.ID)
		return nil
	}

	ref := msg.RemoteRef
	if ref == "" {
		// The entry may have been deleted before it ever synced.
		stored, err := w.storage.RemoteRef(ctx, msg.ID)
		if err != nil || stored == "" {
			slog.InfoContext(ctx, "Entry was never synced, nothing to delete remotely",
				"id", msg.ID)
			return nil
		}
		ref = stored
	}

	if err := w.deleter.DeleteEntry(ctx, ref); err != nil {
		slog.ErrorContext(ctx, "Failed to delete entry from remote ledger",
			"id", msg.ID,
			"remote_ref", ref,
			"error", err)
		return fmt.Errorf("delete remote entry: %w", err)
	}

	slog.InfoContext(ctx, "Deleted entry from remote ledger",
		"id", msg.ID,
		"remote_ref", ref)
	return nil
}

// ProcessPendingEntries processes any entries that haven't been synced yet.
// This is a backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessPendingEntries(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncEntries(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending entries: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending entries", "count", len(pending))

	for _, p := range pending {
		if err := w.syncEntry(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to sync entry", "id", p.ID, "error", err)
			continue
		}
	}

	return nil
}

// StartupSyncCheck syncs any pending entries at worker startup. This is
// useful to recover from missed AMQP messages or worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	// Use a larger batch for the startup check
	pending, err := w.storage.GetPendingSyncEntries(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending entries for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending entries found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending entries on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, p := range pending {
		if err := w.syncEntry(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to sync entry during startup",
				"id", p.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", successCount,
		"errors", errorCount)

	return nil
}

func (w *SyncWorker) syncEntry(ctx context.Context, id int64) error {
	entry, err := w.storage.GetEntry(ctx, id)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", markErr)
		}
		return fmt.Errorf("get entry from storage: %w", err)
	}

	ref, err := w.remote.Append(ctx, entry)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append to remote ledger: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, id, ref); err != nil {
		return fmt.Errorf("mark entry synced: %w", err)
	}

	slog.InfoContext(ctx, "Entry synced to remote ledger",
		"id", id,
		"remote_ref", ref,
		"category", entry.Category,
		"amount_cents", entry.Amount.Cents)

	return nil
}
