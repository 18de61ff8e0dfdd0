// Package services orchestrates the entry workflow: classifying raw
// input, persisting expenses, forwarding chat queries and keeping the
// remote ledger in sync.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"papi/internal/core"
)

// ErrUpdateNotSupported is returned when the configured backend cannot
// update entries in place.
var ErrUpdateNotSupported = errors.New("entry updates not supported by this backend")

// EntryStore is the persistence surface the service needs. Both the
// in-memory journal and the SQLite repository satisfy it.
type EntryStore interface {
	Append(ctx context.Context, e core.Entry) (string, error)
	ListEntries(ctx context.Context) ([]core.Entry, error)
	DeleteEntry(ctx context.Context, ref string) error
}

// EntryUpdater is optionally implemented by stores that can rewrite an
// entry in place.
type EntryUpdater interface {
	UpdateEntry(ctx context.Context, e core.Entry) error
}

// Publisher emits sync messages for the background worker.
type Publisher interface {
	PublishEntrySync(ctx context.Context, id, version int64) error
	PublishEntryDelete(ctx context.Context, id int64, remoteRef string) error
}

// Asker answers free-text questions. Implementations never fail: on
// trouble they return a fallback answer.
type Asker interface {
	Ask(ctx context.Context, message, sessionID string) string
}

// EntryService orchestrates entry operations across the store, the
// message broker and the chat assistant.
type EntryService struct {
	store     EntryStore
	publisher Publisher
	chat      Asker
}

func NewEntryService(store EntryStore, publisher Publisher, chat Asker) *EntryService {
	return &EntryService{
		store:     store,
		publisher: publisher,
		chat:      chat,
	}
}

// SubmitResult is the outcome of submitting raw input: either a recorded
// expense or a chat answer.
type SubmitResult struct {
	Kind   core.ClassificationKind
	Ref    string
	Entry  core.Entry
	Answer string
}

// SubmitEntry classifies the raw input. "category - amount" text becomes
// an expense entry dated today; anything else goes to the assistant and
// the answer comes back in the result.
func (s *EntryService) SubmitEntry(ctx context.Context, raw, sessionID string) (SubmitResult, error) {
	c := core.Classify(raw)

	if c.Kind == core.ChatQuery {
		answer := s.askAssistant(ctx, c.Text, sessionID)
		return SubmitResult{Kind: core.ChatQuery, Answer: answer}, nil
	}

	entry := core.Entry{
		Kind:       core.TextEntry,
		Category:   c.Category,
		Amount:     c.Amount,
		OccurredOn: core.Today(),
	}
	ref, err := s.saveEntry(ctx, entry)
	if err != nil {
		return SubmitResult{}, err
	}
	entry.ID = refID(ref)

	return SubmitResult{Kind: core.Expense, Ref: ref, Entry: entry}, nil
}

// AddEntry persists an already-built entry, e.g. from the structured
// expense form.
func (s *EntryService) AddEntry(ctx context.Context, e core.Entry) (string, error) {
	if e.OccurredOn.IsZero() {
		e.OccurredOn = core.Today()
	}
	return s.saveEntry(ctx, e)
}

// AddImageEntry records a receipt capture. Image entries carry no amount
// or category until someone reviews them, so they aggregate into the
// catch-all bucket.
func (s *EntryService) AddImageEntry(ctx context.Context, description string) (string, error) {
	entry := core.Entry{
		Kind:        core.ImageEntry,
		Description: description,
		OccurredOn:  core.Today(),
	}
	return s.saveEntry(ctx, entry)
}

func (s *EntryService) saveEntry(ctx context.Context, e core.Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	// Save locally first (fast, reliable)
	ref, err := s.store.Append(ctx, e)
	if err != nil {
		return "", fmt.Errorf("save entry: %w", err)
	}

	// Publish async sync message (version 1 for new entries). A broker
	// failure must not fail the request, the entry is saved locally.
	if id := refID(ref); id > 0 {
		if err := s.publishSync(ctx, id, 1); err != nil {
			slog.ErrorContext(ctx, "Failed to publish sync message",
				"id", id, "error", err)
		}
	}

	return ref, nil
}

// ListEntries returns all visible entries, newest first.
func (s *EntryService) ListEntries(ctx context.Context) ([]core.Entry, error) {
	return s.store.ListEntries(ctx)
}

// BudgetTotals aggregates the current entries into budget buckets.
func (s *EntryService) BudgetTotals(ctx context.Context) (core.BudgetTotals, error) {
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return core.BudgetTotals{}, fmt.Errorf("list entries: %w", err)
	}
	return core.AggregateBudget(entries), nil
}

// UpdateEntry rewrites an entry in place when the backend supports it.
func (s *EntryService) UpdateEntry(ctx context.Context, e core.Entry) error {
	updater, ok := s.store.(EntryUpdater)
	if !ok {
		return ErrUpdateNotSupported
	}
	if err := updater.UpdateEntry(ctx, e); err != nil {
		return err
	}

	if err := s.publishSync(ctx, e.ID, 0); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message for update",
			"id", e.ID, "error", err)
	}
	return nil
}

// DeleteEntry removes an entry locally and asks the worker to remove it
// from the remote ledger.
func (s *EntryService) DeleteEntry(ctx context.Context, ref string) error {
	if err := s.store.DeleteEntry(ctx, ref); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	if id := refID(ref); id > 0 {
		// The worker resolves the remote reference from storage.
		if err := s.publishDelete(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to publish delete message",
				"id", id, "error", err)
		}
	}
	return nil
}

// Ask forwards a question straight to the assistant, bypassing
// classification.
func (s *EntryService) Ask(ctx context.Context, message, sessionID string) string {
	return s.askAssistant(ctx, message, sessionID)
}

func (s *EntryService) askAssistant(ctx context.Context, message, sessionID string) string {
	if s.chat == nil {
		slog.WarnContext(ctx, "Chat assistant not configured")
		return "The assistant is not configured."
	}
	return s.chat.Ask(ctx, message, sessionID)
}

func (s *EntryService) publishSync(ctx context.Context, id, version int64) error {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Publisher not available, skipping sync message")
		return nil
	}
	return s.publisher.PublishEntrySync(ctx, id, version)
}

func (s *EntryService) publishDelete(ctx context.Context, id int64) error {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Publisher not available, skipping delete message")
		return nil
	}
	return s.publisher.PublishEntryDelete(ctx, id, "")
}

// Close releases the store and publisher if they hold resources.
func (s *EntryService) Close() error {
	var errs []error

	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if closer, ok := s.publisher.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close entry service: %v", errs)
	}
	return nil
}

// refID parses a numeric store reference; synthetic references such as
// the memory journal's return 0.
func refID(ref string) int64 {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
