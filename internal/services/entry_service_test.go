package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"papi/internal/core"
	"papi/internal/ledger/memory"
)

type fakePublisher struct {
	syncs   []int64
	deletes []int64
	fail    bool
}

func (p *fakePublisher) PublishEntrySync(_ context.Context, id, _ int64) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.syncs = append(p.syncs, id)
	return nil
}

func (p *fakePublisher) PublishEntryDelete(_ context.Context, id int64, _ string) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.deletes = append(p.deletes, id)
	return nil
}

type fakeAsker struct {
	lastMessage string
	lastSession string
	answer      string
}

func (a *fakeAsker) Ask(_ context.Context, message, sessionID string) string {
	a.lastMessage = message
	a.lastSession = sessionID
	return a.answer
}

func TestSubmitEntry_ExpensePath(t *testing.T) {
	journal := memory.NewJournal()
	asker := &fakeAsker{answer: "unused"}
	svc := NewEntryService(journal, nil, asker)

	res, err := svc.SubmitEntry(context.Background(), "Groceries - 150", "u1")
	if err != nil {
		t.Fatalf("SubmitEntry() error = %v", err)
	}
	if res.Kind != core.Expense {
		t.Fatalf("Kind = %v, want expense", res.Kind)
	}
	if res.Entry.Category != "Groceries" || res.Entry.Amount.Cents != 15000 {
		t.Errorf("entry = %+v, want Groceries 15000 cents", res.Entry)
	}
	if asker.lastMessage != "" {
		t.Error("assistant should not be consulted for an expense")
	}

	entries, err := svc.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestSubmitEntry_ChatPath(t *testing.T) {
	journal := memory.NewJournal()
	asker := &fakeAsker{answer: "You spent 150 on groceries."}
	svc := NewEntryService(journal, nil, asker)

	res, err := svc.SubmitEntry(context.Background(), "how much did I spend last week?", "u1")
	if err != nil {
		t.Fatalf("SubmitEntry() error = %v", err)
	}
	if res.Kind != core.ChatQuery {
		t.Fatalf("Kind = %v, want chat", res.Kind)
	}
	if res.Answer != "You spent 150 on groceries." {
		t.Errorf("Answer = %q", res.Answer)
	}
	if asker.lastMessage != "how much did I spend last week?" {
		t.Errorf("assistant message = %q", asker.lastMessage)
	}
	if asker.lastSession != "u1" {
		t.Errorf("assistant session = %q", asker.lastSession)
	}

	entries, _ := svc.ListEntries(context.Background())
	if len(entries) != 0 {
		t.Error("chat queries must not create entries")
	}
}

func TestSubmitEntry_ChatWithoutAssistant(t *testing.T) {
	svc := NewEntryService(memory.NewJournal(), nil, nil)

	res, err := svc.SubmitEntry(context.Background(), "hello there", "u1")
	if err != nil {
		t.Fatalf("SubmitEntry() error = %v", err)
	}
	if res.Answer == "" {
		t.Error("expected a fallback answer when no assistant is configured")
	}
}

func TestAddImageEntry(t *testing.T) {
	journal := memory.NewJournal()
	svc := NewEntryService(journal, nil, nil)

	ref, err := svc.AddImageEntry(context.Background(), "receipt.jpg")
	if err != nil {
		t.Fatalf("AddImageEntry() error = %v", err)
	}
	if ref == "" {
		t.Fatal("expected a reference")
	}

	entries, _ := svc.ListEntries(context.Background())
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Kind != core.ImageEntry {
		t.Errorf("Kind = %v, want image", e.Kind)
	}
	if e.Amount.Cents != 0 {
		t.Errorf("Amount = %d, want 0", e.Amount.Cents)
	}
	if e.Category != "" {
		t.Errorf("Category = %q, want empty until reviewed", e.Category)
	}
}

func TestBudgetTotals(t *testing.T) {
	journal := memory.NewJournal()
	svc := NewEntryService(journal, nil, nil)
	ctx := context.Background()

	for _, raw := range []string{"grocery run - 10", "electricity bill - 20", "rent - 30", "cinema - 5"} {
		if _, err := svc.SubmitEntry(ctx, raw, ""); err != nil {
			t.Fatalf("SubmitEntry(%q) error = %v", raw, err)
		}
	}

	totals, err := svc.BudgetTotals(ctx)
	if err != nil {
		t.Fatalf("BudgetTotals() error = %v", err)
	}
	if totals.Food.Cents != 1000 || totals.Bills.Cents != 2000 || totals.Rent.Cents != 3000 || totals.Others.Cents != 500 {
		t.Errorf("totals = %+v", totals)
	}
}

func TestDeleteEntry(t *testing.T) {
	journal := memory.NewJournal()
	svc := NewEntryService(journal, nil, nil)
	ctx := context.Background()

	res, err := svc.SubmitEntry(ctx, "food - 10", "")
	if err != nil {
		t.Fatalf("SubmitEntry() error = %v", err)
	}

	if err := svc.DeleteEntry(ctx, res.Ref); err != nil {
		t.Fatalf("DeleteEntry() error = %v", err)
	}
	entries, _ := svc.ListEntries(ctx)
	if len(entries) != 0 {
		t.Errorf("entries after delete = %d, want 0", len(entries))
	}

	if err := svc.DeleteEntry(ctx, res.Ref); !errors.Is(err, core.ErrEntryNotFound) {
		t.Errorf("second delete error = %v, want ErrEntryNotFound", err)
	}
}

func TestUpdateEntry_UnsupportedBackend(t *testing.T) {
	svc := NewEntryService(memory.NewJournal(), nil, nil)

	err := svc.UpdateEntry(context.Background(), core.Entry{
		ID: 1, Kind: core.TextEntry, Category: "food",
		Amount: core.Money{Cents: 100}, OccurredOn: core.NewDate(2025, 6, 1),
	})
	if !errors.Is(err, ErrUpdateNotSupported) {
		t.Errorf("UpdateEntry() error = %v, want ErrUpdateNotSupported", err)
	}
}

// numericRefStore wraps the journal with SQLite-style numeric references
// so the publish path is exercised.
type numericRefStore struct {
	*memory.Journal
	next int64
}

func (s *numericRefStore) Append(ctx context.Context, e core.Entry) (string, error) {
	if _, err := s.Journal.Append(ctx, e); err != nil {
		return "", err
	}
	s.next++
	return fmt.Sprintf("%d", s.next), nil
}

func TestPublisherFailureDoesNotFailRequest(t *testing.T) {
	store := &numericRefStore{Journal: memory.NewJournal()}
	pub := &fakePublisher{fail: true}
	svc := NewEntryService(store, pub, nil)

	if _, err := svc.SubmitEntry(context.Background(), "food - 10", ""); err != nil {
		t.Fatalf("SubmitEntry() should succeed despite broker failure, got %v", err)
	}
}

func TestSyncMessagePublishedForNumericRefs(t *testing.T) {
	store := &numericRefStore{Journal: memory.NewJournal()}
	pub := &fakePublisher{}
	svc := NewEntryService(store, pub, nil)

	if _, err := svc.SubmitEntry(context.Background(), "food - 10", ""); err != nil {
		t.Fatalf("SubmitEntry() error = %v", err)
	}
	if len(pub.syncs) != 1 || pub.syncs[0] != 1 {
		t.Errorf("published syncs = %v, want [1]", pub.syncs)
	}
}

func TestSubmitEntry_InvalidAmountFallsBackToChat(t *testing.T) {
	journal := memory.NewJournal()
	asker := &fakeAsker{answer: "noted"}
	svc := NewEntryService(journal, nil, asker)

	res, err := svc.SubmitEntry(context.Background(), "food - -50", "u1")
	if err != nil {
		t.Fatalf("SubmitEntry() error = %v", err)
	}
	if res.Kind != core.ChatQuery {
		t.Fatalf("Kind = %v, want chat for negative amount", res.Kind)
	}
	if asker.lastMessage != "food - -50" {
		t.Errorf("assistant should receive the original text, got %q", asker.lastMessage)
	}
}
