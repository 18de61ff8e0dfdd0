// Package memory provides in-memory adapters: the per-session entry
// journal the budget view aggregates over, and a profile store for tests
// and the memory backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"papi/internal/core"
	"papi/internal/session"
)

// Journal is the ordered in-memory entry collection for the session,
// kept in insertion order.
type Journal struct {
	mu     sync.Mutex
	nextID int64
	items  []core.Entry
}

func NewJournal() *Journal {
	return &Journal{}
}

// Append stores the entry and returns a synthetic reference.
func (j *Journal) Append(_ context.Context, e core.Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	e.ID = j.nextID
	j.items = append(j.items, e)
	return fmt.Sprintf("mem:%d", e.ID), nil
}

// DeleteEntry removes the entry with the given reference.
func (j *Journal) DeleteEntry(_ context.Context, ref string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.items {
		if fmt.Sprintf("mem:%d", e.ID) == ref {
			j.items = append(j.items[:i], j.items[i+1:]...)
			return nil
		}
	}
	return core.ErrEntryNotFound
}

// ListEntries returns the entries newest first.
func (j *Journal) ListEntries(_ context.Context) ([]core.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]core.Entry, 0, len(j.items))
	for i := len(j.items) - 1; i >= 0; i-- {
		out = append(out, j.items[i])
	}
	return out, nil
}

// Snapshot returns the entries in insertion order for aggregation.
func (j *Journal) Snapshot() []core.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]core.Entry(nil), j.items...)
}

// Totals aggregates the journal into budget buckets.
func (j *Journal) Totals() core.BudgetTotals {
	return core.AggregateBudget(j.Snapshot())
}

// ProfileStore is an in-memory merge-on-write profile store.
type ProfileStore struct {
	mu       sync.Mutex
	profiles map[string]session.Profile
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]session.Profile)}
}

func (s *ProfileStore) ReadProfile(_ context.Context, uid string) (session.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[uid]
	if !ok {
		return session.Profile{}, session.ErrProfileNotFound
	}
	return p, nil
}

func (s *ProfileStore) WriteProfile(_ context.Context, uid string, updates session.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[uid] = s.profiles[uid].Merge(updates)
	return nil
}
