package core

import (
	"testing"
	"time"
)

func TestDateParseAndFormat(t *testing.T) {
	d, err := ParseDate("2025-06-05")
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if d.String() != "2025-06-05" {
		t.Errorf("String() = %q, want 2025-06-05", d.String())
	}
	if _, err := ParseDate("05/06/2025"); err == nil {
		t.Error("expected error for non-ISO date")
	}
	if _, err := ParseDate(""); err == nil {
		t.Error("expected error for empty date")
	}
}

func TestEntryValidate(t *testing.T) {
	good := Entry{
		Kind:       TextEntry,
		Category:   "food",
		Amount:     Money{Cents: 100},
		OccurredOn: NewDate(2025, 6, 1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	// Image entries are valid with zero amount and no category.
	img := Entry{Kind: ImageEntry, OccurredOn: NewDate(2025, 6, 1)}
	if err := img.Validate(); err != nil {
		t.Fatalf("image entry: expected ok, got %v", err)
	}

	cases := []struct {
		name string
		e    Entry
	}{
		{"invalid kind", Entry{Kind: "audio", Category: "c", Amount: Money{Cents: 1}, OccurredOn: NewDate(2025, 1, 1)}},
		{"zero date", Entry{Kind: TextEntry, Category: "c", Amount: Money{Cents: 1}, OccurredOn: Date{Time: time.Time{}}}},
		{"negative amount", Entry{Kind: TextEntry, Category: "c", Amount: Money{Cents: -1}, OccurredOn: NewDate(2025, 1, 1)}},
		{"empty category on text", Entry{Kind: TextEntry, Category: "  ", Amount: Money{Cents: 1}, OccurredOn: NewDate(2025, 1, 1)}},
	}
	for _, tc := range cases {
		if err := tc.e.Validate(); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
