package core

import (
	"math/rand"
	"testing"
)

func entry(category string, cents int64) Entry {
	return Entry{
		Kind:       TextEntry,
		Category:   category,
		Amount:     Money{Cents: cents},
		OccurredOn: NewDate(2025, 6, 1),
	}
}

func TestAggregateBudgetEmpty(t *testing.T) {
	totals := AggregateBudget(nil)
	if totals.Food.Cents != 0 || totals.Bills.Cents != 0 || totals.Rent.Cents != 0 || totals.Others.Cents != 0 {
		t.Fatalf("expected all zero totals, got %+v", totals)
	}
}

func TestAggregateBudgetBuckets(t *testing.T) {
	entries := []Entry{
		entry("Food", 1000),
		entry("weekly grocery", 2500),
		entry("electricity", 4000),
		entry("Water", 500),
		entry("phone bill", 1500),
		entry("Apartment", 80000),
		entry("spare room", 20000),
		entry("Rent", 50000),
		entry("cinema", 1200),
		entry("", 300), // image capture, no category
	}
	totals := AggregateBudget(entries)
	if totals.Food.Cents != 3500 {
		t.Errorf("Food = %d, want 3500", totals.Food.Cents)
	}
	if totals.Bills.Cents != 6000 {
		t.Errorf("Bills = %d, want 6000", totals.Bills.Cents)
	}
	if totals.Rent.Cents != 150000 {
		t.Errorf("Rent = %d, want 150000", totals.Rent.Cents)
	}
	if totals.Others.Cents != 1500 {
		t.Errorf("Others = %d, want 1500", totals.Others.Cents)
	}
}

func TestBucketPrecedence(t *testing.T) {
	cases := []struct {
		category string
		bucket   string
	}{
		{"grocery bill", BucketFood}, // food rule wins over bills
		{"water bottle", BucketBills},
		{"food court rent", BucketFood},
		{"RENT", BucketRent}, // case-insensitive
		{"bathroom", BucketRent},
		{"", BucketOthers},
		{"misc", BucketOthers},
	}
	for _, tc := range cases {
		if got := BucketFor(tc.category); got != tc.bucket {
			t.Errorf("BucketFor(%q) = %s, want %s", tc.category, got, tc.bucket)
		}
	}
}

func TestAggregateBudgetOrderIndependent(t *testing.T) {
	entries := []Entry{
		entry("food", 100),
		entry("rent", 200),
		entry("bill", 300),
		entry("misc", 400),
		entry("grocery", 500),
	}
	want := AggregateBudget(entries)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := append([]Entry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		if got := AggregateBudget(shuffled); got != want {
			t.Fatalf("permutation %d: totals %+v, want %+v", i, got, want)
		}
	}
}

func TestAggregateBudgetConservation(t *testing.T) {
	entries := []Entry{
		entry("food", 123),
		entry("rent", 456),
		entry("water", 789),
		entry("something else", 1011),
		entry("", 0),
	}
	var sum int64
	for _, e := range entries {
		sum += e.Amount.Cents
	}
	totals := AggregateBudget(entries)
	if totals.Sum().Cents != sum {
		t.Fatalf("bucket sum = %d, want %d", totals.Sum().Cents, sum)
	}
}
