package core

import "testing"

func TestClassifyExpense(t *testing.T) {
	cases := []struct {
		in       string
		category string
		cents    int64
	}{
		{"Groceries - 150", "Groceries", 15000},
		{"food-12.5", "food", 1250},
		{"Rent - 8000", "Rent", 800000},
		{"coffee-0", "coffee", 0},
		{"bills -  42.345", "bills", 4234},
		{"bills -  42.346", "bills", 4235},
		{"  Water  - 10 ", "Water", 1000},
	}
	for _, tc := range cases {
		got := Classify(tc.in)
		if got.Kind != Expense {
			t.Fatalf("Classify(%q) kind = %s, want expense", tc.in, got.Kind)
		}
		if got.Category != tc.category {
			t.Errorf("Classify(%q) category = %q, want %q", tc.in, got.Category, tc.category)
		}
		if got.Amount.Cents != tc.cents {
			t.Errorf("Classify(%q) cents = %d, want %d", tc.in, got.Amount.Cents, tc.cents)
		}
	}
}

func TestClassifyChatQuery(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"no hyphen", "how much did I spend on food"},
		{"one segment", "food"},
		{"three segments", "rent-deposit-200"},
		{"negative amount", "food - -50"},
		{"unparsable amount", "food - lots"},
		{"currency symbol", "food - $50"},
		{"thousands separator", "rent - 1,200"},
		{"empty category", "- 50"},
		{"empty amount", "food -"},
		{"double dot", "food - 1.2.3"},
		{"lone hyphen", "-"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.in)
			if got.Kind != ChatQuery {
				t.Fatalf("Classify(%q) kind = %s, want chat", tc.in, got.Kind)
			}
			if got.Text != tc.in {
				t.Errorf("Classify(%q) text = %q, want original input", tc.in, got.Text)
			}
		})
	}
}

func TestClassifyPreservesCategoryCase(t *testing.T) {
	got := Classify("GrOcErY Run - 20")
	if got.Kind != Expense {
		t.Fatalf("expected expense, got %s", got.Kind)
	}
	if got.Category != "GrOcErY Run" {
		t.Errorf("category = %q, want original case preserved", got.Category)
	}
}
