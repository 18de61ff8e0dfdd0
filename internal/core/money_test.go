package core

import "testing"

func TestParseAmountToCents(t *testing.T) {
	cases := []struct {
		in    string
		cents int64
		ok    bool
	}{
		{"150", 15000, true},
		{"12.34", 1234, true},
		{"12.345", 1234, true}, // rounds down
		{"12.346", 1235, true}, // rounds up
		{"0", 0, true},
		{"0.00", 0, true},
		{".5", 50, true},
		{"7.", 700, true},
		{"  42  ", 4200, true},
		{"", 0, false},
		{"   ", 0, false},
		{"-50", 0, false},
		{"+50", 0, false},
		{"$50", 0, false},
		{"1,200", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
		{"12a", 0, false},
		{".", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmountToCents(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("ParseAmountToCents(%q) unexpected error: %v", tc.in, err)
				continue
			}
			if got != tc.cents {
				t.Errorf("ParseAmountToCents(%q) = %d, want %d", tc.in, got, tc.cents)
			}
		} else if err == nil {
			t.Errorf("ParseAmountToCents(%q) expected error, got %d", tc.in, got)
		}
	}
}

func TestParseAmountOverflow(t *testing.T) {
	if _, err := ParseAmountToCents("99999999999999999999"); err == nil {
		t.Fatal("expected error for overflowing amount")
	}
}

func TestMoneyUnits(t *testing.T) {
	if got := (Money{Cents: 1234}).Units(); got != 12.34 {
		t.Fatalf("Units() = %v, want 12.34", got)
	}
}
