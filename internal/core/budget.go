package core

import "strings"

// Budget bucket labels. The set is closed: every entry lands in exactly
// one of the four.
const (
	BucketFood   = "Food"
	BucketBills  = "Bills"
	BucketRent   = "Rent"
	BucketOthers = "Others"
)

// BudgetTotals maps each bucket to its running total.
type BudgetTotals struct {
	Food   Money
	Bills  Money
	Rent   Money
	Others Money
}

// Sum returns the total across all four buckets.
func (t BudgetTotals) Sum() Money {
	return Money{Cents: t.Food.Cents + t.Bills.Cents + t.Rent.Cents + t.Others.Cents}
}

// bucketKeywords holds the substring rules in precedence order; the first
// matching bucket wins per entry.
var bucketKeywords = []struct {
	bucket   string
	keywords []string
}{
	{BucketFood, []string{"food", "grocery"}},
	{BucketBills, []string{"bill", "electricity", "water"}},
	{BucketRent, []string{"rent", "apartment", "room"}},
}

// BucketFor returns the budget bucket for a category string. Matching is
// case-insensitive substring containment; empty or unrecognized categories
// go to Others.
func BucketFor(category string) string {
	lower := strings.ToLower(category)
	for _, rule := range bucketKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.bucket
			}
		}
	}
	return BucketOthers
}

// AggregateBudget computes per-bucket totals over a set of entries. The
// result is independent of entry order, and the sum of the four buckets
// always equals the sum of the input amounts. Aggregation never fails:
// entries without a category (image captures) contribute to Others.
func AggregateBudget(entries []Entry) BudgetTotals {
	var totals BudgetTotals
	for _, e := range entries {
		switch BucketFor(e.Category) {
		case BucketFood:
			totals.Food.Cents += e.Amount.Cents
		case BucketBills:
			totals.Bills.Cents += e.Amount.Cents
		case BucketRent:
			totals.Rent.Cents += e.Amount.Cents
		default:
			totals.Others.Cents += e.Amount.Cents
		}
	}
	return totals
}
