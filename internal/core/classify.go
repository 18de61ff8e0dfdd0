package core

import "strings"

const (
	// Expense means the input looked like "category - amount".
	Expense ClassificationKind = "expense"
	// ChatQuery is the fallback for everything else; the text is forwarded
	// to the assistant untouched.
	ChatQuery ClassificationKind = "chat"
)

type (
	ClassificationKind string

	// Classification is the result of classifying one raw entry string.
	// Category and Amount are set only for the Expense kind; Text carries
	// the original input for the ChatQuery kind.
	Classification struct {
		Kind     ClassificationKind
		Category string
		Amount   Money
		Text     string
	}
)

// Classify decides whether a raw entry is a structured expense or a chat
// message. The input must already be trimmed and non-empty; that is the
// caller's precondition, not an error case here.
//
// An entry is an expense exactly when splitting on "-" yields two segments,
// the first is non-empty after trimming, and the second parses as a
// non-negative decimal. Everything else, including categories with internal
// hyphens ("rent-deposit-200"), falls through to ChatQuery. The multi-hyphen
// case is a known limitation kept for simplicity.
//
// The category is returned trimmed but in its original case; lower-casing
// for bucket matching happens at aggregation time.
func Classify(raw string) Classification {
	parts := strings.Split(raw, "-")
	if len(parts) != 2 {
		return Classification{Kind: ChatQuery, Text: raw}
	}
	category := strings.TrimSpace(parts[0])
	if category == "" {
		return Classification{Kind: ChatQuery, Text: raw}
	}
	cents, err := ParseAmountToCents(parts[1])
	if err != nil {
		return Classification{Kind: ChatQuery, Text: raw}
	}
	return Classification{
		Kind:     Expense,
		Category: category,
		Amount:   Money{Cents: cents},
	}
}
