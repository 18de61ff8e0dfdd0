package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// TextEntry is an entry typed by the user and run through the classifier.
	TextEntry EntryKind = "text"
	// ImageEntry is a captured receipt; it bypasses classification and is
	// created with a zero amount and no category.
	ImageEntry EntryKind = "image"
)

type (
	EntryKind string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Entry is one user-submitted expense record. Entries are immutable once
	// created and are kept in insertion order for the session.
	Entry struct {
		ID          int64 // Database ID, zero before persistence
		Kind        EntryKind
		Category    string
		Amount      Money
		Description string
		OccurredOn  Date
	}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidKind   = errors.New("invalid entry kind")
	ErrEmptyCategory = errors.New("empty category")
	ErrEntryNotFound = errors.New("entry not found")
)

func (k EntryKind) IsValid() bool {
	switch k {
	case TextEntry, ImageEntry:
		return true
	default:
		return false
	}
}

// NewDate creates a Date from year, month, day (UTC, no time component).
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String formats the date as YYYY-MM-DD, the wire format the API uses.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks the entry invariants: a non-negative amount for every
// entry, and a non-empty category for text entries. Image entries may carry
// an empty category and a zero amount.
func (e Entry) Validate() error {
	if !e.Kind.IsValid() {
		return ErrInvalidKind
	}
	if err := e.OccurredOn.Validate(); err != nil {
		return err
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if e.Kind == TextEntry && strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}
