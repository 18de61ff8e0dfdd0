package ledger

import (
	"context"

	"papi/internal/core"
)

// Ports for outbound entry persistence adapters.
type (
	EntryWriter interface {
		Append(ctx context.Context, e core.Entry) (ref string, err error)
	}

	EntryLister interface {
		// ListEntries returns all entries, newest first.
		ListEntries(ctx context.Context) ([]core.Entry, error)
	}

	EntryDeleter interface {
		DeleteEntry(ctx context.Context, ref string) error
	}
)
