package snapshot

import "context"

// Store is the capability a dataset's backing filesystem offers for
// point-in-time snapshots. Implementations are expected to be safe for
// concurrent use by at most one agent per pool, matching the
// single-writer discipline the rest of the system relies on.
type Store interface {
	// Create takes a new snapshot under name. Implementations should
	// treat a duplicate name (the same dataset snapshotted twice at an
	// identical timestamp) as success, not an error.
	Create(ctx context.Context, name Name) error

	// List returns every Flocker-owned snapshot currently present,
	// oldest first. Entries that are not names of the implementation's
	// own snapshot naming scheme are silently skipped rather than
	// surfaced as errors.
	List(ctx context.Context) ([]Name, error)
}
