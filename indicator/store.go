/*
store.go - Persistence contract for indicator records

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never talks to a driver directly; the expander and the bulk workflows
  take a Store and nothing else.

KEY INTERFACES:
  Store:           Record persistence (get, list, insert, targeted updates)
  UserStatusStore: "is this user active" lookup backing the status cache

CONTRACT NOTES:
  - Get returns (nil, nil) for a missing id; callers translate to their
    own not-found error.
  - InsertMany is atomic: either every row is inserted or none are.
    The expander relies on this instead of row-level retry.
  - UpdateFields writes every editable column, nulls included. Two
    applications of the same patch leave identical stored state.
  - All calls take a context and may fail; implementations wrap driver
    failures in *StoreError.

IMPLEMENTATIONS:
  - indicator/store/memory.go: in-memory, for tests and dev
  - store/sqlite:              embedded SQLite
  - store/postgres:            hosted PostgreSQL via pgx
*/
package indicator

import "context"

// Store handles persistence of indicator records.
type Store interface {
	// Get returns the record with the given id, or (nil, nil) if absent.
	Get(ctx context.Context, id int64) (*Record, error)

	// List returns records matching the filter, ordered by id ascending.
	List(ctx context.Context, f Filter) ([]Record, error)

	// LastOccurrence returns the occurrence linked to baseID with the
	// latest CurrentDueDate, or (nil, nil) if none exist. Occurrences
	// without a due date do not count.
	LastOccurrence(ctx context.Context, baseID int64) (*Record, error)

	// Insert persists a single record and returns it with the assigned id.
	Insert(ctx context.Context, rec Record) (Record, error)

	// InsertMany persists all records atomically and returns them with
	// assigned ids, in input order.
	InsertMany(ctx context.Context, recs []Record) ([]Record, error)

	// UpdateFields writes the full editable column set for one record.
	// Returns ErrRecordNotFound if the id does not exist.
	UpdateFields(ctx context.Context, id int64, patch FieldPatch) error

	// SetReferencePeriod writes only the reference period column.
	SetReferencePeriod(ctx context.Context, id int64, ref Date) error

	// SetVisible toggles the soft-delete flag.
	SetVisible(ctx context.Context, id int64, visible bool) error

	// SetDocumentFlag mirrors the existence of an attached document.
	SetDocumentFlag(ctx context.Context, id int64, has bool) error
}

// UserStatusStore looks up whether a user account is active. Slow-changing;
// callers are expected to sit a StatusCache in front of it.
type UserStatusStore interface {
	IsUserActive(ctx context.Context, userID string) (bool, error)
}
