/*
expander.go - Occurrence generation from a recurring base record

PURPOSE:
  Given a base record (the template) and a count N, produce N new records
  continuing its schedule. The expander finds where the schedule currently
  ends - the latest existing occurrence, or the base's initial due date -
  and walks Advance forward N times.

FAILURE MODEL:
  Parameter and precondition checks fail fast before any insert. The
  insert itself is a single atomic InsertMany call; there is no row-level
  retry. Partial failure is therefore impossible from this component's
  point of view.

SEE ALSO:
  - schedule.go: the per-step arithmetic
  - store.go: LastOccurrence and InsertMany contracts
*/
package indicator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Expander generates successive occurrences of recurring base records.
type Expander struct {
	store Store
	log   zerolog.Logger
}

// NewExpander wires an expander to its store.
func NewExpander(store Store, log zerolog.Logger) *Expander {
	return &Expander{store: store, log: log}
}

// Expand creates n occurrence records continuing the schedule of baseID
// and returns how many were inserted.
//
// A base without recurrence (unit none) is accepted and produces n rows
// all sharing the base's current anchor date. That mirrors how operators
// have been using the system to stagger one deadline across copies, so it
// is kept; it is logged because it may equally be an input mistake.
func (e *Expander) Expand(ctx context.Context, baseID int64, n int) (int, error) {
	if n < 1 {
		return 0, ErrInvalidRepeatCount
	}

	base, err := e.store.Get(ctx, baseID)
	if err != nil {
		return 0, fmt.Errorf("fetch base %d: %w", baseID, err)
	}
	if base == nil {
		return 0, ErrBaseNotFound
	}

	last, err := e.store.LastOccurrence(ctx, baseID)
	if err != nil {
		return 0, fmt.Errorf("fetch last occurrence of %d: %w", baseID, err)
	}

	cursor := base.InitialDueDate
	if last != nil {
		cursor = last.CurrentDueDate
	}
	if cursor.IsZero() {
		return 0, ErrNoAnchorDate
	}

	rule := base.Recurrence
	if rule.Unit == UnitNone {
		e.log.Warn().
			Int64("base_id", baseID).
			Int("count", n).
			Msg("expanding base without recurrence; all occurrences share one due date")
	}
	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	rows := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		if rule.Unit != UnitNone {
			next, err := Advance(cursor, rule.Unit, interval)
			if err != nil {
				return 0, fmt.Errorf("advance schedule of base %d: %w", baseID, err)
			}
			cursor = next
		}
		occ := base.CloneForOccurrence()
		occ.CurrentDueDate = cursor
		rows = append(rows, occ)
	}

	inserted, err := e.store.InsertMany(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("insert %d occurrences of base %d: %w", n, baseID, err)
	}

	e.log.Info().
		Int64("base_id", baseID).
		Int("inserted", len(inserted)).
		Str("unit", rule.Unit.String()).
		Int("interval", interval).
		Msg("expanded base record")

	return len(inserted), nil
}
