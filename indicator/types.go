/*
Package indicator provides the core scheduling engine for indicator records.

PURPOSE:
  An indicator is a tracked obligation or metric instance: it belongs to a
  project, carries a due date, may recur on a day/month/year schedule, and
  holds a user-entered value. This package owns the schedule arithmetic
  (Advance, ReferencePeriod), the record model, the store contract, and the
  recurrence expander that generates future occurrences from a base record.

KEY CONCEPTS IN THIS FILE (types.go):
  - Record: one indicator instance with grouping, schedule and value fields
  - Recurrence: the {unit, interval} pair defining "every N days/months/years"
  - RecurrenceUnit: closed enumeration (None, Day, Month, Year)
  - FieldPatch: the editable-field subset written by bulk updates

DESIGN PRINCIPLES:
  1. Calendar dates only: schedule fields are Date values, never timestamps
  2. Precision: decimal.Decimal for values, no floating-point drift
  3. Closed enums: RecurrenceUnit parsing fails loudly on unknown strings
  4. Soft delete: records are hidden via the Visible flag, never removed

SEE ALSO:
  - date.go: Date type and calendar arithmetic
  - schedule.go: Advance and ReferencePeriod
  - expander.go: occurrence generation from a base record
  - store.go: persistence contract
*/
package indicator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECURRENCE
// =============================================================================

// RecurrenceUnit is the closed set of schedule step units.
type RecurrenceUnit int

const (
	UnitNone RecurrenceUnit = iota
	UnitDay
	UnitMonth
	UnitYear
)

func (u RecurrenceUnit) String() string {
	switch u {
	case UnitNone:
		return "none"
	case UnitDay:
		return "day"
	case UnitMonth:
		return "month"
	case UnitYear:
		return "year"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// ParseRecurrenceUnit maps a stored string to a RecurrenceUnit. Unknown
// strings are an error rather than a silent no-op: a schedule that stops
// advancing because of a typo is worse than a rejected write.
func ParseRecurrenceUnit(s string) (RecurrenceUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return UnitNone, nil
	case "day":
		return UnitDay, nil
	case "month":
		return UnitMonth, nil
	case "year":
		return UnitYear, nil
	default:
		return UnitNone, fmt.Errorf("%w: %q", ErrInvalidRecurrenceUnit, s)
	}
}

// Recurrence is the rule embedded in a Record. When Unit is UnitNone the
// Interval is ignored and no further occurrences are generated.
type Recurrence struct {
	Unit     RecurrenceUnit
	Interval int
}

// IsNone reports whether the rule generates no schedule steps.
func (r Recurrence) IsNone() bool {
	return r.Unit == UnitNone || r.Interval <= 0
}

// =============================================================================
// RECORD
// =============================================================================

// Record is one tracked indicator instance.
//
// A record created by the expander keeps a link to its template via BaseID;
// BaseID zero means the record was entered manually (or is itself a base).
// CalculatedValue is system-derived and read-only to users; only
// PresentedValue accepts user input.
type Record struct {
	ID     int64
	BaseID int64

	// Grouping - opaque foreign identifiers resolved to names by callers.
	ProjectID     int64
	CategoryID    int64
	SubcategoryID int64

	// Classification
	TypeID     int64
	UnitTypeID int64

	// Descriptive
	Name        string
	Description string
	Observation string

	// Scheduling. InitialDueDate is set once at creation; CurrentDueDate
	// drives recurrence; ReferencePeriod is the period the value refers to
	// (zero Date = unset).
	InitialDueDate  Date
	CurrentDueDate  Date
	ReferencePeriod Date
	Recurrence      Recurrence

	// Values
	PresentedValue  decimal.NullDecimal
	CalculatedValue decimal.NullDecimal

	// Flags
	Mandatory   bool
	Visible     bool
	HasDocument bool
}

// CloneForOccurrence copies the descriptive and classification fields of a
// base record into a fresh occurrence. Schedule fields are left for the
// caller to fill; the value fields start empty.
func (r Record) CloneForOccurrence() Record {
	return Record{
		BaseID:          r.ID,
		ProjectID:       r.ProjectID,
		CategoryID:      r.CategoryID,
		SubcategoryID:   r.SubcategoryID,
		TypeID:          r.TypeID,
		UnitTypeID:      r.UnitTypeID,
		Name:            r.Name,
		Description:     r.Description,
		InitialDueDate:  r.InitialDueDate,
		ReferencePeriod: r.ReferencePeriod,
		Recurrence:      r.Recurrence,
		Mandatory:       r.Mandatory,
		Visible:         true,
	}
}

// =============================================================================
// FIELD PATCH - the editable column subset
// =============================================================================

// FieldPatch carries the bulk-editable fields for one record. Applying a
// patch writes every field below, empty values included: a zero Date or an
// invalid NullDecimal clears the stored column to null. Writing all columns
// every time is what makes re-applying the same patch idempotent.
type FieldPatch struct {
	Observation     string
	CurrentDueDate  Date
	ReferencePeriod Date
	PresentedValue  decimal.NullDecimal
	Mandatory       bool
}

// =============================================================================
// FILTER
// =============================================================================

// Filter narrows List queries. Zero-valued fields match everything.
type Filter struct {
	ProjectID     int64
	CategoryID    int64
	SubcategoryID int64
	TypeID        int64
	VisibleOnly   bool

	// EmptyReferencePeriod selects only records whose reference period is
	// unset; used by the auto-fill workflow.
	EmptyReferencePeriod bool
}

// Matches reports whether rec passes the filter. Store implementations that
// push filtering into SQL must agree with this in-memory definition.
func (f Filter) Matches(rec Record) bool {
	if f.ProjectID != 0 && rec.ProjectID != f.ProjectID {
		return false
	}
	if f.CategoryID != 0 && rec.CategoryID != f.CategoryID {
		return false
	}
	if f.SubcategoryID != 0 && rec.SubcategoryID != f.SubcategoryID {
		return false
	}
	if f.TypeID != 0 && rec.TypeID != f.TypeID {
		return false
	}
	if f.VisibleOnly && !rec.Visible {
		return false
	}
	if f.EmptyReferencePeriod && !rec.ReferencePeriod.IsZero() {
		return false
	}
	return true
}
