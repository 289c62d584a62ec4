package indicator

// =============================================================================
// SCHEDULE CALCULATOR - Pure date arithmetic, no I/O
// =============================================================================

// Advance returns base moved forward by interval units. The unit must be
// one of Day, Month or Year and the interval at least 1; anything else is
// rejected rather than silently ignored. Month and year steps roll over
// the way the calendar does (Jan 31 + 1 month lands in early March).
func Advance(base Date, unit RecurrenceUnit, interval int) (Date, error) {
	if interval < 1 {
		return Date{}, ErrInvalidInterval
	}
	switch unit {
	case UnitDay:
		return base.AddDays(interval), nil
	case UnitMonth:
		return base.AddMonths(interval), nil
	case UnitYear:
		return base.AddYears(interval), nil
	default:
		return Date{}, ErrInvalidRecurrenceUnit
	}
}

// ReferencePeriod derives the period a value refers to: the due date moved
// one recurrence step backwards. It is the exact inverse of Advance, so
// ReferencePeriod(Advance(d, u, i), u, i) == d for every valid input.
//
// The second return is false when no reference period applies: missing due
// date, no recurrence, or a non-positive interval. Unrecognized units also
// yield false here rather than an error; unlike Advance, this function is
// called opportunistically over whatever rows a filter produced.
func ReferencePeriod(due Date, unit RecurrenceUnit, interval int) (Date, bool) {
	if due.IsZero() || interval <= 0 {
		return Date{}, false
	}
	switch unit {
	case UnitDay:
		return due.AddDays(-interval), true
	case UnitMonth:
		return due.AddMonths(-interval), true
	case UnitYear:
		return due.AddYears(-interval), true
	default:
		return Date{}, false
	}
}
