package indicator

import (
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// DATE - Calendar date without time-of-day or timezone
// =============================================================================

// Date is a pure calendar date (year, month, day). It carries no clock and
// no location, so two Dates that print the same are the same regardless of
// where they were produced. The zero Date means "no date".
//
// All arithmetic goes through time.Date at UTC and reads the components
// back out, never through a timestamp in a local zone. Shifting a timestamp
// across a DST or UTC-offset boundary can move the calendar day; component
// arithmetic cannot.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// NewDate constructs a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// ParseDate parses a YYYY-MM-DD literal. The literal must match exactly;
// timestamps and locale formats are rejected.
func ParseDate(s string) (Date, error) {
	if !datePattern.MatchString(s) {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf extracts the calendar components of t as observed in t's location.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Today returns the current calendar date in the local zone.
func Today() Date {
	return DateOf(time.Now())
}

func (d Date) IsZero() bool { return d == Date{} }

// normalize pins the components to midnight UTC for arithmetic/comparison.
func (d Date) normalize() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Comparison
func (d Date) Before(other Date) bool { return d.normalize().Before(other.normalize()) }
func (d Date) After(other Date) bool  { return d.normalize().After(other.normalize()) }
func (d Date) Equal(other Date) bool  { return d.normalize().Equal(other.normalize()) }

// Arithmetic. AddDate normalizes overflow the way the calendar does:
// Jan 31 plus one month is Mar 2 or Mar 3, never a clamped Feb day.
func (d Date) AddDays(n int) Date   { return DateOf(d.normalize().AddDate(0, 0, n)) }
func (d Date) AddMonths(n int) Date { return DateOf(d.normalize().AddDate(0, n, 0)) }
func (d Date) AddYears(n int) Date  { return DateOf(d.normalize().AddDate(n, 0, 0)) }

// String formats as YYYY-MM-DD. The zero Date formats as the empty string.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.normalize().Format(dateLayout)
}

// MarshalText / UnmarshalText make Date usable in JSON fields directly.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
