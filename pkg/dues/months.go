package dues

import (
	"fmt"
	"time"
)

const monthKeyLayout = "2006-01"

// ParseMonth parses a YYYY-MM month key into the first day of that month.
func ParseMonth(key string) (time.Time, error) {
	t, err := time.Parse(monthKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month key %q: %w", key, err)
	}
	return t, nil
}

// FormatMonth renders a time as a YYYY-MM month key.
func FormatMonth(t time.Time) string {
	return t.Format(monthKeyLayout)
}

// CurrentMonth returns the month key for the given reference time.
func CurrentMonth(now time.Time) string {
	return FormatMonth(now)
}

// MonthSequence returns count consecutive month keys starting at start,
// rolling over year boundaries.
func MonthSequence(start string, count int) ([]string, error) {
	first, err := ParseMonth(start)
	if err != nil {
		return nil, err
	}
	months := make([]string, 0, count)
	for i := 0; i < count; i++ {
		months = append(months, FormatMonth(first.AddDate(0, i, 0)))
	}
	return months, nil
}

// FirstOfMonth returns the first calendar day of the keyed month.
func FirstOfMonth(key string) (time.Time, error) {
	return ParseMonth(key)
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// IsOverdue reports whether a due date has passed relative to the reference
// date. A record due today is not yet overdue.
func IsOverdue(dueDate, referenceDate time.Time) bool {
	return dueDate.Before(referenceDate) && !sameCalendarDay(dueDate, referenceDate)
}

// DaysLate returns the number of whole days the due date has been missed by,
// or 0 when the record is not overdue.
func DaysLate(dueDate, referenceDate time.Time) int {
	if !IsOverdue(dueDate, referenceDate) {
		return 0
	}
	return int(referenceDate.Sub(dueDate).Hours() / 24)
}
