// Package core holds the ledger domain types and the pure parts of the
// recurring engine: interval arithmetic and record validation.
//
// This file contains the month-interval calculator. Every function here is
// pure and works at day precision.
package core

import (
	"fmt"
	"time"
)

const (
	MinIntervalMonths = 1
	MaxIntervalMonths = 24
)

// NextOccurrence adds intervalMonths whole months to date. When the day of
// date does not exist in the target month the result is that month's last day,
// e.g. 2024-01-31 + 1 month = 2024-02-29.
func NextOccurrence(date Date, intervalMonths int) (Date, error) {
	return NextOccurrenceFrom(date, intervalMonths, date.Day())
}

// NextOccurrenceFrom is NextOccurrence with the month-end clamp measured
// against anchorDay, the day-of-month the schedule started on. Callers that
// advance a stored schedule pass the original day so a clamped February does
// not shorten every later occurrence.
func NextOccurrenceFrom(date Date, intervalMonths, anchorDay int) (Date, error) {
	if err := checkInterval(intervalMonths); err != nil {
		return Date{}, err
	}
	if date.IsZero() {
		return Date{}, fmt.Errorf("next occurrence: %w", ErrMissingDate)
	}
	if anchorDay < 1 || anchorDay > 31 {
		anchorDay = date.Day()
	}
	return addMonthsClamped(date, intervalMonths, anchorDay), nil
}

// FutureOccurrences returns the count occurrences following start. Each one is
// computed from start with the original day-of-month, so
// 2024-01-31 yields 2024-02-29, 2024-03-31, 2024-04-30, ...
func FutureOccurrences(start Date, intervalMonths, count int) ([]Date, error) {
	return FutureOccurrencesFrom(start, intervalMonths, start.Day(), count)
}

// FutureOccurrencesFrom is FutureOccurrences with the month-end clamp measured
// against anchorDay. A schedule anchored on the 31st whose stored date was
// clamped to 2024-02-29 continues 2024-03-31, 2024-04-30, ... An anchorDay
// outside 1..31 falls back to start's day.
func FutureOccurrencesFrom(start Date, intervalMonths, anchorDay, count int) ([]Date, error) {
	if err := checkInterval(intervalMonths); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}
	if start.IsZero() {
		return nil, fmt.Errorf("future occurrences: %w", ErrMissingDate)
	}
	if anchorDay < 1 || anchorDay > 31 {
		anchorDay = start.Day()
	}
	out := make([]Date, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, addMonthsClamped(start, i*intervalMonths, anchorDay))
	}
	return out, nil
}

// IsDue reports whether next is on or before asOf. An empty next date is never due.
func IsDue(next, asOf Date) bool {
	if next.IsZero() {
		return false
	}
	return !DateOf(next.Time).After(DateOf(asOf.Time))
}

// DaysUntil returns the number of calendar days from asOf to next; negative
// when next is in the past.
func DaysUntil(next, asOf Date) int {
	a := DateOf(asOf.Time)
	n := DateOf(next.Time)
	return int(n.Sub(a.Time).Hours() / 24)
}

// DueDescription renders the distance to next in words.
func DueDescription(next, asOf Date) string {
	if next.IsZero() {
		return "No date scheduled"
	}
	days := DaysUntil(next, asOf)
	switch {
	case days < 0:
		return "Overdue by " + plural(-days, "day")
	case days == 0:
		return "Due today"
	case days == 1:
		return "Due tomorrow"
	case days <= 6:
		return fmt.Sprintf("Due in %d days", days)
	case days <= 30:
		return "Due in " + plural((days+3)/7, "week")
	default:
		return "Due in " + plural(days/30, "month")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func checkInterval(months int) error {
	if months < MinIntervalMonths || months > MaxIntervalMonths {
		return &RangeError{Field: "interval_months", Value: months, Min: MinIntervalMonths, Max: MaxIntervalMonths}
	}
	return nil
}

func addMonthsClamped(from Date, months, anchorDay int) Date {
	// Go normalises month overflow, so start from the 1st to avoid spilling
	// into the following month.
	first := time.Date(from.Year(), time.Month(from.Month())+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	day := anchorDay
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewDate(first.Year(), int(first.Month()), day)
}
