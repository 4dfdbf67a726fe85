// Package analytics derives read-only views from a snapshot of the ledger.
//
// Every function here is pure: it takes the collections and a reference
// time and recomputes from scratch. Nothing is cached between calls.
package analytics

import (
	"time"

	"budgetbook/internal/core"
)

// Window is a closed [Start, End] time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// MonthStart returns midnight of the first day of t's month, in t's location.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// MonthEnd returns the last instant of t's month.
func MonthEnd(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// YearStart returns midnight of January 1st of t's year.
func YearStart(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

// MonthWindow returns the calendar month offset months away from now's
// month; 0 is the current month, -1 the previous one.
func MonthWindow(now time.Time, offset int) Window {
	// Anchor on the 1st so Mar 31 minus one month does not overflow into March.
	anchor := MonthStart(now).AddDate(0, offset, 0)
	return Window{Start: anchor, End: MonthEnd(anchor)}
}

// TimeRange is a relative selector resolved against a reference time.
type TimeRange string

const (
	ThisMonth       TimeRange = "this-month"
	LastMonth       TimeRange = "last-month"
	LastThreeMonths TimeRange = "last-3-months"
	LastSixMonths   TimeRange = "last-6-months"
)

func TimeRanges() []TimeRange {
	return []TimeRange{ThisMonth, LastMonth, LastThreeMonths, LastSixMonths}
}

// ParseTimeRange accepts the selector names; empty means this month.
func ParseTimeRange(s string) (TimeRange, error) {
	if s == "" {
		return ThisMonth, nil
	}
	for _, r := range TimeRanges() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", core.NewValidationError("range", "unknown time range "+s)
}

// Window resolves r on calendar month boundaries. The multi-month ranges
// start N whole months before the current one and run to the end of the
// current month.
func (r TimeRange) Window(now time.Time) (Window, error) {
	switch r {
	case ThisMonth, "":
		return MonthWindow(now, 0), nil
	case LastMonth:
		return MonthWindow(now, -1), nil
	case LastThreeMonths:
		return Window{Start: MonthWindow(now, -3).Start, End: MonthEnd(now)}, nil
	case LastSixMonths:
		return Window{Start: MonthWindow(now, -6).Start, End: MonthEnd(now)}, nil
	}
	return Window{}, core.NewValidationError("range", "unknown time range "+string(r))
}
