package analytics

import (
	"errors"
	"testing"
	"time"

	"budgetbook/internal/core"
)

func TestMonthWindow(t *testing.T) {
	now := time.Date(2025, time.March, 31, 15, 0, 0, 0, time.UTC)

	cur := MonthWindow(now, 0)
	if !cur.Start.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", cur.Start)
	}
	if !cur.End.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)) {
		t.Fatalf("end = %v", cur.End)
	}

	prev := MonthWindow(now, -1)
	if prev.Start.Month() != time.February || prev.End.Day() != 28 {
		t.Fatalf("previous month = %v..%v", prev.Start, prev.End)
	}

	jan := MonthWindow(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), -1)
	if jan.Start.Year() != 2024 || jan.Start.Month() != time.December {
		t.Fatalf("year rollover = %v", jan.Start)
	}
}

func TestWindowContainsIsInclusive(t *testing.T) {
	w := MonthWindow(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), 0)
	if !w.Contains(w.Start) || !w.Contains(w.End) {
		t.Fatalf("bounds must be inclusive")
	}
	if w.Contains(w.End.Add(time.Nanosecond)) || w.Contains(w.Start.Add(-time.Nanosecond)) {
		t.Fatalf("outside instants must not be contained")
	}
}

func TestTimeRangeWindow(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		r     TimeRange
		start time.Time
		end   time.Time
	}{
		{ThisMonth, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), MonthEnd(now)},
		{LastMonth, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), MonthEnd(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))},
		{LastThreeMonths, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), MonthEnd(now)},
		{LastSixMonths, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), MonthEnd(now)},
	}
	for _, tc := range cases {
		t.Run(string(tc.r), func(t *testing.T) {
			w, err := tc.r.Window(now)
			if err != nil {
				t.Fatal(err)
			}
			if !w.Start.Equal(tc.start) || !w.End.Equal(tc.end) {
				t.Fatalf("got %v..%v want %v..%v", w.Start, w.End, tc.start, tc.end)
			}
		})
	}
}

func TestMonthBoundariesFollowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, loc)
	w := MonthWindow(now, 0)
	if w.Start.Location() != loc || w.Start.Hour() != 0 {
		t.Fatalf("start = %v", w.Start)
	}
	// 23:30 UTC on May 31 is already June 1st in UTC+2.
	if !w.Contains(time.Date(2025, 5, 31, 23, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected instant to fall in June for UTC+2")
	}
}

func TestParseTimeRange(t *testing.T) {
	if r, err := ParseTimeRange(""); err != nil || r != ThisMonth {
		t.Fatalf("empty: %v %v", r, err)
	}
	for _, want := range TimeRanges() {
		got, err := ParseTimeRange(string(want))
		if err != nil || got != want {
			t.Fatalf("%s: got %v %v", want, got, err)
		}
	}
	_, err := ParseTimeRange("last-year")
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
