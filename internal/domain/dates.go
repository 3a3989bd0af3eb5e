package domain

import (
	"fmt"
	"strings"
	"time"

	"opsledger/backend/internal/apperror"
)

const (
	DateLayout       = "2006-01-02"
	MonthLabelLayout = "January 2006"
	// TallyLabelLayout labels the monthly sales tally records.
	TallyLabelLayout = "Jan 2006"
)

// ParseDate parses a stored YYYY-MM-DD date at midnight in loc.
// ok is false for anything else; callers skip such records.
func ParseDate(value string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MonthKey is the monthlyProfit key, e.g. "2024-3".
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%d-%d", year, int(month))
}

func MonthLabel(year int, month time.Month) string {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format(MonthLabelLayout)
}

// ParseMonthLabel resolves a display label such as "March 2024".
func ParseMonthLabel(label string) (int, time.Month, error) {
	t, err := time.Parse(MonthLabelLayout, strings.TrimSpace(label))
	if err != nil {
		return 0, 0, apperror.Parse("parse month label", "%q does not match %q", label, MonthLabelLayout)
	}
	return t.Year(), t.Month(), nil
}

// MonthBounds returns the first and the last day of the month, both at
// midnight in loc. The range is inclusive.
func MonthBounds(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := time.Date(year, month+1, 0, 0, 0, 0, 0, loc)
	return start, end
}

func Within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
