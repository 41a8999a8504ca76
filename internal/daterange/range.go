// Package daterange models the calendar-date range applied to the portal
// result tables and drives the two-date picker that applies it.
package daterange

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/dgnsrekt/portal_export/internal/failure"
)

// CanonicalPattern matches a fully applied range, e.g. "03/07/2025 - 03/08/2025".
var CanonicalPattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4} - \d{2}/\d{2}/\d{4}$`)

// Range is an ordered pair of calendar dates. Times are truncated to the
// date in their own location.
type Range struct {
	Start time.Time
	End   time.Time
}

// New validates and builds a range. Spans wider than two adjacent calendar
// months are rejected: the picker only ever advances one month.
func New(start, end time.Time) (Range, error) {
	r := Range{Start: dateOf(start), End: dateOf(end)}
	if r.End.Before(r.Start) {
		return Range{}, failure.Newf(failure.CodeValidation, "range end %s is before start %s", formatDate(r.End), formatDate(r.Start))
	}
	if r.MonthSteps() > 1 {
		return Range{}, failure.Newf(failure.CodeValidation, "range %s spans more than two adjacent months", r)
	}
	return r, nil
}

// TodayToTomorrow returns [today, today+1] for now observed in loc.
func TodayToTomorrow(now time.Time, loc *time.Location) Range {
	today := dateOf(now.In(loc))
	return Range{Start: today, End: today.AddDate(0, 0, 1)}
}

// MonthSteps is the number of "next month" moves between the start and
// end dates.
func (r Range) MonthSteps() int {
	return monthIndex(r.End) - monthIndex(r.Start)
}

// Format renders the canonical "MM/DD/YYYY - MM/DD/YYYY" form.
func (r Range) Format() string {
	return formatDate(r.Start) + " - " + formatDate(r.End)
}

func (r Range) String() string { return r.Format() }

// IsCanonical reports whether s looks like a fully applied range.
func IsCanonical(s string) bool {
	return CanonicalPattern.MatchString(s)
}

// LoadLocation resolves the portal time zone, falling back to a fixed UTC-5
// offset when the tz database is unavailable.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = "America/Lima"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("time zone unavailable, using UTC-5", "zone", name, "error", err)
		return time.FixedZone("UTC-5", -5*60*60)
	}
	return loc
}

func formatDate(t time.Time) string {
	return fmt.Sprintf("%02d/%02d/%04d", int(t.Month()), t.Day(), t.Year())
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func monthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}
