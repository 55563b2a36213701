package models

import (
	"strings"
	"time"

	"example.com/backstage/services/calendar/internal/errs"
)

// DateLayout is the ISO date form used for cluster dates and cache keys
const DateLayout = "2006-01-02"

// instantLayouts are tried in order by ParseInstant after the plain date form
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// DateOf returns the civil date of t as seen in loc. Dates are carried as UTC midnight.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO date (YYYY-MM-DD)
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errs.Validationf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// FormatDate renders a civil date as YYYY-MM-DD
func FormatDate(d time.Time) string {
	return d.UTC().Format(DateLayout)
}

// DayStart is local midnight of the civil date in loc
func DayStart(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayBounds returns [start, end) of the civil date in loc. The end is the next local
// midnight, so DST days are 23 or 25 hours long.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	return DayStart(date, loc), DayStart(date.AddDate(0, 0, 1), loc)
}

// ParseInstant accepts either a plain date, which maps to local midnight in loc, or an
// ISO-8601 timestamp. Timestamps without an offset are read in loc.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return d, nil
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.Validationf("invalid timestamp %q, expected ISO-8601", s)
}
