// Package recurrence parses the supported RFC 5545 rule subset and expands seed events
// into concrete occurrences inside a query window.
package recurrence

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"example.com/backstage/services/calendar/internal/errs"

	"github.com/teambition/rrule-go"
)

var byDayPattern = regexp.MustCompile(`^([+-]?\d{1,2})?(MO|TU|WE|TH|FR|SA|SU)$`)

var weekdays = map[string]rrule.Weekday{
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
	"SU": rrule.SU,
}

var untilLayouts = []string{
	"20060102T150405Z",
	"20060102T150405",
	"20060102",
	"2006-01-02",
}

// Rule is a parsed recurrence rule: FREQ=DAILY|WEEKLY|MONTHLY with optional INTERVAL,
// COUNT or UNTIL, and BYDAY.
type Rule struct {
	Freq     rrule.Frequency
	Interval int
	Count    int
	Until    time.Time
	ByDay    []rrule.Weekday

	source string
	// floating is set when UNTIL carries no zone. Its wall time is then read in the
	// calendar timezone when the rule is built.
	floating bool
}

// ParseRule parses and validates a rule string. A leading "RRULE:" is accepted.
// Any grammar violation is an ErrValidation.
func ParseRule(s string) (*Rule, error) {
	src := strings.TrimSpace(s)
	body := src
	if len(body) >= 6 && strings.EqualFold(body[:6], "RRULE:") {
		body = body[6:]
	}
	if body == "" {
		return nil, errs.Validationf("empty recurrence rule")
	}

	r := &Rule{Interval: 1, source: src}
	seen := make(map[string]bool)
	hasFreq := false

	for _, part := range strings.Split(body, ";") {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ToUpper(strings.TrimSpace(value))
		if !ok || key == "" || value == "" {
			return nil, errs.Validationf("malformed rule part %q in %q", part, src)
		}
		if seen[key] {
			return nil, errs.Validationf("duplicate %s in rule %q", key, src)
		}
		seen[key] = true

		switch key {
		case "FREQ":
			switch value {
			case "DAILY":
				r.Freq = rrule.DAILY
			case "WEEKLY":
				r.Freq = rrule.WEEKLY
			case "MONTHLY":
				r.Freq = rrule.MONTHLY
			default:
				return nil, errs.Validationf("unsupported FREQ %q, expected DAILY, WEEKLY or MONTHLY", value)
			}
			hasFreq = true
		case "INTERVAL":
			n, err := positiveInt(key, value)
			if err != nil {
				return nil, err
			}
			r.Interval = n
		case "COUNT":
			n, err := positiveInt(key, value)
			if err != nil {
				return nil, err
			}
			r.Count = n
		case "UNTIL":
			until, floating, err := parseUntil(value)
			if err != nil {
				return nil, err
			}
			r.Until = until
			r.floating = floating
		case "BYDAY":
			days, err := parseByDay(value)
			if err != nil {
				return nil, err
			}
			r.ByDay = days
		default:
			return nil, errs.Validationf("unsupported rule part %s in %q", key, src)
		}
	}

	if !hasFreq {
		return nil, errs.Validationf("rule %q has no FREQ", src)
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return nil, errs.Validationf("rule %q sets both COUNT and UNTIL", src)
	}
	if r.Freq != rrule.MONTHLY {
		for _, d := range r.ByDay {
			if d.N() != 0 {
				return nil, errs.Validationf("BYDAY ordinals are only allowed with FREQ=MONTHLY in %q", src)
			}
		}
	}

	return r, nil
}

// String returns the rule as it was given
func (r *Rule) String() string {
	return r.source
}

// UntilDate is the civil date of UNTIL, if the rule has one
func (r *Rule) UntilDate() (time.Time, bool) {
	if r.Until.IsZero() {
		return time.Time{}, false
	}
	y, m, d := r.Until.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
}

// build returns the rrule iterator anchored at dtstart. A floating UNTIL is pinned to loc.
func (r *Rule) build(dtstart time.Time, loc *time.Location) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:      r.Freq,
		Dtstart:   dtstart,
		Interval:  r.Interval,
		Count:     r.Count,
		Byweekday: r.ByDay,
	}
	if !r.Until.IsZero() {
		opt.Until = r.Until
		if r.floating && loc != nil {
			y, m, d := r.Until.Date()
			h, mi, sec := r.Until.Clock()
			opt.Until = time.Date(y, m, d, h, mi, sec, 0, loc)
		}
	}
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, errs.Validationf("rule %q: %v", r.source, err)
	}
	return rr, nil
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, errs.Validationf("%s must be a positive integer, got %q", key, value)
	}
	return n, nil
}

// parseUntil reports floating for every form without a trailing Z
func parseUntil(value string) (time.Time, bool, error) {
	for _, layout := range untilLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			if len(value) == 8 || len(value) == 10 {
				// a bare date includes the whole day
				t = t.Add(24*time.Hour - time.Second)
			}
			return t, !strings.HasSuffix(value, "Z"), nil
		}
	}
	return time.Time{}, false, errs.Validationf("invalid UNTIL %q", value)
}

func parseByDay(value string) ([]rrule.Weekday, error) {
	parts := strings.Split(value, ",")
	days := make([]rrule.Weekday, 0, len(parts))
	for _, p := range parts {
		m := byDayPattern.FindStringSubmatch(strings.TrimSpace(p))
		if m == nil {
			return nil, errs.Validationf("invalid BYDAY entry %q", p)
		}
		day := weekdays[m[2]]
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil || n == 0 || n < -5 || n > 5 {
				return nil, errs.Validationf("invalid BYDAY ordinal %q", p)
			}
			day = day.Nth(n)
		}
		days = append(days, day)
	}
	return days, nil
}
