package recurrence

import (
	"time"

	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/rs/zerolog/log"
)

const defaultMaxOccurrences = 5000

// Expander turns seed events into occurrences inside a window. It holds only
// configuration, so one instance is shared by all requests.
type Expander struct {
	loc            *time.Location
	maxOccurrences int
}

// NewExpander creates an expander. loc is the calendar timezone: recurring series are
// stepped in local wall time and recurrenceUntil ends at local midnight after that date.
func NewExpander(loc *time.Location, maxOccurrences int) *Expander {
	if loc == nil {
		loc = time.UTC
	}
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurrences
	}
	return &Expander{loc: loc, maxOccurrences: maxOccurrences}
}

// Location is the calendar timezone used for expansion
func (x *Expander) Location() *time.Location {
	return x.loc
}

// Expand returns the occurrences of seed whose start lies in [windowStart, windowEnd),
// sorted by start. A seed without a rule yields itself when its start is in the window.
func (x *Expander) Expand(seed *models.Event, windowStart, windowEnd time.Time) ([]models.Occurrence, error) {
	if !windowEnd.After(windowStart) {
		return nil, errs.Validationf("window end %s must be after start %s",
			windowEnd.Format(time.RFC3339), windowStart.Format(time.RFC3339))
	}
	if !seed.End.After(seed.Start) {
		return nil, errs.Validationf("event %s ends before it starts", seed.Key())
	}

	if !seed.HasRule() {
		if seed.IsRecurring {
			return nil, errs.Validationf("recurring event %s has no recurrence rule", seed.Key())
		}
		if inWindow(seed.Start, windowStart, windowEnd) {
			return []models.Occurrence{{Seed: seed, Start: seed.Start, End: seed.End}}, nil
		}
		return nil, nil
	}

	rule, err := ParseRule(*seed.RecurrenceRule)
	if err != nil {
		return nil, err
	}

	end := windowEnd
	if seed.RecurrenceUntil != nil {
		if untilEnd := models.DayStart(seed.RecurrenceUntil.AddDate(0, 0, 1), x.loc); untilEnd.Before(end) {
			end = untilEnd
		}
	}
	if !end.After(windowStart) {
		return nil, nil
	}

	rr, err := rule.build(seed.Start.In(x.loc), x.loc)
	if err != nil {
		return nil, err
	}

	duration := seed.Duration()
	starts := rr.Between(windowStart, end, true)

	out := make([]models.Occurrence, 0, len(starts))
	for _, s := range starts {
		if !inWindow(s, windowStart, end) {
			continue
		}
		if len(out) == x.maxOccurrences {
			log.Warn().
				Str("event", seed.Key().String()).
				Int("cap", x.maxOccurrences).
				Time("window_start", windowStart).
				Time("window_end", windowEnd).
				Msg("Occurrence cap reached, truncating expansion")
			break
		}
		out = append(out, models.Occurrence{Seed: seed, Start: s, End: s.Add(duration)})
	}

	return out, nil
}

// ExpandAll expands every seed over the same window and merges the results in order
func (x *Expander) ExpandAll(seeds []*models.Event, windowStart, windowEnd time.Time) ([]models.Occurrence, error) {
	var out []models.Occurrence
	for _, seed := range seeds {
		occ, err := x.Expand(seed, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, occ...)
	}
	models.SortOccurrences(out)
	return out, nil
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
