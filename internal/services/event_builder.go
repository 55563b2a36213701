package services

import (
	"strings"

	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/models"
	"example.com/backstage/services/calendar/internal/recurrence"
)

// buildEvent validates input and turns it into an unsaved event. The id is left for the
// allocator. A recurring event without an end of its own is bounded by the default
// horizon unless the rule counts its occurrences.
func (s *CalendarService) buildEvent(in models.EventInput) (*models.Event, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}

	ev := &models.Event{
		ClusterDate:     models.DateOf(in.Start, s.loc),
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		Start:           in.Start.UTC(),
		End:             in.End.UTC(),
		VenueID:         in.VenueID,
		Color:           in.Color,
		BackgroundColor: in.BackgroundColor,
		IsVirtual:       in.IsVirtual,
		IsHybrid:        in.IsHybrid,
	}
	if in.URL != "" {
		url := in.URL
		ev.URL = &url
	}

	rule := strings.TrimSpace(in.RecurrenceRule)
	if rule == "" {
		if in.RecurrenceUntil != "" {
			return nil, errs.Validationf("recurrenceUntil requires a recurrence rule")
		}
	} else {
		parsed, err := recurrence.ParseRule(rule)
		if err != nil {
			return nil, err
		}
		ev.RecurrenceRule = &rule

		if in.RecurrenceUntil != "" {
			until, err := models.ParseDate(in.RecurrenceUntil)
			if err != nil {
				return nil, err
			}
			ev.RecurrenceUntil = &until
		} else if until, ok := parsed.UntilDate(); ok {
			ev.RecurrenceUntil = &until
		} else if parsed.Count == 0 && s.horizon > 0 {
			until := models.DateOf(in.Start.Add(s.horizon), s.loc)
			ev.RecurrenceUntil = &until
		}
	}
	ev.IsRecurring = ev.HasRule()

	if err := ev.CheckInvariants(s.loc); err != nil {
		return nil, err
	}
	return ev, nil
}
