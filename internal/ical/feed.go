// Package ical renders calendar occurrences as an RFC 5545 feed
package ical

import (
	"strconv"
	"time"

	"example.com/backstage/services/calendar/internal/models"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

const productID = "-//backstage//calendar//EN"

// uidNamespace scopes the name-based UIDs of feed entries
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:backstage:calendar"))

// Render serializes occurrences into a VCALENDAR. Each occurrence becomes its own VEVENT;
// the UID is derived from the seed key and the instance start so it stays stable across
// renders. stamp is written as DTSTAMP.
func Render(name string, occ []models.OccurrenceDTO, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, o := range occ {
		ev := cal.AddEvent(UID(o))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(o.Start.UTC())
		ev.SetEndAt(o.End.UTC())
		ev.SetSummary(o.Title)
		if o.Description != "" {
			ev.SetDescription(o.Description)
		}
		if o.VenueName != nil {
			ev.SetLocation(*o.VenueName)
		}
		if o.URL != nil {
			ev.SetURL(*o.URL)
		}
	}

	return cal.Serialize()
}

// UID identifies one occurrence in a feed
func UID(o models.OccurrenceDTO) string {
	name := o.ClusterDate + ":" + strconv.FormatInt(o.ID, 10) + "@" + o.Start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}
