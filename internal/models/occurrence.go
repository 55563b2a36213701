package models

import (
	"sort"
	"time"
)

// Occurrence is one concrete instance of an event. It is produced per query and never
// stored; only its DTO form is cached.
type Occurrence struct {
	Seed  *Event
	Start time.Time
	End   time.Time
}

// Key is the key of the seed event
func (o Occurrence) Key() EventKey {
	return o.Seed.Key()
}

// OccurrenceDTO is the wire and cache form of an occurrence
type OccurrenceDTO struct {
	ID              int64     `json:"id"`
	ClusterDate     string    `json:"clusterDate"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Description     string    `json:"description"`
	VenueName       *string   `json:"venueName"`
	IsVirtual       bool      `json:"isVirtual"`
	IsHybrid        bool      `json:"isHybrid"`
	URL             *string   `json:"url"`
	IsRecurring     bool      `json:"isRecurring"`
	RecurrenceRule  *string   `json:"recurrenceRule"`
	RecurrenceUntil *string   `json:"recurrenceUntil"`
	Color           string    `json:"color,omitempty"`
	BackgroundColor string    `json:"backgroundColor,omitempty"`
}

// DTO converts the occurrence. Colors are only carried for range views.
func (o Occurrence) DTO(withColors bool) OccurrenceDTO {
	e := o.Seed
	dto := OccurrenceDTO{
		ID:             e.ID,
		ClusterDate:    FormatDate(e.ClusterDate),
		Title:          e.Title,
		Start:          o.Start,
		End:            o.End,
		Description:    e.Description,
		IsVirtual:      e.IsVirtual,
		IsHybrid:       e.IsHybrid,
		URL:            e.URL,
		IsRecurring:    e.HasRule(),
		RecurrenceRule: e.RecurrenceRule,
	}
	if e.Venue != nil {
		name := e.Venue.Name
		dto.VenueName = &name
	}
	if e.RecurrenceUntil != nil {
		until := FormatDate(*e.RecurrenceUntil)
		dto.RecurrenceUntil = &until
	}
	if withColors {
		dto.Color = e.Color
		dto.BackgroundColor = e.BackgroundColor
	}
	return dto
}

// EventDTO converts a stored event using its own start and end
func EventDTO(e *Event) OccurrenceDTO {
	return Occurrence{Seed: e, Start: e.Start, End: e.End}.DTO(false)
}

// SortOccurrences orders by start, then by the seed key
func SortOccurrences(occ []Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		if !occ[i].Start.Equal(occ[j].Start) {
			return occ[i].Start.Before(occ[j].Start)
		}
		return CompareKeys(occ[i].Key(), occ[j].Key()) < 0
	})
}

// ToDTOs converts a sorted occurrence list
func ToDTOs(occ []Occurrence, withColors bool) []OccurrenceDTO {
	out := make([]OccurrenceDTO, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.DTO(withColors))
	}
	return out
}
