package models

import (
	"strconv"
	"strings"
	"time"

	"example.com/backstage/services/calendar/internal/errs"

	"gorm.io/gorm"
)

// Venue is the place an event happens. Venue management lives outside this service;
// only the name is read for responses.
type Venue struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Name string `gorm:"not null" json:"name"`
}

// TableName overrides the table name
func (Venue) TableName() string {
	return "venues"
}

// Event is a stored calendar entry. It is either a singular event or the seed of a
// recurring series. (ClusterDate, ID) is the primary key and ClusterDate always equals
// the civil date of Start in the calendar timezone.
type Event struct {
	ClusterDate     time.Time  `gorm:"primaryKey;type:date;autoIncrement:false" json:"clusterDate"`
	ID              int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Title           string     `gorm:"not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description"`
	Start           time.Time  `gorm:"not null;index" json:"start"`
	End             time.Time  `gorm:"not null" json:"end"`
	RecurrenceRule  *string    `gorm:"column:rrule" json:"recurrenceRule"`
	RecurrenceUntil *time.Time `gorm:"column:recurrence_until;type:date" json:"recurrenceUntil"`
	IsRecurring     bool       `gorm:"not null;default:false;index" json:"isRecurring"`
	VenueID         *int64     `json:"venueId"`
	Venue           *Venue     `gorm:"foreignKey:VenueID" json:"venue,omitempty"`
	Color           string     `json:"color"`
	BackgroundColor string     `json:"backgroundColor"`
	IsVirtual       bool       `gorm:"not null;default:false" json:"isVirtual"`
	IsHybrid        bool       `gorm:"not null;default:false" json:"isHybrid"`
	URL             *string    `json:"url"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// TableName overrides the table name
func (Event) TableName() string {
	return "events"
}

// BeforeSave keeps IsRecurring derived from the rule
func (e *Event) BeforeSave(tx *gorm.DB) error {
	e.IsRecurring = e.HasRule()
	return nil
}

// HasRule reports whether the event carries a recurrence rule
func (e *Event) HasRule() bool {
	return e.RecurrenceRule != nil && strings.TrimSpace(*e.RecurrenceRule) != ""
}

// Key returns the composite primary key
func (e *Event) Key() EventKey {
	return EventKey{ClusterDate: e.ClusterDate, ID: e.ID}
}

// Duration is end minus start of the seed
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// CheckInvariants verifies the structural rules every stored event must satisfy
func (e *Event) CheckInvariants(loc *time.Location) error {
	if !e.End.After(e.Start) {
		return errs.Validationf("event end %s must be after start %s", e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	if want := DateOf(e.Start, loc); !e.ClusterDate.Equal(want) {
		return errs.Validationf("cluster date %s does not match start date %s", FormatDate(e.ClusterDate), FormatDate(want))
	}
	if e.IsRecurring && !e.HasRule() {
		return errs.Validationf("recurring event %s has no recurrence rule", e.Key())
	}
	if e.RecurrenceUntil != nil && e.RecurrenceUntil.Before(e.ClusterDate) {
		return errs.Validationf("recurrence until %s is before the first occurrence", FormatDate(*e.RecurrenceUntil))
	}
	return nil
}

// EventKey identifies an event. IDs are only unique within a cluster date.
type EventKey struct {
	ClusterDate time.Time
	ID          int64
}

// String renders the key as YYYY-MM-DD:id
func (k EventKey) String() string {
	return FormatDate(k.ClusterDate) + ":" + strconv.FormatInt(k.ID, 10)
}

// MarshalText implements encoding.TextMarshaler
func (k EventKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *EventKey) UnmarshalText(text []byte) error {
	parsed, err := ParseEventKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseEventKey parses the YYYY-MM-DD:id form
func ParseEventKey(s string) (EventKey, error) {
	date, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return EventKey{}, errs.Validationf("invalid event key %q", s)
	}
	d, err := ParseDate(date)
	if err != nil {
		return EventKey{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 1 {
		return EventKey{}, errs.Validationf("invalid event id in key %q", s)
	}
	return EventKey{ClusterDate: d, ID: n}, nil
}

// CompareKeys orders keys by cluster date, then id
func CompareKeys(a, b EventKey) int {
	if c := a.ClusterDate.Compare(b.ClusterDate); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
