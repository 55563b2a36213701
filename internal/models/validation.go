package models

import (
	"strings"
	"time"

	"example.com/backstage/services/calendar/internal/errs"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventInput is the writable part of an event as accepted from callers
type EventInput struct {
	Title           string    `json:"title" validate:"required,max=255"`
	Description     string    `json:"description" validate:"max=10000"`
	Start           time.Time `json:"start" validate:"required"`
	End             time.Time `json:"end" validate:"required,gtfield=Start"`
	RecurrenceRule  string    `json:"recurrenceRule" validate:"max=512"`
	RecurrenceUntil string    `json:"recurrenceUntil" validate:"omitempty,datetime=2006-01-02"`
	VenueID         *int64    `json:"venueId" validate:"omitempty,gt=0"`
	Color           string    `json:"color" validate:"omitempty,iscolor"`
	BackgroundColor string    `json:"backgroundColor" validate:"omitempty,iscolor"`
	IsVirtual       bool      `json:"isVirtual"`
	IsHybrid        bool      `json:"isHybrid"`
	URL             string    `json:"url" validate:"omitempty,url"`
}

// Validate runs struct validation and folds failures into ErrValidation
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Validationf("%v", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fe.Field()+" failed "+fe.Tag()+"="+fe.Param())
			continue
		}
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	return errs.Validationf("%s", strings.Join(msgs, "; "))
}
