// Package errs declares the error taxonomy shared by the calendar packages.
// Callers classify with errors.Is against the sentinels below.
package errs

import (
	"github.com/pkg/errors"
)

var (
	// ErrValidation covers malformed recurrence rules, inverted windows and bad input
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when an event key does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is an identifier collision during allocation
	ErrConflict = errors.New("conflict")
	// ErrIndexUnavailable means the search index is missing, corrupt or unreachable
	ErrIndexUnavailable = errors.New("search index unavailable")
	// ErrStoreUnavailable means the pool is exhausted or the store is unreachable
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Validationf wraps ErrValidation with a formatted message
func Validationf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// NotFoundf wraps ErrNotFound with a formatted message
func NotFoundf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// IndexUnavailable wraps a search backend failure so it classifies as ErrIndexUnavailable
// while keeping the cause in the message.
func IndexUnavailable(cause error, msg string) error {
	if cause == nil {
		return errors.Wrap(ErrIndexUnavailable, msg)
	}
	return errors.Wrapf(ErrIndexUnavailable, "%s: %v", msg, cause)
}

// StoreUnavailable wraps a store failure so it classifies as ErrStoreUnavailable
func StoreUnavailable(cause error, msg string) error {
	if cause == nil {
		return errors.Wrap(ErrStoreUnavailable, msg)
	}
	return errors.Wrapf(ErrStoreUnavailable, "%s: %v", msg, cause)
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a missing event
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is an allocation conflict
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsIndexUnavailable reports whether err came from an unusable search index
func IsIndexUnavailable(err error) bool { return errors.Is(err, ErrIndexUnavailable) }

// IsStoreUnavailable reports whether err came from an unusable store
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }
