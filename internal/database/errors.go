package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"

	"example.com/backstage/services/calendar/internal/errs"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// postgres SQLSTATEs for transactions aborted by lock or snapshot contention
const (
	sqlStateSerialization = "40001"
	sqlStateDeadlock      = "40P01"
)

// sqlStateError is satisfied by the pgx driver error behind gorm's postgres dialector
type sqlStateError interface {
	SQLState() string
}

// TranslateError maps driver and gorm errors onto the calendar error taxonomy.
// Errors that already carry a taxonomy sentinel pass through unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{errs.ErrValidation, errs.ErrNotFound, errs.ErrConflict, errs.ErrStoreUnavailable} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrap(errs.ErrNotFound, err.Error())
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrap(errs.ErrConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone):
		return errs.StoreUnavailable(err, "store call failed")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.StoreUnavailable(err, "store unreachable")
	}

	var stateErr sqlStateError
	if errors.As(err, &stateErr) {
		switch stateErr.SQLState() {
		case sqlStateDeadlock, sqlStateSerialization:
			return errors.Wrap(errs.ErrConflict, err.Error())
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && (liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked) {
		return errs.StoreUnavailable(err, "sqlite database is locked")
	}

	return err
}
