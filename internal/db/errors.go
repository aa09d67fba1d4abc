package db

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/onnwee/genetarget/internal/errkind"
)

// Classify wraps a store error with its errkind category. Constraint
// violations become IntegrityViolation. Everything else is TransientIO: a
// failed statement leaves the item eligible for a later run.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errkind.Of(err) != errkind.Unknown {
		return err
	}
	if IsIntegrityViolation(err) {
		return errkind.Wrap(errkind.IntegrityViolation, op, err)
	}
	return errkind.Wrap(errkind.TransientIO, op, err)
}

// IsIntegrityViolation reports whether err is a constraint violation from
// either supported driver.
func IsIntegrityViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 23: integrity constraint violation.
		return strings.HasPrefix(string(pqErr.Code), "23")
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
