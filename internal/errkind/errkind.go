// Package errkind classifies pipeline failures so callers can decide whether an
// error is contained to one record, one row, or fatal to the process.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the category of a pipeline error.
type Kind int

const (
	// Unknown is returned for errors that carry no classification.
	Unknown Kind = iota
	// TransientIO covers network failures and timeouts talking to the extractor,
	// a bulk source, or the store. The item stays eligible for a later run.
	TransientIO
	// DataError covers malformed rows, values and payloads. The item is skipped.
	DataError
	// IntegrityViolation means the store rejected a write that breaks a uniqueness
	// invariant. Fatal to the single operation only.
	IntegrityViolation
	// ConfigError covers missing or invalid weights, keywords and settings.
	// Fatal at startup.
	ConfigError
)

// String returns the log label for the kind.
func (k Kind) String() string {
	switch k {
	case TransientIO:
		return "transient_io"
	case DataError:
		return "data_error"
	case IntegrityViolation:
		return "integrity_violation"
	case ConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err as kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New returns a classified error with a plain message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Of returns the kind of err. Explicitly classified errors win; otherwise
// context deadlines and network errors are reported as TransientIO.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientIO
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return TransientIO
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
