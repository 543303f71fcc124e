// Package apperr defines the error taxonomy shared by the bridge and the
// two managers.
//
// Every failure surfaced to a control-plane caller carries exactly one
// kind. Validation, not-found and conflict errors are returned as-is;
// bridge timeouts mean "outcome unknown, re-query before retrying";
// execution errors mean the platform rejected the work; external store
// errors are logged by the managers and never returned as an operation
// failure.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrBridgeTimedOut = errors.New("bridge timed out")
	ErrExecution      = errors.New("execution failed")
	ErrExternalStore  = errors.New("external store unavailable")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrConflict,
	ErrBridgeTimedOut,
	ErrExecution,
	ErrExternalStore,
}

// Error is a classified failure. Kind is one of the sentinels above; Err
// is the optional underlying cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation reports malformed input.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// Invalid classifies a validation failure err (usually a model sentinel)
// so errors.Is matches both ErrValidation and err.
func Invalid(op string, err error) error {
	return &Error{Kind: ErrValidation, Op: op, Err: err}
}

// NotFound reports an absent subject, resource or record.
func NotFound(what, id string) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf("%s %q", what, id)}
}

// Conflict reports a duplicate active record or an operation on a
// terminal state.
func Conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Msg: fmt.Sprintf(format, args...)}
}

// TimedOut reports that the caller stopped waiting for op after d. The
// operation itself may still complete.
func TimedOut(op string, d time.Duration) error {
	return &Error{
		Kind: ErrBridgeTimedOut,
		Op:   op,
		Msg:  fmt.Sprintf("no result after %s, outcome unknown", d),
	}
}

// Execution wraps a platform-side failure of a bridged operation.
func Execution(op string, err error) error {
	return &Error{Kind: ErrExecution, Op: op, Err: err}
}

// ExternalStore wraps a ledger failure.
func ExternalStore(op string, err error) error {
	return &Error{Kind: ErrExternalStore, Op: op, Err: err}
}

// KindOf returns the taxonomy kind carried by err, or nil if err is
// unclassified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Classified reports whether err already carries a taxonomy kind.
func Classified(err error) bool {
	return KindOf(err) != nil
}
