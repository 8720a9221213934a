// Package errdefs classifies errors so callers can decide whether an
// operation is retryable, caller-caused, or needs operator attention.
package errdefs

import (
	"errors"
	"fmt"
)

// Category describes how an error should be handled upstream.
type Category int

const (
	// Configuration errors are fatal and need operator action (missing
	// admin credential, missing connection profile).
	Configuration Category = iota
	// Validation errors are caller-caused and not retryable.
	Validation
	// Transient errors are infrastructure failures; a retry is safe.
	Transient
	// Conflict errors mean another actor got there first; resolved by
	// re-reading authoritative state, never propagated to callers.
	Conflict
	// Consistency errors report a divergence between expected and
	// ledger-confirmed state; surfaced for visibility, not auto-corrected.
	Consistency
)

func (c Category) String() string {
	switch c {
	case Configuration:
		return "configuration"
	case Validation:
		return "validation"
	case Transient:
		return "transient"
	case Conflict:
		return "conflict"
	case Consistency:
		return "consistency"
	}
	return "unknown"
}

type categorized struct {
	category Category
	msg      string
	cause    error
}

func (e *categorized) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *categorized) Unwrap() error { return e.cause }

// New creates an error of the given category.
func New(c Category, format string, args ...interface{}) error {
	return &categorized{category: c, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category and context to an existing error. The cause stays
// reachable through errors.Is/errors.As.
func Wrap(c Category, err error, format string, args ...interface{}) error {
	return &categorized{category: c, msg: fmt.Sprintf(format, args...), cause: err}
}

// CategoryOf returns the category of err and whether err carries one.
func CategoryOf(err error) (Category, bool) {
	var ce *categorized
	if errors.As(err, &ce) {
		return ce.category, true
	}
	return 0, false
}

func is(err error, c Category) bool {
	got, ok := CategoryOf(err)
	return ok && got == c
}

func IsConfiguration(err error) bool { return is(err, Configuration) }
func IsValidation(err error) bool    { return is(err, Validation) }
func IsTransient(err error) bool     { return is(err, Transient) }
func IsConflict(err error) bool      { return is(err, Conflict) }
func IsConsistency(err error) bool   { return is(err, Consistency) }
