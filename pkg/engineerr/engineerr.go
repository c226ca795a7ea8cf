// Package engineerr implements the error taxonomy the engine uses to
// report failures: user misuse, external-subsystem failure, and catalog
// invariant violations, each rendered to the CLI layer with an exit
// code and an optional actionable hint.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUser is a misuse error: bad namespace, duplicate name,
	// not-found, cross-project parent/target, deleting a primary, etc.
	KindUser Kind = iota
	// KindSystem is an external-subsystem failure: missing storage
	// pool, absent runtime daemon, mount failure, health-check
	// timeout, lock unobtainable.
	KindSystem
	// KindInvariant is a catalog validation failure ("state
	// corrupted"); surfaced as a system error, never auto-repaired.
	KindInvariant
)

// ExitCode returns the process exit code for this kind: 0 is never
// produced by an Error (success has no Error), 1 for user errors, 2 for
// system errors and invariant violations.
func (k Kind) ExitCode() int {
	switch k {
	case KindUser:
		return 1
	default:
		return 2
	}
}

// Error is the engine's structured failure type.
type Error struct {
	Kind     Kind
	Headline string
	Hint     string // optional action suggestion, e.g. "is the runtime daemon running?"
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Headline, e.Cause)
	}
	return e.Headline
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// User builds a user-misuse error.
func User(headline string, cause error) *Error {
	return &Error{Kind: KindUser, Headline: headline, Cause: cause}
}

// UserHint builds a user-misuse error with an action suggestion.
func UserHint(headline, hint string, cause error) *Error {
	return &Error{Kind: KindUser, Headline: headline, Hint: hint, Cause: cause}
}

// System builds an external-subsystem-failure error.
func System(headline string, cause error) *Error {
	return &Error{Kind: KindSystem, Headline: headline, Cause: cause}
}

// SystemHint builds an external-subsystem-failure error with an action
// suggestion.
func SystemHint(headline, hint string, cause error) *Error {
	return &Error{Kind: KindSystem, Headline: headline, Hint: hint, Cause: cause}
}

// Invariant builds a catalog invariant-violation error.
func Invariant(headline string, cause error) *Error {
	return &Error{
		Kind:     KindInvariant,
		Headline: "state corrupted: " + headline,
		Hint:     "the catalog failed validation; do not attempt automatic repair",
		Cause:    cause,
	}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// defaulting to KindSystem for unrecognized errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// Render formats err for display on the CLI: one-line headline, then
// an optional hint, then (only in debug mode) the wrapped cause chain.
func Render(err error, debug bool) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	out := e.Headline
	if e.Hint != "" {
		out += "\nhint: " + e.Hint
	}
	if debug && e.Cause != nil {
		out += fmt.Sprintf("\ncause: %v", e.Cause)
	}
	return out
}
