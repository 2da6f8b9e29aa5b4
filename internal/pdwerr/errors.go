// Package pdwerr defines the closed error-kind taxonomy shared by every
// component of the memory engine, mirroring the teacher's habit of wrapping
// sentinel conditions in a single small type rather than scattering
// ad hoc fmt.Errorf strings (see core/access_control.go, core/cross_chain.go).
package pdwerr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error kinds from spec §7. No other values exist.
type Kind string

const (
	InvalidInput Kind = "InvalidInput"
	Unauthorized Kind = "Unauthorized"
	Expired      Kind = "Expired"
	NotFound     Kind = "NotFound"
	Conflict     Kind = "Conflict"
	RateLimited  Kind = "RateLimited"
	Unavailable  Kind = "Unavailable"
	Tampered     Kind = "Tampered"
	Canceled     Kind = "Canceled"
	Internal     Kind = "Internal"
)

// Error wraps an underlying cause with a Kind and a correlation id so that
// Internal errors can be logged without leaking details to the caller
// (spec §7: "Internal is logged with a correlation id and surfaced without
// leaking internals").
type Error struct {
	Kind    Kind
	Op      string
	CorrID  string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a *Error of the given kind.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Message: msg}
}

// Wrap attaches a Kind to an existing error, preserving it for errors.Unwrap.
func Wrap(op string, kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Message: cause.Error(), cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not carry one (an un-annotated error escaping a component is a bug, but
// callers should never see a panic for it).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// Retryable reports whether the propagation policy in spec §7 allows an
// automatic retry for this kind (RateLimited, Unavailable) independent of
// the CAS-specific Conflict retry performed by batch/registry callers.
func Retryable(k Kind) bool {
	return k == RateLimited || k == Unavailable
}

// Terminal reports whether the kind must never be retried per §7.
func Terminal(k Kind) bool {
	switch k {
	case InvalidInput, Unauthorized, Expired, Tampered:
		return true
	default:
		return false
	}
}
