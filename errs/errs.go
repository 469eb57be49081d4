// Package errs defines the error taxonomy shared by the secure store, its
// biometric gates and its storage backends. Backends translate native error
// codes into a Kind at their boundary; everything above passes *Error values
// through unchanged.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	InvalidArgument            Kind = "invalid_argument"
	AuthenticationFailed       Kind = "authentication_failed"
	AuthenticationCancelled    Kind = "authentication_cancelled"
	AuthenticationLockedOut    Kind = "authentication_locked_out"
	AuthenticationNotAvailable Kind = "authentication_not_available"
	NoBiometricEnrolled        Kind = "no_biometric_enrolled"
	EntryInvalidated           Kind = "entry_invalidated"
	HardwareBackingUnavailable Kind = "hardware_backing_unavailable"
	PlatformStorageError       Kind = "platform_storage_error"
	PlatformProbeError         Kind = "platform_probe_error"

	// Unknown is reported by KindOf for errors outside the taxonomy.
	Unknown Kind = "unknown"
)

// Kinds lists every kind of the taxonomy.
var Kinds = []Kind{
	InvalidArgument,
	AuthenticationFailed,
	AuthenticationCancelled,
	AuthenticationLockedOut,
	AuthenticationNotAvailable,
	NoBiometricEnrolled,
	EntryInvalidated,
	HardwareBackingUnavailable,
	PlatformStorageError,
	PlatformProbeError,
}

func (k Kind) String() string { return string(k) }

// Retryable reports whether repeating the operation can succeed without a
// change of device state. Repeating a prompt still needs fresh user intent;
// the store never retries on its own.
func (k Kind) Retryable() bool {
	switch k {
	case AuthenticationFailed, AuthenticationCancelled, PlatformStorageError, PlatformProbeError:
		return true
	}
	return false
}

// Error is the error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err,
// errs.New(errs.EntryInvalidated, "")) works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. An err that already carries a kind keeps it.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind carried by err, Unknown when it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
