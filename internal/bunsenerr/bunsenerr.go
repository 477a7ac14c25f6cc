// Package bunsenerr defines the stable error kinds the engine surfaces to
// callers and the CLI's exit-code mapping for them.
package bunsenerr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the stable category a caller can switch on,
// independent of the wrapped message text.
type Kind int

// Error kinds, matching the engine's error-handling design.
const (
	// KindStoreIO is a disk/backing-store failure; fatal to the current call.
	KindStoreIO Kind = iota
	// KindRefConflict is a compare-and-set ref update that lost a race;
	// surfaced only once internal retries are exhausted.
	KindRefConflict
	// KindParseRejected is a parser result missing required fields with no problems set.
	KindParseRejected
	// KindValidationFailed is a canonical-serialization type/shape error.
	KindValidationFailed
	// KindAmbiguousID is a commit id prefix matching more than one record.
	KindAmbiguousID
	// KindAmbiguousScript is a plug-in name matching more than one script.
	KindAmbiguousScript
	// KindNotFound is an id/month/project that does not exist.
	KindNotFound
	// KindLockHeld is another writer holding bunsen.lock.
	KindLockHeld
	// KindBadConfig is missing or malformed required configuration.
	KindBadConfig
)

// String renders the kind's stable tag name.
func (k Kind) String() string {
	switch k {
	case KindStoreIO:
		return "StoreIO"
	case KindRefConflict:
		return "RefConflict"
	case KindParseRejected:
		return "ParseRejected"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindAmbiguousID:
		return "AmbiguousId"
	case KindAmbiguousScript:
		return "AmbiguousScript"
	case KindNotFound:
		return "NotFound"
	case KindLockHeld:
		return "LockHeld"
	case KindBadConfig:
		return "BadConfig"
	default:
		return "Unknown"
	}
}

// ExitCode maps a kind to the CLI exit code the spec assigns it.
func (k Kind) ExitCode() int {
	switch k {
	case KindRefConflict:
		return 3
	case KindAmbiguousID, KindAmbiguousScript:
		return 4
	case KindParseRejected, KindValidationFailed, KindBadConfig:
		return 2
	case KindStoreIO, KindNotFound, KindLockHeld:
		return 1
	default:
		return 1
	}
}

// Error is a bunsen error carrying a stable Kind plus a human message and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a bunsen error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a bunsen error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, and
// reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}

	return 0, false
}

// ExitCode returns the CLI exit code for err: the Kind-derived code if err
// is a bunsen error, 1 (generic error) otherwise, or 0 if err is nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if kind, ok := KindOf(err); ok {
		return kind.ExitCode()
	}

	return 1
}
