// Package errs defines the closed error taxonomy used across the bridge.
//
// Errors that cross a component boundary are *Error values carrying one
// of the Kind values below plus an optional cause, so recovery points can
// branch with Is instead of matching on strings. The exception is
// matrixapi.HTTPClient's response-decode failure, which carries no Kind.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed taxonomy of the error classes the bridge distinguishes.
type Kind int

const (
	// Unknown is the zero value; never constructed directly.
	Unknown Kind = iota

	// Startup-only, fatal.
	ReadFileError
	ReadConfigError
	InvalidYAML

	// Identity parse failures.
	InvalidUserID
	InvalidRoomID

	// Wire format failures.
	InvalidJSON

	// Rocket.Chat admission rejections.
	MissingRocketchatToken
	InvalidRocketchatToken

	// Store faults.
	NotFound
	UniqueViolation
	BackendError

	// Upstream HTTP faults.
	MatrixAPIError
	RocketchatAPIError

	// Catch-all for the webhook surface.
	InternalServerError
)

func (k Kind) String() string {
	switch k {
	case ReadFileError:
		return "ReadFileError"
	case ReadConfigError:
		return "ReadConfigError"
	case InvalidYAML:
		return "InvalidYAML"
	case InvalidUserID:
		return "InvalidUserID"
	case InvalidRoomID:
		return "InvalidRoomID"
	case InvalidJSON:
		return "InvalidJSON"
	case MissingRocketchatToken:
		return "MissingRocketchatToken"
	case InvalidRocketchatToken:
		return "InvalidRocketchatToken"
	case NotFound:
		return "NotFound"
	case UniqueViolation:
		return "UniqueViolation"
	case BackendError:
		return "BackendError"
	case MatrixAPIError:
		return "MatrixAPIError"
	case RocketchatAPIError:
		return "RocketchatAPIError"
	case InternalServerError:
		return "InternalServerError"
	default:
		return "Unknown"
	}
}

// Error is a tagged error variant: a Kind, a human-readable message, and an
// optional nested cause. Wrap stores the cause via errors.WithStack from
// github.com/pkg/errors, so formatting Cause with %+v prints the stack
// recorded where it was wrapped. Error has no Format method: %+v on the
// Error itself prints only its Error() text.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As (stdlib and pkg/errors) to see through
// the Error to its cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches context to a cause, tagging it with kind. If cause is nil,
// Wrap returns a nil *Error; stored in an error interface that value
// compares non-nil, so call sites check the cause first:
//
//	if err := store.Insert(ctx, room); err != nil {
//	    return errs.Wrap(errs.BackendError, err, "insert room")
//	}
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	if cause == nil {
		return nil
	}
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind of err, or Unknown if err is not a tagged Error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return Unknown
	}
	return e.Kind
}
