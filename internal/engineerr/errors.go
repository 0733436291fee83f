// Package engineerr defines the engine's error taxonomy as sentinel-wrapped
// kinds, not concrete types, so callers can use errors.Is across package
// boundaries without importing concrete error structs.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy members from the engine's error design.
type Kind int

const (
	KindValidation Kind = iota
	KindAuth
	KindConflict
	KindNotFound
	KindBusy
	KindLog
	KindNetSemantic
	KindExceptionHandler
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindAuth:
		return "AuthError"
	case KindConflict:
		return "ConflictError"
	case KindNotFound:
		return "NotFoundError"
	case KindBusy:
		return "BusyError"
	case KindLog:
		return "LogError"
	case KindNetSemantic:
		return "NetSemanticError"
	case KindExceptionHandler:
		return "ExceptionHandlerError"
	default:
		return "UnknownError"
	}
}

// Sentinel errors usable with errors.Is against any Error's Unwrap chain.
var (
	ErrValidation        = errors.New("validation error")
	ErrAuth              = errors.New("auth error")
	ErrConflict          = errors.New("conflict error")
	ErrNotFound          = errors.New("not found")
	ErrBusy              = errors.New("busy")
	ErrLog               = errors.New("log error")
	ErrNetSemantic       = errors.New("net semantic error")
	ErrExceptionHandler  = errors.New("exception handler error")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuth:
		return ErrAuth
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	case KindBusy:
		return ErrBusy
	case KindLog:
		return ErrLog
	case KindNetSemantic:
		return ErrNetSemantic
	case KindExceptionHandler:
		return ErrExceptionHandler
	default:
		return errors.New("unknown error")
	}
}

// Error is the engine's concrete error type. Diagnostics carries structured
// detail (e.g. per-field validation failures); it may be nil.
type Error struct {
	Kind        Kind
	Message     string
	Diagnostics []Diagnostic
	cause       error
}

// Diagnostic is one structured validation/failure detail.
type Diagnostic struct {
	Severity string `json:"severity"` // "fatal" | "warning"
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return sentinelFor(e.Kind)
}

// Is reports whether target is the sentinel for this error's Kind, so
// errors.Is(err, engineerr.ErrBusy) works without unwrapping further.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Validation(message string, diags ...Diagnostic) *Error {
	return &Error{Kind: KindValidation, Message: message, Diagnostics: diags}
}

func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", what, id)}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Busy(message string) *Error {
	return &Error{Kind: KindBusy, Message: message}
}

func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func LogFailure(cause error) *Error {
	return &Error{Kind: KindLog, Message: "event log append could not be confirmed durable", cause: cause}
}

func NetSemantic(message string) *Error {
	return &Error{Kind: KindNetSemantic, Message: message}
}

func ExceptionHandler(message string) *Error {
	return &Error{Kind: KindExceptionHandler, Message: message}
}

// Of extracts the *Error from an arbitrary error chain, if present.
func Of(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
