// Package apperr implements the error taxonomy from the design's error
// handling section: every public operation returns a result with an error
// field carrying a stable code and the offending resource, never a bare Go
// error or a stack trace, so the RPC glue can serialize it without leaking
// implementation names.
package apperr

import "fmt"

// Code is a closed enumeration of stable, user-visible error codes.
type Code string

const (
	// Input errors: reported immediately, never retried by the core.
	PathInvalid        Code = "PATH_INVALID"
	AlreadyInitialized Code = "ALREADY_INITIALIZED"
	UnknownProject     Code = "UNKNOWN_PROJECT"
	UnknownFile        Code = "UNKNOWN_FILE"
	UnknownSeed        Code = "UNKNOWN_SEED"
	ConflictingOptions Code = "CONFLICTING_OPTIONS"

	// Environment errors: retried with capped backoff where the design
	// covers it, otherwise surfaced as-is.
	StoreUnreachable    Code = "STORE_UNREACHABLE"
	EmbedderUnreachable Code = "EMBEDDER_UNREACHABLE"
	DiskFull            Code = "DISK_FULL"

	// Data errors: recovered locally where recovery is defined.
	ParseFailed       Code = "PARSE_FAILED"
	RecordCorrupt     Code = "RECORD_CORRUPT"

	// Cancellation is distinguished from failure; re-invocation is safe.
	Canceled Code = "CANCELED"

	Internal Code = "INTERNAL"
)

// Error is the typed error every Tool API operation returns.
type Error struct {
	Code    Code
	Message string
	// Context names the offending resource (a path, a project id, a node
	// id) — never an internal type name or stack trace.
	Context string
	cause   error
}

func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(code Code, context, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Context: context}
}

// Wrap attaches a stable code and resource context to an underlying error
// without leaking its message structure to callers beyond the Message field.
func Wrap(code Code, context string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Context: context, cause: err}
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
