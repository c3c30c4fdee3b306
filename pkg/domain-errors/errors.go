// Package domainerrors provides coded errors for domain and protocol logic.
//
// Services and the proof protocol return these instead of raw library errors
// so handlers can translate outcomes to HTTP statuses in one place and logs
// never carry secret material. The set of codes is closed: callers switch on
// Code, not on error strings.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure. Codes are display-safe and stable; they
// appear verbatim in API responses and audit entries.
type Code string

const (
	// Generic request handling codes.
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeRateLimited  Code = "rate_limited"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"

	// Proof protocol codes. These form the closed verification taxonomy:
	// every proof rejection maps to exactly one of them.
	CodeInvalidPublicKey       Code = "invalid_public_key"
	CodeInvalidSignatureFormat Code = "invalid_signature_format"
	CodeVerificationFailed     Code = "verification_failed"
	CodeEmptyContext           Code = "empty_context"
	CodeContextTooLarge        Code = "context_too_large"
	CodeUnsupportedAlgorithm   Code = "unsupported_algorithm"
)

// Error is a coded error with optional structured detail. Fields must only
// contain display-safe values: sizes, algorithm names, truncated identifiers.
// Never raw keys, signatures, or plaintext context excerpts.
type Error struct {
	Code    Code
	Message string
	Fields  map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is treat two coded errors with the same code and message as
// equal, regardless of cause or fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. The cause is kept
// for logging but never serialized to API responses.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithField attaches a display-safe structured detail and returns the error
// for chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal
// for uncoded errors.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status returned by the API layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidPublicKey, CodeInvalidSignatureFormat,
		CodeVerificationFailed, CodeEmptyContext, CodeContextTooLarge,
		CodeUnsupportedAlgorithm:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
