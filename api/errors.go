// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for wsdial library.

package api

import "fmt"

// Common errors used across the library.
var (
	// ErrWantRead and ErrWantWrite report that a non-blocking operation
	// cannot progress until the socket becomes readable or writable.
	// They are outcomes, not failures.
	ErrWantRead  = fmt.Errorf("operation wants socket readability")
	ErrWantWrite = fmt.Errorf("operation wants socket writability")

	ErrTransportClosed   = fmt.Errorf("transport is closed")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrResourceExhausted = fmt.Errorf("resource exhausted")
	ErrNotSupported      = fmt.Errorf("operation not supported")
)

// ErrorCode classifies a failure for callers that branch on class
// rather than cause.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeTransport
	ErrCodeProtocolViolation
	ErrCodeTLSFatal
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeInvalidArgument
	ErrCodeInternal
)

// Error carries a failure class, a message and the wrapped cause, plus
// free-form context for logs and traces.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a structured error around a cause.
func WrapError(code ErrorCode, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
