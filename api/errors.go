// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for sortbench.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the module.
var (
	ErrAlreadyRunning   = errors.New("engine already running")
	ErrNotRunning       = errors.New("not running")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum allowed size")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the module.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeInternal
	// ErrCodeBind: the listening socket could not be created.
	ErrCodeBind
	// ErrCodeMalformedPayload: a frame body did not parse.
	ErrCodeMalformedPayload
	// ErrCodeConnectionIO: peer closed or socket error on one connection.
	ErrCodeConnectionIO
	// ErrCodeShutdown: a resource failed to release during shutdown.
	ErrCodeShutdown
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:               "ok",
	ErrCodeInvalidArgument:  "invalid_argument",
	ErrCodeNotSupported:     "not_supported",
	ErrCodeInternal:         "internal",
	ErrCodeBind:             "bind",
	ErrCodeMalformedPayload: "malformed_payload",
	ErrCodeConnectionIO:     "connection_io",
	ErrCodeShutdown:         "shutdown",
}

// String returns the short name of the code.
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Err = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the ErrorCode carried by err, or ErrCodeInternal when err
// is not an *Error. A nil error yields ErrCodeOK.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
