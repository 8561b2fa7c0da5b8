// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for the hipiol engine.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeCapacityExceeded
	ErrCodeAlreadySet
	ErrCodeNotReady
	ErrCodeAlreadyStarted
	ErrCodeConfigFrozen
	ErrCodeAlreadyReceiving
	ErrCodeNotSupported
	ErrCodeClosed
	ErrCodeStaleController
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid argument"
	case ErrCodeCapacityExceeded:
		return "capacity exceeded"
	case ErrCodeAlreadySet:
		return "already set"
	case ErrCodeNotReady:
		return "not ready"
	case ErrCodeAlreadyStarted:
		return "already started"
	case ErrCodeConfigFrozen:
		return "configuration frozen"
	case ErrCodeAlreadyReceiving:
		return "already receiving"
	case ErrCodeNotSupported:
		return "not supported"
	case ErrCodeClosed:
		return "closed"
	case ErrCodeStaleController:
		return "stale controller"
	default:
		return "internal"
	}
}

// Common errors used across the library. Compare with errors.Is; contextual
// copies produced by WithContext still match their sentinel.
var (
	ErrInvalidArgument  = NewError(ErrCodeInvalidArgument, "invalid argument")
	ErrCapacityExceeded = NewError(ErrCodeCapacityExceeded, "capacity exceeded")
	ErrAlreadySet       = NewError(ErrCodeAlreadySet, "handlers already set")
	ErrNotReady         = NewError(ErrCodeNotReady, "handlers not set")
	ErrAlreadyStarted   = NewError(ErrCodeAlreadyStarted, "listening already started")
	ErrConfigFrozen     = NewError(ErrCodeConfigFrozen, "configuration is frozen")
	ErrAlreadyReceiving = NewError(ErrCodeAlreadyReceiving, "receive already outstanding")
	ErrNotSupported     = NewError(ErrCodeNotSupported, "operation not supported")
	ErrClosed           = NewError(ErrCodeClosed, "pool is closed")
	ErrStaleController  = NewError(ErrCodeStaleController, "controller used outside its callback")
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is reports whether target carries the same error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithContext returns a copy of the error with an added context entry.
// Sentinels are shared, so they are never mutated in place.
func (e *Error) WithContext(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Error{Code: e.Code, Message: e.Message, Context: ctx}
}

// CodeOf extracts the ErrorCode carried by err, or ErrCodeInternal.
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
