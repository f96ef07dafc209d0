package crs

import (
	"errors"
	"fmt"
)

// Error represents a structured CRS error with operation and component
// context.
type Error struct {
	Op        string    // Operation that failed (e.g., "Init", "FlushBuffers")
	Component string    // Subsystem the error originated in ("tlbmanager", "arena", "")
	Code      ErrorCode // High-level error category
	Msg       string    // Human-readable message
	Inner     error     // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("crs: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("crs: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support, matching on error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents a high-level error category.
type ErrorCode string

const (
	// ErrCodeOverflow indicates the arena could not satisfy an allocation
	// because every buffer is leased and uncommitted capacity is
	// exhausted (spec.md §4.4's sticky overflow flag).
	ErrCodeOverflow ErrorCode = "arena overflow"
	// ErrCodeUpstreamCall indicates a host.InvokeUpstream call failed or
	// raised a pending exception (spec.md §7).
	ErrCodeUpstreamCall ErrorCode = "upstream call failed"
	// ErrCodeStartup indicates Engine.Init could not reserve or commit
	// the backing region, or Engine.Engage was called before Init.
	ErrCodeStartup ErrorCode = "startup failed"
	// ErrCodeInvariant indicates an operation the engine refused or could
	// not complete outside the other categories: a Notify* or
	// FlushBuffers call on a disabled engine, or a non-CRS error wrapped
	// by WrapError.
	ErrCodeInvariant ErrorCode = "invariant violation"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewComponentError creates a new structured error scoped to a
// component.
func NewComponentError(op, component string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Component: component, Code: code, Msg: msg}
}

// WrapError wraps an existing error with CRS operation context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ce, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			Component: ce.Component,
			Code:      ce.Code,
			Msg:       ce.Msg,
			Inner:     ce.Inner,
		}
	}
	return &Error{
		Op:    op,
		Code:  ErrCodeInvariant,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
