// Package coreerr holds the single error taxonomy shared by every internal
// component (spec.md §7, §9 "do not redefine per-module error types"). The
// root package re-exports these as its public error type.
package coreerr

import (
	"errors"
	"fmt"
)

// Code is the universal error taxonomy. There is no Ok member: success is
// a nil error.
type Code string

const (
	CodeInvalidParam Code = "invalid parameter"
	CodeInvalidState Code = "invalid state"
	CodeNotFound     Code = "not found"
	CodeNoMemory     Code = "no memory"
	CodeTimeout      Code = "timeout"
	CodeBusy         Code = "busy"
	CodeChecksum     Code = "checksum"
	CodeFailed       Code = "failed"
)

// Error is a structured error with context, used across every public
// operation of the runtime.
type Error struct {
	Op     string
	Code   Code
	Slot   int32
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Slot >= 0 {
		parts = append(parts, fmt.Sprintf("slot=%d", e.Slot))
	}
	msg := e.Detail
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("fmrbcore: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("fmrbcore: %s", msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a structured error with no slot context.
func New(op string, code Code, detail string) *Error {
	return &Error{Op: op, Code: code, Slot: -1, Detail: detail}
}

// NewSlot creates a structured error scoped to a process slot.
func NewSlot(op string, slot int32, code Code, detail string) *Error {
	return &Error{Op: op, Code: code, Slot: slot, Detail: detail}
}

// Wrap wraps an existing error with operation context, preserving the
// inner error's code and slot if it is already a structured error.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) {
		return &Error{Op: op, Code: inner.Code, Slot: inner.Slot, Detail: inner.Detail, Err: inner.Err}
	}
	return &Error{Op: op, Code: CodeFailed, Slot: -1, Detail: err.Error(), Err: err}
}

// IsCode reports whether err is a structured *Error carrying code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
