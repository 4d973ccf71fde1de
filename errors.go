// Package fmrbcore provides the runtime core: process/slot lifecycle,
// per-pool memory allocation, the inter-process message bus, and the
// framed link to an out-of-core graphics host.
package fmrbcore

import "github.com/family-mruby/fmrbcore/internal/coreerr"

// Code is the universal error taxonomy shared across every component
// (spec.md §7). There is no Ok member: success is a nil error.
type Code = coreerr.Code

const (
	CodeInvalidParam = coreerr.CodeInvalidParam
	CodeInvalidState = coreerr.CodeInvalidState
	CodeNotFound     = coreerr.CodeNotFound
	CodeNoMemory     = coreerr.CodeNoMemory
	CodeTimeout      = coreerr.CodeTimeout
	CodeBusy         = coreerr.CodeBusy
	CodeChecksum     = coreerr.CodeChecksum
	CodeFailed       = coreerr.CodeFailed
)

// Error is a structured error with context, used across every public
// operation of the runtime.
type Error = coreerr.Error

// NewError creates a structured error with no slot context.
func NewError(op string, code Code, detail string) *Error {
	return coreerr.New(op, code, detail)
}

// NewSlotError creates a structured error scoped to a process slot.
func NewSlotError(op string, slot int32, code Code, detail string) *Error {
	return coreerr.NewSlot(op, slot, code, detail)
}

// WrapError wraps an existing error with operation context, preserving
// the inner error's code and slot if it is already a structured error.
func WrapError(op string, err error) *Error {
	return coreerr.Wrap(op, err)
}

// IsCode reports whether err is a structured *Error carrying code.
func IsCode(err error, code Code) bool {
	return coreerr.IsCode(err, code)
}
