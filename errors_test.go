package fmrbcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError(t *testing.T) {
	err := NewError("spawn", CodeInvalidParam, "stack size out of range")

	assert.Equal(t, "spawn", err.Op)
	assert.Equal(t, CodeInvalidParam, err.Code)
	assert.Equal(t, "fmrbcore: stack size out of range (op=spawn)", err.Error())
}

func TestSlotError(t *testing.T) {
	err := NewSlotError("kill", 2, CodeInvalidState, "slot already zombie")

	assert.EqualValues(t, 2, err.Slot)
	assert.Equal(t, "fmrbcore: slot already zombie (op=kill)", err.Error())
}

func TestWrapError(t *testing.T) {
	inner := NewSlotError("malloc", 3, CodeNoMemory, "pool exhausted")
	wrapped := WrapError("spawn", inner)

	assert.Equal(t, CodeNoMemory, wrapped.Code)
	assert.EqualValues(t, 3, wrapped.Slot)
	assert.True(t, errors.Is(wrapped, &Error{Code: CodeNoMemory}))
}

func TestWrapPlainError(t *testing.T) {
	wrapped := WrapError("send", errors.New("boom"))

	assert.Equal(t, CodeFailed, wrapped.Code)
	assert.Equal(t, "boom", wrapped.Detail)
}

func TestWrapNilError(t *testing.T) {
	assert.Nil(t, WrapError("send", nil))
}

func TestIsCode(t *testing.T) {
	err := NewError("receive", CodeTimeout, "no message within deadline")

	assert.True(t, IsCode(err, CodeTimeout))
	assert.False(t, IsCode(err, CodeBusy))
	assert.False(t, IsCode(nil, CodeTimeout))
	assert.False(t, IsCode(errors.New("plain"), CodeTimeout))
}

func TestErrorWithoutSlotOmitsSlotField(t *testing.T) {
	err := NewError("ps", CodeFailed, "snapshot failed")
	assert.Equal(t, "fmrbcore: snapshot failed (op=ps)", err.Error())
}
