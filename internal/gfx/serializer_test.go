package gfx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-mruby/fmrbcore/internal/bus"
	"github.com/family-mruby/fmrbcore/internal/constants"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

func newTestSerializer(t *testing.T) (*Serializer, *bus.Bus) {
	t.Helper()
	exec := rtos.NewGoExecutive()
	b := bus.New(exec, nil)
	require.NoError(t, b.CreateQueue(constants.PIDRendererProxy, bus.DefaultConfig()))

	// No real link round-trips are exercised by these tests; nil transport
	// is fine because only CreateCanvas touches it.
	s := New(1, constants.PIDRendererProxy, b, nil, nil, false)
	return s, b
}

func TestHeadlessSerializerRejectsGraphicsCalls(t *testing.T) {
	exec := rtos.NewGoExecutive()
	b := bus.New(exec, nil)
	require.NoError(t, b.CreateQueue(constants.PIDRendererProxy, bus.DefaultConfig()))

	s := New(1, constants.PIDRendererProxy, b, nil, nil, true)
	assert.Error(t, s.DrawPixel(0, 0, 1))
	assert.Error(t, s.Clear())
	_, err := s.CreateCanvas(10, 10)
	assert.Error(t, err)
}

func TestDrawPixelOutsideClipIsSilentlyDropped(t *testing.T) {
	s, b := newTestSerializer(t)
	s.SetClip(&Rect{X: 10, Y: 10, W: 5, H: 5})

	require.NoError(t, s.DrawPixel(0, 0, 3))
	_, err := b.Receive(constants.PIDRendererProxy, 10*time.Millisecond)
	assert.Error(t, err, "out-of-clip pixel must not reach the bus")
}

func TestDrawPixelInsideClipIsForwarded(t *testing.T) {
	s, b := newTestSerializer(t)
	s.SetClip(&Rect{X: 0, Y: 0, W: 100, H: 100})

	require.NoError(t, s.DrawPixel(5, 5, 7))
	msg, err := b.Receive(constants.PIDRendererProxy, 10*time.Millisecond)
	require.NoError(t, err)

	cmd, err := Decode(msg.Bytes())
	require.NoError(t, err)
	assert.Equal(t, KindDrawPixel, cmd.Kind)
	assert.Equal(t, int32(5), cmd.X)
}

func TestDeleteCanvasResetsCurrentTargetIfMatched(t *testing.T) {
	s, b := newTestSerializer(t)
	require.NoError(t, s.SetTarget(9))
	assert.Equal(t, uint16(9), s.CurrentTarget())

	_, _ = b.Receive(constants.PIDRendererProxy, 10*time.Millisecond) // drain set_target

	require.NoError(t, s.DeleteCanvas(9))
	assert.Equal(t, ScreenCanvasID, s.CurrentTarget())
}

func TestDrawStringTruncatesLongText(t *testing.T) {
	s, b := newTestSerializer(t)
	s.maxTextBytes = 4

	require.NoError(t, s.DrawString(0, 0, 1, "hello world"))
	msg, err := b.Receive(constants.PIDRendererProxy, 10*time.Millisecond)
	require.NoError(t, err)

	cmd, err := Decode(msg.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "hell", cmd.Text)
}
