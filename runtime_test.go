package fmrbcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-mruby/fmrbcore/internal/bus"
	"github.com/family-mruby/fmrbcore/internal/link"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

// fakeRendererSide wraps a second link.Transport over the FakeLinkDriver's
// peer end, simulating the external renderer host that answers
// synchronous requests (spec.md §4.7 "create_canvas issues a synchronous
// link request").
func newFakeRendererSide(t *testing.T, driver link.Driver, exec rtos.Executive) *link.Transport {
	t.Helper()
	tr := link.New(driver, exec, link.DefaultConfig())
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tr.Process()
			}
		}
	}()
	return tr
}

func TestSpawnAppAndBusRoundTrip(t *testing.T) {
	core, rendererSide := NewFakeLinkPair()
	exec := rtos.NewGoExecutive()
	_ = newFakeRendererSide(t, rendererSide, exec)

	rt, err := New(Options{Driver: core})
	require.NoError(t, err)
	defer rt.Shutdown()

	id, err := rt.Spawner.SpawnApp("default/shell")
	require.NoError(t, err)

	require.NoError(t, rt.Bus.Send(uint8(id.SlotIndex), bus.NewMessage(bus.MsgAppControl, 0, []byte("hello")), 0))
	msg, err := rt.Bus.Receive(uint8(id.SlotIndex), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Bytes()))
}

func TestCreateCanvasRoundTripsThroughLinkTransport(t *testing.T) {
	core, rendererSide := NewFakeLinkPair()
	exec := rtos.NewGoExecutive()
	renderer := newFakeRendererSide(t, rendererSide, exec)
	renderer.RegisterCallback(link.CmdCreateCanvas, func(seq uint8, payload []byte) ([]byte, uint8) {
		return []byte{0x07, 0x00}, 0 // canvas_id = 7
	})

	rt, err := New(Options{Driver: core})
	require.NoError(t, err)
	defer rt.Shutdown()

	id, err := rt.Spawner.SpawnApp("system/gui_app")
	require.NoError(t, err)

	ser := rt.NewSerializer(uint8(id.SlotIndex), false)
	canvasID, err := ser.CreateCanvas(128, 64)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), canvasID)
}

func TestKillFreesSlotForReuse(t *testing.T) {
	core, rendererSide := NewFakeLinkPair()
	exec := rtos.NewGoExecutive()
	_ = newFakeRendererSide(t, rendererSide, exec)

	rt, err := New(Options{Driver: core})
	require.NoError(t, err)
	defer rt.Shutdown()

	id, err := rt.Spawner.SpawnApp("default/shell")
	require.NoError(t, err)

	ok, err := rt.Proc.Kill(id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rt.Proc.GetByID(id)
	assert.Error(t, err, "killed process id must not resolve")
}
