package link

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

// loopDriver wires two transports' outbound frames directly into each
// other's inbound queue, simulating an in-memory link with optional
// corruption/drop injection for fault tests.
type loopDriver struct {
	mu      sync.Mutex
	inbox   [][]byte
	peer    *loopDriver
	corrupt func([]byte) []byte
	drop    bool
}

func newLoopPair() (*loopDriver, *loopDriver) {
	a := &loopDriver{}
	b := &loopDriver{}
	a.peer = b
	b.peer = a
	return a, b
}

func (d *loopDriver) Write(frame []byte) error {
	if d.drop {
		d.drop = false
		return nil
	}
	out := frame
	if d.corrupt != nil {
		out = d.corrupt(append([]byte(nil), frame...))
		d.corrupt = nil
	}
	d.peer.mu.Lock()
	d.peer.inbox = append(d.peer.inbox, out)
	d.peer.mu.Unlock()
	return nil
}

func (d *loopDriver) Recv() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inbox) == 0 {
		return nil, false
	}
	f := d.inbox[0]
	d.inbox = d.inbox[1:]
	return f, true
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("hello graphics")
	frame, err := EncodeFrame(TypeGraphics, 7, payload)
	require.NoError(t, err)

	decoded := frame[:len(frame)-1] // strip 0x00 terminator
	df, err := DecodeFrame(decoded)
	require.NoError(t, err)
	assert.Equal(t, TypeGraphics, df.Type)
	assert.Equal(t, uint8(7), df.Seq)
	assert.Equal(t, payload, df.Payload)
}

func TestFrameCorruptionYieldsChecksumError(t *testing.T) {
	frame, err := EncodeFrame(TypeControl, 1, []byte("abc"))
	require.NoError(t, err)
	body := frame[:len(frame)-1]
	body[len(body)-2] ^= 0xFF // flip a byte inside the COBS-encoded CRC region

	_, err = DecodeFrame(body)
	require.Error(t, err)
	assert.True(t, coreerr.IsCode(err, coreerr.CodeChecksum))
}

func TestCOBSEncodingContainsNoZeroBytes(t *testing.T) {
	data := []byte{0, 1, 0, 0, 5, 6, 0, 9, 0, 0, 0, 255}
	enc := Encode(data)
	for _, b := range enc {
		assert.NotEqual(t, byte(0), b)
	}
	assert.Equal(t, data, Decode(enc))
}

func newTransportPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	da, db := newLoopPair()
	exec := rtos.NewGoExecutive()
	cfg := DefaultConfig()
	cfg.TimeoutMs = 200
	ta := New(da, exec, cfg)
	tb := New(db, exec, cfg)
	return ta, tb
}

func TestSendSyncRoundTrip(t *testing.T) {
	client, server := newTransportPair(t)

	server.RegisterCallback(0x10, func(seq uint8, payload []byte) ([]byte, uint8) {
		return nil, 0
	})

	stop := make(chan struct{})
	go pumpUntil(server, stop)
	go pumpUntil(client, stop)
	defer close(stop)

	resp := make([]byte, 16)
	status, n, err := client.SendSync(TypeControl, 0x10, []byte("ping"), resp, time.Second)
	require.NoError(t, err)
	assert.Equal(t, coreerr.Code(""), status)
	assert.Equal(t, 0, n)
}

func pumpUntil(tr *Transport, stop chan struct{}) {
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
}

func TestSendSyncTimesOutWhenNoResponder(t *testing.T) {
	client, _ := newTransportPair(t)
	stop := make(chan struct{})
	go pumpUntil(client, stop)
	defer close(stop)

	resp := make([]byte, 4)
	_, _, err := client.SendSync(TypeControl, 0x99, nil, resp, 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, coreerr.IsCode(err, coreerr.CodeTimeout))
}

func TestSendSyncBusyWhenSlotsExhausted(t *testing.T) {
	client, _ := newTransportPair(t)
	resp := make([]byte, 4)

	var wg sync.WaitGroup
	for i := 0; i < maxSyncRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = client.SendSync(TypeControl, 0x99, nil, resp, 100*time.Millisecond)
		}()
	}
	time.Sleep(5 * time.Millisecond)

	_, _, err := client.SendSync(TypeControl, 0x99, nil, resp, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, coreerr.IsCode(err, coreerr.CodeBusy))

	wg.Wait()
}

func TestSendSyncCreateCanvasReturnsAssignedID(t *testing.T) {
	client, server := newTransportPair(t)
	server.RegisterCallback(CmdCreateCanvas, func(seq uint8, payload []byte) ([]byte, uint8) {
		return []byte{0x05, 0x00}, 0 // canvas_id = 5, LE u16 (spec.md S3)
	})

	stop := make(chan struct{})
	go pumpUntil(server, stop)
	go pumpUntil(client, stop)
	defer close(stop)

	resp := make([]byte, 2)
	status, n, err := client.SendSync(TypeGraphics, CmdCreateCanvas, []byte{128, 0, 64, 0}, resp, time.Second)
	require.NoError(t, err)
	assert.Equal(t, coreerr.Code(""), status)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x05, 0x00}, resp)
}

func TestSendSyncSetsACKRequiredFlagOnWire(t *testing.T) {
	client, server := newTransportPair(t)
	server.RegisterCallback(0x10, func(seq uint8, payload []byte) ([]byte, uint8) { return nil, 0 })

	stop := make(chan struct{})
	go pumpUntil(server, stop)
	go pumpUntil(client, stop)
	defer close(stop)

	clientDriver := client.driver.(*loopDriver)
	var capturedType uint8
	var mu sync.Mutex

	clientDriver.corrupt = func(f []byte) []byte {
		decoded := Decode(f[:len(f)-1])
		if len(decoded) > 0 {
			mu.Lock()
			capturedType = decoded[0]
			mu.Unlock()
		}
		return f
	}

	resp := make([]byte, 4)
	_, _, err := client.SendSync(TypeControl, 0x10, []byte("ping"), resp, time.Second)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, TypeControl|FlagACKRequired, capturedType, "send_sync must OR FlagACKRequired onto the wire type byte")
}

func TestAckFrameUsesReservedAckType(t *testing.T) {
	client, server := newTransportPair(t)
	server.RegisterCallback(0x10, func(seq uint8, payload []byte) ([]byte, uint8) { return nil, 0 })

	stop := make(chan struct{})
	go pumpUntil(server, stop)
	defer close(stop)

	require.NoError(t, client.Send(TypeControl, 0x10, []byte("ping")))

	var frame []byte
	require.Eventually(t, func() bool {
		f, ok := client.driver.(*loopDriver).Recv()
		if ok {
			frame = f
			return true
		}
		return false
	}, time.Second, 2*time.Millisecond)

	decoded := Decode(frame[:len(frame)-1])
	require.NotNil(t, decoded)
	hdr, err := unmarshalHeader(decoded)
	require.NoError(t, err)
	assert.Equal(t, TypeAck, hdr.Type)
}

func TestChunkedFrameIsDroppedNotDispatched(t *testing.T) {
	client, server := newTransportPair(t)
	dispatched := false
	server.RegisterCallback(0x10, func(seq uint8, payload []byte) ([]byte, uint8) {
		dispatched = true
		return nil, 0
	})

	env, err := EncodeEnvelope(Envelope{Type: TypeGraphics | FlagChunked, Seq: 1, SubCmd: 0x10, Payload: []byte("x")})
	require.NoError(t, err)
	frame, err := EncodeFrame(TypeGraphics|FlagChunked, 1, env)
	require.NoError(t, err)

	clientDriver := client.driver.(*loopDriver)
	clientDriver.peer.mu.Lock()
	clientDriver.peer.inbox = append(clientDriver.peer.inbox, frame[:len(frame)-1])
	clientDriver.peer.mu.Unlock()

	server.Process()
	assert.False(t, dispatched, "a chunked frame must be dropped, not dispatched to the sub_cmd callback")
}

func TestCorruptedFrameDiscardedNextFrameSurvives(t *testing.T) {
	client, server := newTransportPair(t)
	server.RegisterCallback(0x20, func(seq uint8, payload []byte) ([]byte, uint8) { return nil, 0 })

	stop := make(chan struct{})
	go pumpUntil(server, stop)
	go pumpUntil(client, stop)
	defer close(stop)

	// First send gets corrupted on the wire.
	clientDriver := client.driver.(*loopDriver)
	clientDriver.corrupt = func(f []byte) []byte {
		if len(f) > 2 {
			f[1] ^= 0xFF
		}
		return f
	}
	_ = client.Send(TypeControl, 0x20, []byte("lost"))

	resp := make([]byte, 4)
	_, _, err := client.SendSync(TypeControl, 0x20, []byte("survives"), resp, 500*time.Millisecond)
	assert.NoError(t, err)
}
