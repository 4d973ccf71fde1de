package link

import (
	"bufio"
	"io"
	"sync"
)

// StreamDriver implements Driver atop an arbitrary byte stream (spec.md §1:
// the concrete wire — UART/SPI/USB-serial to the renderer host — is out of
// scope, only the abstract framed contract lives here). A background
// goroutine reads terminator-delimited frames off the stream into a
// buffered channel so Recv, which the transport calls from inside its own
// processing loop, never blocks. Grounded on the same
// background-goroutine-feeds-a-channel shape as
// internal/rtos.GoExecutive's task scheduling and the teacher's internal/queue/runner.go
// completion draining, generalized to a raw io.Reader instead of a ring.
type StreamDriver struct {
	w io.Writer

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewStreamDriver wraps rw, starting the background read pump immediately.
func NewStreamDriver(rw io.ReadWriter) *StreamDriver {
	d := &StreamDriver{
		w:      rw,
		frames: make(chan []byte, maxPending),
		done:   make(chan struct{}),
	}
	go d.pump(rw)
	return d
}

func (d *StreamDriver) pump(r io.Reader) {
	br := bufio.NewReaderSize(r, MaxFrameBytes*2)
	for {
		chunk, err := br.ReadBytes(0x00)
		if err != nil {
			close(d.frames)
			return
		}
		frame := chunk[:len(chunk)-1] // strip the 0x00 terminator
		select {
		case d.frames <- frame:
		case <-d.done:
			return
		}
	}
}

// Write sends an already-COBS-encoded, terminator-appended frame (the
// output of EncodeFrame) directly to the underlying stream.
func (d *StreamDriver) Write(frame []byte) error {
	_, err := d.w.Write(frame)
	return err
}

// Recv is non-blocking: it returns the next buffered frame, or ok=false if
// none is currently available (Driver's documented contract).
func (d *StreamDriver) Recv() ([]byte, bool) {
	select {
	case f, ok := <-d.frames:
		return f, ok
	default:
		return nil, false
	}
}

// Close stops the background pump. Safe to call more than once.
func (d *StreamDriver) Close() {
	d.once.Do(func() { close(d.done) })
}
