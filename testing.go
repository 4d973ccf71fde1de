package fmrbcore

import (
	"sync"

	"github.com/family-mruby/fmrbcore/internal/mempool"
)

// FakeVM is a call-tracking proc.VM implementation for tests, grounded on
// the teacher's MockBackend call-counter idiom: every Open/Run/Close
// invocation increments a counter and can be steered by injected errors.
type FakeVM struct {
	mu sync.Mutex

	openCalls  int
	runCalls   int
	closeCalls int
	closed     bool

	OpenErr  error
	RunErr   error
	CloseErr error

	// RunBlocks, when set, makes Run block on this channel until closed,
	// simulating a VM body that yields only on shutdown.
	RunBlocks chan struct{}

	lastPoolHandle mempool.Handle
}

// NewFakeVM returns a ready-to-use FakeVM.
func NewFakeVM() *FakeVM {
	return &FakeVM{}
}

// Open implements proc.VM.
func (f *FakeVM) Open(poolHandle mempool.Handle) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	f.lastPoolHandle = poolHandle
	if f.OpenErr != nil {
		return 0, f.OpenErr
	}
	return 1, nil
}

// Run implements proc.VM.
func (f *FakeVM) Run(handle uintptr) error {
	f.mu.Lock()
	f.runCalls++
	blocks := f.RunBlocks
	err := f.RunErr
	f.mu.Unlock()

	if blocks != nil {
		<-blocks
	}
	return err
}

// Close implements proc.VM.
func (f *FakeVM) Close(handle uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closed = true
	return f.CloseErr
}

// CallCounts returns {"open": n, "run": n, "close": n}, matching the
// teacher's CallCounts() testing helper shape.
func (f *FakeVM) CallCounts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]int{"open": f.openCalls, "run": f.runCalls, "close": f.closeCalls}
}

// IsClosed reports whether Close has been called.
func (f *FakeVM) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeLinkDriver is an in-memory link.Driver pair for tests that need a
// runtime wired end to end without a real byte stream: frames written by
// one side are delivered to the other's Recv queue.
type FakeLinkDriver struct {
	mu   sync.Mutex
	out  chan []byte
	in   chan []byte
	Sent [][]byte
}

// NewFakeLinkPair returns two FakeLinkDrivers, each other's peer.
func NewFakeLinkPair() (a, b *FakeLinkDriver) {
	c1 := make(chan []byte, 64)
	c2 := make(chan []byte, 64)
	a = &FakeLinkDriver{out: c1, in: c2}
	b = &FakeLinkDriver{out: c2, in: c1}
	return a, b
}

// Write implements link.Driver.
func (d *FakeLinkDriver) Write(frame []byte) error {
	cp := append([]byte(nil), frame...)
	d.mu.Lock()
	d.Sent = append(d.Sent, cp)
	d.mu.Unlock()
	d.out <- cp
	return nil
}

// Recv implements link.Driver, non-blocking per the Driver contract.
func (d *FakeLinkDriver) Recv() ([]byte, bool) {
	select {
	case f := <-d.in:
		return f, true
	default:
		return nil, false
	}
}
