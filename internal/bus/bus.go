// Package bus implements the typed, per-process message bus (spec.md
// §4.4): a process-wide registry mapping pid -> bounded queue, with the
// "release the registry mutex before blocking on the queue" pattern so a
// slow receiver cannot stall unrelated bus operations.
package bus

import (
	"sync"
	"time"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

// MsgType enumerates the message classes carried on the bus (spec.md §3).
type MsgType uint16

const (
	MsgAppControl MsgType = iota + 1
	MsgAppGraphics
	MsgAppAudio
	MsgHIDEvent
	MsgKernelInternal
)

// PayloadCap bounds a Message's inline payload, matching the RTOS queue's
// fixed-size item copy semantics (spec.md §9: "the message payload is a
// fixed-size inline array, not a pointer").
const PayloadCap = 256

// Message is one bus item (spec.md §3 "Message").
type Message struct {
	Type   MsgType
	SrcPID uint8
	Size   uint16
	Data   [PayloadCap]byte
}

// NewMessage builds a Message from a byte slice, truncating to PayloadCap.
func NewMessage(t MsgType, srcPID uint8, data []byte) Message {
	m := Message{Type: t, SrcPID: srcPID}
	n := len(data)
	if n > PayloadCap {
		n = PayloadCap
	}
	copy(m.Data[:], data[:n])
	m.Size = uint16(n)
	return m
}

// Bytes returns the meaningful portion of the message payload.
func (m Message) Bytes() []byte {
	return m.Data[:m.Size]
}

// Stats mirrors spec.md §3 "Queue (per process)" statistics.
type Stats struct {
	Sent         uint64
	Received     uint64
	SendFailures uint64
}

type entry struct {
	mu    sync.Mutex
	queue rtos.Queue
	stats Stats
}

// Config configures a per-process queue (spec.md §4.4 create_queue cfg).
type Config struct {
	Capacity int
}

// DefaultConfig is the default per-process queue configuration.
func DefaultConfig() Config {
	return Config{Capacity: 10}
}

// Observer is the narrow metrics surface the bus reports through,
// mirroring internal/link.Transport's and internal/mempool.Registry's own
// Observer pattern so this package need not import the root metrics type.
type Observer interface {
	ObserveBusSend(ok bool)
	ObserveBusReceive()
}

type noopObserver struct{}

func (noopObserver) ObserveBusSend(bool) {}
func (noopObserver) ObserveBusReceive()  {}

// Bus is the process-wide message registry.
type Bus struct {
	exec rtos.Executive
	obs  Observer

	mu       sync.Mutex
	registry map[uint8]*entry
}

// New builds a Bus atop the given RTOS executive (init()). obs may be nil,
// defaulting to a no-op observer.
func New(exec rtos.Executive, obs Observer) *Bus {
	if obs == nil {
		obs = noopObserver{}
	}
	return &Bus{exec: exec, obs: obs, registry: make(map[uint8]*entry)}
}

// Deinit tears down every registered queue.
func (b *Bus) Deinit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pid, e := range b.registry {
		e.queue.Delete()
		delete(b.registry, pid)
	}
}

// CreateQueue registers a bounded queue for pid.
func (b *Bus) CreateQueue(pid uint8, cfg Config) error {
	if cfg.Capacity <= 0 {
		return coreerr.New("create_queue", coreerr.CodeInvalidParam, "capacity must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.registry[pid]; exists {
		return coreerr.New("create_queue", coreerr.CodeInvalidState, "queue already exists for pid")
	}

	b.registry[pid] = &entry{queue: b.exec.QueueCreate(cfg.Capacity, int(PayloadCap))}
	return nil
}

// DeleteQueue removes pid's queue.
func (b *Bus) DeleteQueue(pid uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.registry[pid]
	if !ok {
		return coreerr.New("delete_queue", coreerr.CodeNotFound, "no queue for pid")
	}
	e.queue.Delete()
	delete(b.registry, pid)
	return nil
}

// Exists reports whether pid has a registered queue.
func (b *Bus) Exists(pid uint8) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.registry[pid]
	return ok
}

// Send delivers msg to destPID's queue, blocking up to timeout.
func (b *Bus) Send(destPID uint8, msg Message, timeout time.Duration) error {
	b.mu.Lock()
	e, ok := b.registry[destPID]
	b.mu.Unlock()
	if !ok {
		return coreerr.New("send", coreerr.CodeNotFound, "no queue for destination pid")
	}

	// The registry mutex is already released: a slow receiver only blocks
	// this call, never other bus operations (spec.md §4.4).
	ok = e.queue.Send(msg, timeout)

	e.mu.Lock()
	e.stats.Sent++
	if !ok {
		e.stats.SendFailures++
	}
	e.mu.Unlock()
	b.obs.ObserveBusSend(ok)

	if !ok {
		return coreerr.New("send", coreerr.CodeTimeout, "destination queue full")
	}
	return nil
}

// Receive blocks up to timeout for a message addressed to pid.
func (b *Bus) Receive(pid uint8, timeout time.Duration) (Message, error) {
	b.mu.Lock()
	e, ok := b.registry[pid]
	b.mu.Unlock()
	if !ok {
		return Message{}, coreerr.New("receive", coreerr.CodeNotFound, "no queue for pid")
	}

	v, ok := e.queue.Receive(timeout)
	if !ok {
		return Message{}, coreerr.New("receive", coreerr.CodeTimeout, "no message within deadline")
	}

	e.mu.Lock()
	e.stats.Received++
	e.mu.Unlock()
	b.obs.ObserveBusReceive()

	return v.(Message), nil
}

// Broadcast sends msg to every registered queue, returning the count of
// successful sends. It never fails as a whole (spec.md §4.4).
func (b *Bus) Broadcast(msg Message, timeout time.Duration) int {
	b.mu.Lock()
	targets := make([]uint8, 0, len(b.registry))
	for pid := range b.registry {
		targets = append(targets, pid)
	}
	b.mu.Unlock()

	count := 0
	for _, pid := range targets {
		if err := b.Send(pid, msg, timeout); err == nil {
			count++
		}
	}
	return count
}

// QueueStats returns pid's queue statistics.
func (b *Bus) QueueStats(pid uint8) (Stats, error) {
	b.mu.Lock()
	e, ok := b.registry[pid]
	b.mu.Unlock()
	if !ok {
		return Stats{}, coreerr.New("stats", coreerr.CodeNotFound, "no queue for pid")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats, nil
}
