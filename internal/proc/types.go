// Package proc implements the process table and lifecycle state machine
// (spec.md §4.8): a fixed array of slots, each independently guarded,
// transitioning through a strict 7-state machine and carrying the
// (slot_index, generation) identity pair that survives slot reuse.
package proc

import (
	"github.com/family-mruby/fmrbcore/internal/mempool"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

// State is one of the seven legal slot states (spec.md §4.8).
type State int

const (
	StateFree State = iota
	StateAllocated
	StateInit
	StateRunning
	StateSuspended
	StateStopping
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "Free"
	case StateAllocated:
		return "Allocated"
	case StateInit:
		return "Init"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateStopping:
		return "Stopping"
	case StateZombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// Kind classifies what a slot hosts (spec.md §3).
type Kind int

const (
	KindKernel Kind = iota
	KindSystemApp
	KindUserApp
)

// VMKind tags the polymorphic capability set {open, run, close} a slot
// dispatches to (spec.md §9 "tagged union on the slot").
type VMKind int

const (
	VMKindMRuby VMKind = iota
	VMKindLua
	VMKindNative
)

// LoadMode selects how a slot's code is sourced.
type LoadMode int

const (
	LoadModeBytecode LoadMode = iota
	LoadModeFile
)

// Window is the slot's optional display geometry; fields are ignored
// when Headless is true.
type Window struct {
	Headless bool
	Width    int
	Height   int
	X        int
	Y        int
}

// Source is either an in-memory bytecode blob or a filesystem path,
// never both (spec.md §3 "either ... or").
type Source struct {
	Mode     LoadMode
	Bytecode []byte
	Path     string
}

// Attr is the caller-supplied spawn request (spec.md §4.8 step 1).
type Attr struct {
	SlotID   int32 // -1 selects any free user-app slot
	Kind     Kind
	Name     string
	VMKind   VMKind
	Source   Source
	Stack    int
	Priority int
	Affinity int
	Window   Window
}

// Info is a point-in-time snapshot returned by Ps (spec.md §4.8 "ps reporting").
type Info struct {
	SlotIndex      int32
	State          State
	Kind           Kind
	Name           string
	Generation     uint32
	TaskHandle     rtos.TaskHandle
	StackHighWater uint32
	VMKind         VMKind
	MemTotal       int
	MemUsed        int
	MemFree        int
	MemFrag        int
}

// ID is the externally visible, generation-stable process identity
// (spec.md §3 invariant 1, §9).
type ID struct {
	SlotIndex  int32
	Generation uint32
}

// VM is the narrow capability polymorphism point for mruby/Lua/native
// instances (spec.md §9): {open(pool)→handle, run(handle)→(), close(handle)}.
type VM interface {
	Open(poolHandle mempool.Handle) (handle uintptr, err error)
	Run(handle uintptr) error
	Close(handle uintptr) error
}
