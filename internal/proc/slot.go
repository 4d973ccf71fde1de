package proc

import (
	"sync"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
	"github.com/family-mruby/fmrbcore/internal/mempool"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

// legalTransitions enumerates every allowed (from, to) pair (spec.md
// §4.8's transition table). Everything else is InvalidState.
var legalTransitions = map[State]map[State]bool{
	StateFree:      {StateAllocated: true},
	StateAllocated: {StateInit: true, StateFree: true}, // Free: backward-unwind on spawn failure
	StateInit:      {StateRunning: true, StateFree: true},
	StateRunning:   {StateSuspended: true, StateStopping: true},
	StateSuspended: {StateRunning: true, StateStopping: true},
	StateStopping:  {StateZombie: true},
	StateZombie:    {StateFree: true},
}

// Slot is one entry in the process table (spec.md §3 "Process Slot").
// Every field is guarded by mu except index, which is immutable after
// construction.
type Slot struct {
	mu sync.Mutex

	index      int32
	pid        uint8
	generation uint32
	state      State

	kind     Kind
	vmKind   VMKind
	name     string
	source   Source
	priority int
	stack    int
	affinity int
	window   Window

	vmHandle    uintptr
	vm          VM
	poolID      mempool.PoolID
	allocHandle mempool.Handle
	taskHandle  rtos.TaskHandle
	sem         rtos.Semaphore
}

// transitionLocked moves the slot from its current state to to, or
// returns InvalidState if the transition is not in legalTransitions.
// Caller must hold s.mu.
func (s *Slot) transitionLocked(op string, to State) error {
	allowed := legalTransitions[s.state]
	if allowed == nil || !allowed[to] {
		return coreerr.NewSlot(op, s.index, coreerr.CodeInvalidState,
			"illegal transition "+s.state.String()+" -> "+to.String())
	}
	if to == StateFree {
		s.generation++
	}
	s.state = to
	return nil
}

// State returns the slot's current state under its own lock.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the slot's current (slot_index, generation) identity.
func (s *Slot) ID() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ID{SlotIndex: s.index, Generation: s.generation}
}

// isFreeLocked reports whether every field matches invariant 2
// (spec.md §3 "state == Free ⟺ task_handle == None ∧ ...").
func (s *Slot) isFreeLocked() bool {
	return s.state == StateFree && s.taskHandle == 0 && s.vmHandle == 0 && !s.allocHandle.Valid()
}

// resetLocked clears every field but index, pid and generation, restoring
// invariant 2 for a freed slot. pid stays equal to index so a respawned
// slot gets its bus queue under the same pid.
func (s *Slot) resetLocked() {
	s.kind = 0
	s.vmKind = 0
	s.name = ""
	s.source = Source{}
	s.priority = 0
	s.stack = 0
	s.affinity = 0
	s.window = Window{}
	s.vmHandle = 0
	s.vm = nil
	s.poolID = 0
	s.allocHandle = mempool.Invalid
	s.taskHandle = 0
	s.sem = nil
}
