package proc

import (
	"context"
	"time"

	"github.com/family-mruby/fmrbcore/internal/bus"
	"github.com/family-mruby/fmrbcore/internal/constants"
	"github.com/family-mruby/fmrbcore/internal/coreerr"
	"github.com/family-mruby/fmrbcore/internal/logging"
	"github.com/family-mruby/fmrbcore/internal/mempool"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

// KillGrace is how long Kill waits for cooperative exit before forcing
// task_delete (spec.md §4.8 "forces task_delete after a grace window").
const KillGrace = 20 * time.Millisecond

// VMOpener instantiates a VM for a given vm_kind (spec.md §4.8 step 6).
// Native VMs carry their entry point as the VM itself; scripting VMs are
// opened against the slot's pool handle.
type VMOpener func(kind VMKind, src Source) (VM, error)

// Observer is the narrow metrics surface the process table reports
// through, mirroring internal/link.Transport's own Observer pattern so
// neither package needs to import the root metrics type.
type Observer interface {
	ObserveSpawn(ok bool)
	ObserveKill()
}

type noopObserver struct{}

func (noopObserver) ObserveSpawn(bool) {}
func (noopObserver) ObserveKill()      {}

// Config wires a Table to the rest of the runtime's shared state.
type Config struct {
	NumSlots int
	Exec     rtos.Executive
	Bus      *bus.Bus
	Pools    *mempool.Registry
	Regions  *mempool.RegionTable
	Log      *logging.Logger
	OpenVM   VMOpener
	Observer Observer
}

// Table is the process table (spec.md §4.8): the slot array plus the
// registry mutex serializing slot-state mutation. Lock order here is the
// head of spec.md §5's chain: ProcessTable registry -> PoolAllocator
// registry -> individual pool mutex.
type Table struct {
	regMu chan struct{} // binary-semaphore-style registry mutex (a one-token channel; bus and mempool use sync.Mutex)

	slots   []*Slot
	exec    rtos.Executive
	bus     *bus.Bus
	pools   *mempool.Registry
	regions *mempool.RegionTable
	log     *logging.Logger
	openVM  VMOpener
	obs     Observer
}

// NewTable builds a Table with cfg.NumSlots slots, all initially Free.
func NewTable(cfg Config) *Table {
	obs := cfg.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	t := &Table{
		regMu:   make(chan struct{}, 1),
		slots:   make([]*Slot, cfg.NumSlots),
		exec:    cfg.Exec,
		bus:     cfg.Bus,
		pools:   cfg.Pools,
		regions: cfg.Regions,
		log:     cfg.Log,
		openVM:  cfg.OpenVM,
		obs:     obs,
	}
	t.regMu <- struct{}{}
	for i := range t.slots {
		t.slots[i] = &Slot{index: int32(i), pid: uint8(i), generation: 1, allocHandle: mempool.Invalid}
	}
	return t
}

func (t *Table) lockRegistry()   { <-t.regMu }
func (t *Table) unlockRegistry() { t.regMu <- struct{}{} }

func poolIDForSlot(index int32, kind Kind) mempool.PoolID {
	switch kind {
	case KindKernel:
		return mempool.PoolKernel
	case KindSystemApp:
		return mempool.PoolSystemApp
	default:
		offset := index - constants.PIDUserApp0
		if offset < 0 {
			offset = 0
		}
		return mempool.PoolUserApp0 + mempool.PoolID(offset)
	}
}

func validateAttr(attr Attr) error {
	if len(attr.Name) > constants.MaxNameLen {
		return coreerr.New("spawn", coreerr.CodeInvalidParam, "name exceeds MAX_NAME_LEN")
	}
	if attr.Stack <= 0 || attr.Stack > 1<<20 {
		return coreerr.New("spawn", coreerr.CodeInvalidParam, "stack size out of range")
	}
	if !attr.Window.Headless && (attr.Window.Width <= 0 || attr.Window.Height <= 0) {
		return coreerr.New("spawn", coreerr.CodeInvalidParam, "non-headless window requires positive dimensions")
	}
	if attr.Window.Headless && (attr.Window.Width != 0 || attr.Window.Height != 0) {
		return coreerr.New("spawn", coreerr.CodeInvalidParam, "headless window fields must be zero")
	}
	return nil
}

// Spawn implements the ten-step spawn algorithm (spec.md §4.8), unwinding
// backward through whatever partial construction happened if any step
// after slot acquisition fails.
func (t *Table) Spawn(attr Attr) (ID, error) {
	if err := validateAttr(attr); err != nil {
		return ID{}, err
	}

	slot, err := t.acquireSlot(attr.SlotID)
	if err != nil {
		t.obs.ObserveSpawn(false)
		return ID{}, err
	}

	if err := t.construct(slot, attr); err != nil {
		t.unwind(slot)
		t.obs.ObserveSpawn(false)
		return ID{}, err
	}

	t.obs.ObserveSpawn(true)
	return slot.ID(), nil
}

// acquireSlot finds and claims a Free slot, transitioning it to
// Allocated (spec.md §4.8 steps 2-3).
func (t *Table) acquireSlot(requestedID int32) (*Slot, error) {
	t.lockRegistry()
	defer t.unlockRegistry()

	var slot *Slot
	if requestedID >= 0 {
		if int(requestedID) >= len(t.slots) {
			return nil, coreerr.New("spawn", coreerr.CodeInvalidParam, "slot_id out of range")
		}
		slot = t.slots[requestedID]
	} else {
		for _, s := range t.slots {
			if s.index < constants.PIDUserApp0 {
				continue // well-known kernel/renderer/system-app slots are only taken by explicit slot_id
			}
			s.mu.Lock()
			free := s.state == StateFree
			s.mu.Unlock()
			if free {
				slot = s
				break
			}
		}
		if slot == nil {
			return nil, coreerr.New("spawn", coreerr.CodeBusy, "no free user-app slot")
		}
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.state != StateFree {
		return nil, coreerr.NewSlot("spawn", slot.index, coreerr.CodeInvalidState, "requested slot is not Free")
	}
	if err := slot.transitionLocked("spawn", StateAllocated); err != nil {
		return nil, err
	}
	return slot, nil
}

// construct runs spawn steps 4-9 against an Allocated slot.
func (t *Table) construct(slot *Slot, attr Attr) error {
	slot.mu.Lock()
	slot.kind = attr.Kind
	slot.vmKind = attr.VMKind
	slot.name = attr.Name
	slot.source = attr.Source
	slot.priority = attr.Priority
	slot.stack = attr.Stack
	slot.affinity = attr.Affinity
	slot.window = attr.Window
	slot.poolID = poolIDForSlot(slot.index, attr.Kind)
	index := slot.index
	slot.mu.Unlock()

	region := t.regions.Region(slot.poolID)
	if region == nil {
		return coreerr.New("spawn", coreerr.CodeNotFound, "no region configured for pool "+slot.poolID.String())
	}
	handle, err := t.pools.CreateHandle(region.Bytes)
	if err != nil {
		return coreerr.Wrap("spawn", err)
	}
	t.regions.BindHandle(slot.poolID, handle)
	slot.mu.Lock()
	slot.allocHandle = handle
	slot.mu.Unlock()

	sem := t.exec.SemBinary()
	slot.mu.Lock()
	slot.sem = sem
	slot.mu.Unlock()

	var vm VM
	if t.openVM != nil {
		vm, err = t.openVM(attr.VMKind, attr.Source)
		if err != nil {
			return coreerr.Wrap("spawn", err)
		}
	}
	var vmHandle uintptr
	if vm != nil {
		vmHandle, err = vm.Open(handle)
		if err != nil {
			return coreerr.Wrap("spawn", err)
		}
	}
	slot.mu.Lock()
	slot.vm = vm
	slot.vmHandle = vmHandle
	if slot.vmHandle == 0 {
		slot.vmHandle = uintptr(index) + 1 // non-zero sentinel satisfying invariant 2 for native/no-op VMs
	}
	slot.mu.Unlock()

	queueCfg := bus.DefaultConfig()
	if err := t.bus.CreateQueue(slot.pid, queueCfg); err != nil {
		return coreerr.Wrap("spawn", err)
	}

	slot.mu.Lock()
	if err := slot.transitionLocked("spawn", StateInit); err != nil {
		slot.mu.Unlock()
		return err
	}
	slot.mu.Unlock()

	return t.startWorker(slot)
}

// startWorker runs spawn step 9-10: create the slot's task, gate it on
// the slot semaphore, and transition Init -> Running once the worker has
// entered (spec.md §4.8).
func (t *Table) startWorker(slot *Slot) error {
	entry := func(ctx context.Context, arg any) {
		s := arg.(*Slot)
		s.mu.Lock()
		sem := s.sem
		vm := s.vm
		vmHandle := s.vmHandle
		s.mu.Unlock()

		if !sem.Take(time.Hour) {
			return
		}

		if vm != nil {
			_ = vm.Run(vmHandle)
		} else {
			<-ctx.Done()
		}
	}

	handle, err := t.exec.TaskCreate(entry, slot.name, slot.stack, slot, slot.priority, slot.affinity)
	if err != nil {
		return coreerr.Wrap("spawn", err)
	}

	slot.mu.Lock()
	slot.taskHandle = handle
	slot.mu.Unlock()

	t.exec.TaskSetTLS(handle, constants.AppContextTLSSlot, slot)

	slot.mu.Lock()
	if err := slot.transitionLocked("spawn", StateRunning); err != nil {
		slot.mu.Unlock()
		return err
	}
	sem := slot.sem
	slot.mu.Unlock()

	sem.Give()
	return nil
}

// unwind walks the slot backward through whatever construction succeeded
// (spec.md §4.8 "If any step after (3) fails...").
func (t *Table) unwind(slot *Slot) {
	slot.mu.Lock()
	pid := slot.pid
	handle := slot.allocHandle
	vm := slot.vm
	vmHandle := slot.vmHandle
	taskHandle := slot.taskHandle
	slot.mu.Unlock()

	if taskHandle != 0 {
		t.exec.TaskDelete(taskHandle)
	}
	if t.bus.Exists(pid) {
		_ = t.bus.DeleteQueue(pid)
	}
	if vm != nil {
		_ = vm.Close(vmHandle)
	}
	if handle.Valid() {
		_ = t.pools.DestroyHandle(handle)
	}

	slot.mu.Lock()
	slot.resetLocked()
	_ = slot.transitionLocked("spawn", StateFree)
	slot.mu.Unlock()
}

// Stop moves the slot to Stopping, sends a MsgKernelInternal "stop"
// message to its queue, and then reaps it at once (spec.md §4.8
// "stop(id)"). It does not wait for the worker to exit on its own: the
// worker's task is deleted during the reap. Kill differs only in sleeping
// KillGrace between the stop message and the reap.
func (t *Table) Stop(id ID) (bool, error) {
	return t.shutdown(id, false)
}

// Kill is the non-graceful variant, forcing task_delete after a grace
// window (spec.md §4.8 "kill(id)").
func (t *Table) Kill(id ID) (bool, error) {
	return t.shutdown(id, true)
}

func (t *Table) shutdown(id ID, force bool) (bool, error) {
	slot, err := t.lookup(id)
	if err != nil {
		return false, err
	}

	slot.mu.Lock()
	if slot.state != StateRunning && slot.state != StateSuspended {
		slot.mu.Unlock()
		return false, coreerr.NewSlot("shutdown", slot.index, coreerr.CodeInvalidState, "slot is not Running or Suspended")
	}
	if err := slot.transitionLocked("shutdown", StateStopping); err != nil {
		slot.mu.Unlock()
		return false, err
	}
	pid := slot.pid
	slot.mu.Unlock()

	if t.bus.Exists(pid) {
		_ = t.bus.Send(pid, bus.NewMessage(bus.MsgKernelInternal, constants.PIDKernel, []byte("stop")), 0)
	}

	if force {
		time.Sleep(KillGrace)
	}

	t.reap(slot)
	t.obs.ObserveKill()
	return true, nil
}

// reap performs cleanup from outside the dying slot's own task (spec.md
// §4.8 "runs in a reaper context, never in the dying slot's own task"):
// close the VM, delete the queue, destroy the pool handle, free the
// semaphore, clear fields, bump generation, and transition to Free.
func (t *Table) reap(slot *Slot) {
	slot.mu.Lock()
	pid := slot.pid
	handle := slot.allocHandle
	vm := slot.vm
	vmHandle := slot.vmHandle
	taskHandle := slot.taskHandle
	sem := slot.sem
	slot.mu.Unlock()

	t.exec.TaskDelete(taskHandle)
	if t.bus.Exists(pid) {
		_ = t.bus.DeleteQueue(pid)
	}
	if vm != nil {
		_ = vm.Close(vmHandle)
	}
	if handle.Valid() {
		_ = t.pools.DestroyHandle(handle)
	}
	if sem != nil {
		sem.Delete()
	}

	slot.mu.Lock()
	_ = slot.transitionLocked("reap", StateZombie)
	slot.resetLocked()
	_ = slot.transitionLocked("reap", StateFree)
	slot.mu.Unlock()
}

// Suspend maps to RTOS task_suspend; idempotent on an already-suspended
// slot (spec.md §4.8).
func (t *Table) Suspend(id ID) (bool, error) {
	slot, err := t.lookup(id)
	if err != nil {
		return false, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.state == StateSuspended {
		return true, nil
	}
	if err := slot.transitionLocked("suspend", StateSuspended); err != nil {
		return false, err
	}
	t.exec.TaskSuspend(slot.taskHandle)
	return true, nil
}

// Resume is the inverse of Suspend.
func (t *Table) Resume(id ID) (bool, error) {
	slot, err := t.lookup(id)
	if err != nil {
		return false, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.state == StateRunning {
		return true, nil
	}
	if err := slot.transitionLocked("resume", StateRunning); err != nil {
		return false, err
	}
	t.exec.TaskResume(slot.taskHandle)
	return true, nil
}

// lookup resolves id to its slot, verifying the generation still matches
// (spec.md §3 "(slot_index, generation) is the externally visible id").
func (t *Table) lookup(id ID) (*Slot, error) {
	if id.SlotIndex < 0 || int(id.SlotIndex) >= len(t.slots) {
		return nil, coreerr.New("lookup", coreerr.CodeNotFound, "slot index out of range")
	}
	slot := t.slots[id.SlotIndex]
	slot.mu.Lock()
	gen := slot.generation
	slot.mu.Unlock()
	if gen != id.Generation {
		return nil, coreerr.NewSlot("lookup", id.SlotIndex, coreerr.CodeNotFound, "generation mismatch; stale id")
	}
	return slot, nil
}

// GetByID returns a snapshot of the slot identified by id.
func (t *Table) GetByID(id ID) (Info, error) {
	slot, err := t.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return t.snapshot(slot), nil
}

// Ps snapshots every non-free slot (spec.md §4.8 "ps reporting").
func (t *Table) Ps() []Info {
	var out []Info
	for _, slot := range t.slots {
		slot.mu.Lock()
		isFree := slot.state == StateFree
		slot.mu.Unlock()
		if isFree {
			continue
		}
		out = append(out, t.snapshot(slot))
	}
	return out
}

func (t *Table) snapshot(slot *Slot) Info {
	slot.mu.Lock()
	info := Info{
		SlotIndex:  slot.index,
		State:      slot.state,
		Kind:       slot.kind,
		Name:       slot.name,
		Generation: slot.generation,
		TaskHandle: slot.taskHandle,
		VMKind:     slot.vmKind,
	}
	handle := slot.allocHandle
	taskHandle := slot.taskHandle
	slot.mu.Unlock()

	if taskHandle != 0 {
		info.StackHighWater = t.exec.TaskStackHighWater(taskHandle)
	}
	if handle.Valid() {
		if stats, err := t.pools.Stats(handle); err == nil {
			info.MemTotal = stats.Total
			info.MemUsed = stats.Used
			info.MemFree = stats.Free
			info.MemFrag = stats.FreeBlocks
		}
	}
	return info
}

// Current resolves the slot owning h via its TLS binding (spec.md §4.8
// "current() is implemented as a TLS read"). GoExecutive cannot answer
// "which task am I" on its own (rtos.GoExecutive.TaskCurrent doc comment),
// so callers thread their own task handle through instead of calling a
// zero-argument Current().
func (t *Table) Current(h rtos.TaskHandle) (*Slot, bool) {
	v := t.exec.TaskGetTLS(h, constants.AppContextTLSSlot)
	slot, ok := v.(*Slot)
	return slot, ok
}
