package fmrbcore

import (
	"context"
	"fmt"
	"time"

	"github.com/family-mruby/fmrbcore/internal/bus"
	"github.com/family-mruby/fmrbcore/internal/constants"
	"github.com/family-mruby/fmrbcore/internal/gfx"
	"github.com/family-mruby/fmrbcore/internal/link"
	"github.com/family-mruby/fmrbcore/internal/logging"
	"github.com/family-mruby/fmrbcore/internal/mempool"
	"github.com/family-mruby/fmrbcore/internal/proc"
	"github.com/family-mruby/fmrbcore/internal/renderer"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

// Options configures a Runtime (spec.md §6 "Configuration (enumerated)").
// Zero-valued fields fall back to the spec's documented defaults, mirroring
// the teacher's DeviceParams/DefaultParams pattern.
type Options struct {
	// Context cancels every background task (renderer proxy loop,
	// link-transport pump) when done. Defaults to context.Background().
	Context context.Context

	// Logger receives structured log lines; defaults to logging.Default().
	Logger *logging.Logger

	// Observer receives metrics callbacks; defaults to NoOpObserver.
	Observer Observer

	// Driver is the byte-level transport the link speaks over. Required:
	// there is no default, since the concrete wire is always
	// deployment-specific (spec.md §1 out of scope).
	Driver link.Driver

	// NumSlots sizes the process table; defaults to constants.MaxProcesses.
	NumSlots int

	// RegionSizes overrides the per-pool backing byte-slice sizes;
	// defaults to constants.PoolSize* per pool (spec.md §4.2).
	RegionSizes map[mempool.PoolID]int

	// ScreenWidth, ScreenHeight, ColorDepth describe the attached display
	// and are sent once via the control "init display" sub_cmd (spec.md
	// §6). Default to constants.DefaultScreenWidth/Height/ColorDepth.
	ScreenWidth  uint16
	ScreenHeight uint16
	ColorDepth   uint8

	// OpenVM instantiates a process's VM body; nil leaves slots running
	// a no-op native task (useful for tests that only exercise the bus
	// and lifecycle).
	OpenVM proc.VMOpener

	// LinkConfig overrides the link transport's retry/timeout behavior;
	// defaults to link.DefaultConfig().
	LinkConfig *link.Config
}

func defaultRegionSizes() map[mempool.PoolID]int {
	return map[mempool.PoolID]int{
		mempool.PoolSystem:    constants.PoolSizeSystem,
		mempool.PoolKernel:    constants.PoolSizeKernel,
		mempool.PoolSystemApp: constants.PoolSizeSystemApp,
		mempool.PoolUserApp0:  constants.PoolSizeUserApp,
		mempool.PoolUserApp1:  constants.PoolSizeUserApp,
		mempool.PoolUserApp2:  constants.PoolSizeUserApp,
	}
}

// Runtime is the assembled core: the process table, the message bus, the
// pool-allocator registry, the link transport, and the renderer proxy that
// is the link's single asynchronous writer (spec.md §1 OVERVIEW, §4.10).
//
// This is the equivalent of the teacher's Device: the object CreateAndServe
// (here New) hands back once every subsystem is wired and running.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	Exec      rtos.Executive
	Bus       *bus.Bus
	Pools     *mempool.Registry
	Regions   *mempool.RegionTable
	Transport *link.Transport
	Proc      *proc.Table
	Spawner   *proc.Spawner
	Renderer  *renderer.Proxy

	log      *logging.Logger
	observer Observer
}

// New assembles and starts a Runtime (spec.md §1 OVERVIEW): it builds the
// RTOS executive, bus, pool registry, link transport, renderer proxy, and
// process table, then starts the renderer proxy's background loop. Every
// process spawned through the returned Runtime gets a graphics Serializer
// via NewSerializer.
func New(opts Options) (*Runtime, error) {
	if opts.Driver == nil {
		return nil, NewError("runtime_new", CodeInvalidParam, "Options.Driver is required")
	}

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	observer := opts.Observer
	if observer == nil {
		observer = &NoOpObserver{}
	}

	numSlots := opts.NumSlots
	if numSlots == 0 {
		numSlots = constants.MaxProcesses
	}

	regionSizes := opts.RegionSizes
	if regionSizes == nil {
		regionSizes = defaultRegionSizes()
	}
	regions := mempool.NewRegionTable(regionSizes)
	pools := mempool.NewRegistry(observer)

	sysRegion := regions.Region(mempool.PoolSystem)
	if sysRegion == nil {
		cancel()
		return nil, NewError("runtime_new", CodeInvalidParam, "RegionSizes is missing mempool.PoolSystem")
	}
	sysHandle, err := pools.BootstrapSystemPool(sysRegion.Bytes)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("runtime: bootstrap system pool: %w", err)
	}
	regions.BindHandle(mempool.PoolSystem, sysHandle)

	exec := rtos.NewGoExecutive()
	b := bus.New(exec, observer)

	linkCfg := link.DefaultConfig()
	if opts.LinkConfig != nil {
		linkCfg = *opts.LinkConfig
	}
	transport := link.New(opts.Driver, exec, linkCfg)
	transport.SetObserver(observer)

	screenW := opts.ScreenWidth
	if screenW == 0 {
		screenW = constants.DefaultScreenWidth
	}
	screenH := opts.ScreenHeight
	if screenH == 0 {
		screenH = constants.DefaultScreenHeight
	}
	colorDepth := opts.ColorDepth
	if colorDepth == 0 {
		colorDepth = constants.DefaultColorDepth
	}

	rnd := renderer.New(b, transport, log.WithComponent("renderer"), screenW, screenH, colorDepth)

	table := proc.NewTable(proc.Config{
		NumSlots: numSlots,
		Exec:     exec,
		Bus:      b,
		Pools:    pools,
		Regions:  regions,
		Log:      log.WithComponent("proc"),
		OpenVM:   opts.OpenVM,
		Observer: observer,
	})

	if err := b.CreateQueue(constants.PIDRendererProxy, bus.DefaultConfig()); err != nil {
		cancel()
		return nil, fmt.Errorf("runtime: create renderer queue: %w", err)
	}

	rt := &Runtime{
		ctx:       ctx,
		cancel:    cancel,
		Exec:      exec,
		Bus:       b,
		Pools:     pools,
		Regions:   regions,
		Transport: transport,
		Proc:      table,
		Spawner:   proc.NewSpawner(table),
		Renderer:  rnd,
		log:       log,
		observer:  observer,
	}

	go rnd.Run(ctx)

	log.Info("runtime initialized")
	return rt, nil
}

// NewSerializer builds a graphics command Serializer for process selfPID,
// wired to this Runtime's bus and link transport (spec.md §4.7). Call once
// per spawned process that draws. headless must match the Window.Headless
// the process was spawned with; a headless serializer rejects every
// graphics call (spec.md glossary "graphics calls on such a process are
// errors").
func (rt *Runtime) NewSerializer(selfPID uint8, headless bool) *gfx.Serializer {
	return gfx.New(selfPID, constants.PIDRendererProxy, rt.Bus, rt.Transport, rt.log.WithComponent("gfx"), headless)
}

// SysMalloc allocates n bytes from the distinguished System pool, the one
// cross-process allocation permitted outside a process's own pool handle
// (spec.md §3 "the only cross-process allocations permitted"). Bootstrapped
// once in New over the mempool.PoolSystem region.
func (rt *Runtime) SysMalloc(n int) ([]byte, error) {
	return rt.Pools.SysMalloc(n)
}

// SysFree returns a SysMalloc allocation to the System pool.
func (rt *Runtime) SysFree(p []byte) error {
	return rt.Pools.SysFree(p)
}

// Shutdown cancels the renderer proxy's background loop, tears down every
// non-free process slot, and releases the bus (spec.md §4.8 kill semantics
// applied to every live process, plus the renderer proxy's own queue).
func (rt *Runtime) Shutdown() {
	for _, info := range rt.Proc.Ps() {
		_, _ = rt.Proc.Kill(proc.ID{SlotIndex: info.SlotIndex, Generation: info.Generation})
	}
	rt.cancel()
	time.Sleep(constants.RendererReceiveTimeout) // let the renderer loop observe ctx.Done()
	rt.Bus.Deinit()
}
