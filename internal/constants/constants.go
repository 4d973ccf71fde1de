// Package constants holds the enumerated configuration defaults for the
// runtime (spec.md §6 "Configuration (enumerated)").
package constants

import "time"

// Process table limits.
const (
	// MaxProcesses is the size of the fixed process-slot array (N, 5-8 per spec).
	MaxProcesses = 8

	// MaxUserApps is the number of user-app slots carved out of MaxProcesses.
	MaxUserApps = 3

	// MaxNameLen is the maximum process name length, UTF-8, NUL-terminated.
	MaxNameLen = 32

	// MaxSourcePathLen is the maximum filesystem source path length.
	MaxSourcePathLen = 256

	// NoTargetPID is the "no target" sentinel (spec.md §3 invariant 1).
	NoTargetPID = 0xFF
)

// Well-known process identities (spec.md §3).
const (
	PIDKernel = iota
	PIDRendererProxy
	PIDSystemApp
	PIDUserApp0
	PIDUserApp1
	PIDUserApp2
)

// Message bus defaults.
const (
	// DefaultQueueCapacity is the default bounded-queue depth per process.
	DefaultQueueCapacity = 10

	// DefaultPayloadCap is not read by the bus: every bus.Message carries
	// a fixed bus.PayloadCap (MaxPayloadCap, 256-byte) inline payload.
	DefaultPayloadCap = 128

	// MaxPayloadCap is the largest payload capacity the bus will accept.
	MaxPayloadCap = 256
)

// Memory pool sizes (bytes), matching the original's PSRAM region layout.
const (
	PoolSizeSystem    = 500 * 1024
	PoolSizeKernel    = 500 * 1024
	PoolSizeSystemApp = 500 * 1024
	PoolSizeUserApp   = 500 * 1024

	// CompilerScratchSizeHost and CompilerScratchSizeTarget are the two
	// build-mode variants of the scripting-VM compiler scratch region.
	CompilerScratchSizeHost   = 288 * 1024
	CompilerScratchSizeTarget = 64 * 1024

	// MinPoolSize is not enforced by mempool.Registry.CreateHandle, which
	// rejects only regions smaller than 64 bytes.
	MinPoolSize = 1024
)

// Link transport defaults.
const (
	DefaultLinkTimeout    = 1000 * time.Millisecond
	DefaultMaxRetries     = 3
	DefaultWindowSize     = 8
	MaxPendingFrames      = 32
	MaxSyncRequests       = 4
	MaxFrameBytes         = 512
	DefaultGraphicsWindow = 128 // renderer proxy command-buffer capacity
)

// Renderer proxy timing.
const (
	RendererReceiveTimeout = 10 * time.Millisecond
	RendererUpdateTick     = 16 * time.Millisecond
)

// Display defaults, used when Options leaves ScreenWidth/ScreenHeight zero
// (spec.md §6 "init display" carries {width, height, color_depth}).
const (
	DefaultScreenWidth  = 320
	DefaultScreenHeight = 240

	// DefaultColorDepth is 1 (RGB332, one byte per pixel, spec.md §6).
	DefaultColorDepth = 1
)

// TLS slot used for the process-local context pointer (spec.md §4.8).
const AppContextTLSSlot = 1
