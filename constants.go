package fmrbcore

import "github.com/family-mruby/fmrbcore/internal/constants"

// Re-export enumerated configuration defaults for the public API.
const (
	MaxProcesses     = constants.MaxProcesses
	MaxUserApps      = constants.MaxUserApps
	MaxNameLen       = constants.MaxNameLen
	MaxSourcePathLen = constants.MaxSourcePathLen
	NoTargetPID      = constants.NoTargetPID

	PIDKernel        = constants.PIDKernel
	PIDRendererProxy = constants.PIDRendererProxy
	PIDSystemApp     = constants.PIDSystemApp
	PIDUserApp0      = constants.PIDUserApp0
	PIDUserApp1      = constants.PIDUserApp1
	PIDUserApp2      = constants.PIDUserApp2

	DefaultQueueCapacity = constants.DefaultQueueCapacity
	DefaultPayloadCap    = constants.DefaultPayloadCap
	MaxPayloadCap        = constants.MaxPayloadCap

	PoolSizeSystem    = constants.PoolSizeSystem
	PoolSizeKernel    = constants.PoolSizeKernel
	PoolSizeSystemApp = constants.PoolSizeSystemApp
	PoolSizeUserApp   = constants.PoolSizeUserApp
	MinPoolSize       = constants.MinPoolSize

	DefaultMaxRetries = constants.DefaultMaxRetries
	DefaultWindowSize = constants.DefaultWindowSize
	MaxPendingFrames  = constants.MaxPendingFrames
	MaxSyncRequests   = constants.MaxSyncRequests
	MaxFrameBytes     = constants.MaxFrameBytes
)

// DefaultLinkTimeout is the default synchronous-request deadline.
var DefaultLinkTimeout = constants.DefaultLinkTimeout
