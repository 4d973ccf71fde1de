package mempool

// Handle is a capability token for a registered pool: a small integer
// wrapping an index into the registry, stable for the pool's lifetime.
// It forbids arithmetic (spec.md §9: "represent them as newtypes that wrap
// an index and forbid arithmetic").
type Handle struct {
	index int32
}

// Invalid is the zero-value-distinct invalid handle.
var Invalid = Handle{index: -1}

func (h Handle) Valid() bool { return h.index >= 0 }

// SystemHandle is the hard-coded handle of the distinguished System pool,
// shared by all processes (spec.md §3 "Pool" invariants).
var SystemHandle = Handle{index: 0}
