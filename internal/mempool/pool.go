// Package mempool implements the per-pool best-fit free-list allocator
// (spec.md §4.1) and the static memory-region table it allocates over
// (spec.md §4.2). Grounded on the original's fmrb_alloc.c pool-node /
// registry shape and the free-list-with-splitting-and-coalescing algorithm
// used by general-purpose Go-runtime-style allocators.
package mempool

import (
	"sort"
	"sync"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
)

const wordAlign = 8

// block is one free-list node, kept in the Pool's own free slice rather
// than inside the pool's backing byte slice. used blocks are tracked only by
// their [start, start+size) range in the pool's used-block index so free()
// can find them without a header, matching the caller-owns-the-bytes
// contract (no data is ever written into a block the caller hasn't
// allocated).
type block struct {
	start int
	size  int
}

// Stats mirrors spec.md §4.1's stats() result.
type Stats struct {
	Total       int
	Used        int
	Free        int
	UsedBlocks  int
	FreeBlocks  int
}

// Pool is one best-fit free-list allocator over a caller-owned byte region.
type Pool struct {
	mu     sync.Mutex
	region []byte
	free   []block          // sorted by start, no two adjacent (coalesced)
	used   map[int]int      // start -> size, for used blocks
}

// Observer is the narrow metrics surface the registry reports through,
// mirroring internal/link.Transport's and internal/proc.Table's own
// Observer pattern so this package need not import the root metrics type.
type Observer interface {
	ObserveAlloc(ok bool)
}

type noopObserver struct{}

func (noopObserver) ObserveAlloc(bool) {}

// Registry is the process-wide table of live pools, guarded by a single
// mutex (spec.md §4.1 "registers the pool in a process-wide linked list
// under a global registry mutex").
type Registry struct {
	mu    sync.Mutex
	pools map[int32]*Pool
	next  int32
	obs   Observer
}

// NewRegistry creates an empty pool registry. obs may be nil, defaulting to
// a no-op observer.
func NewRegistry(obs Observer) *Registry {
	if obs == nil {
		obs = noopObserver{}
	}
	return &Registry{pools: make(map[int32]*Pool), obs: obs}
}

// CreateHandle places a pool over region and registers it, returning a new
// handle. Mirrors create_handle(region_ptr, size).
func (r *Registry) CreateHandle(region []byte) (Handle, error) {
	if len(region) < 64 {
		return Invalid, coreerr.New("create_handle", coreerr.CodeInvalidParam, "region too small")
	}

	p := &Pool{
		region: region,
		free:   []block{{start: 0, size: len(region)}},
		used:   make(map[int]int),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.next
	r.next++
	r.pools[idx] = p
	return Handle{index: idx}, nil
}

// DestroyHandle removes a pool from the registry. The backing region memory
// is NOT freed; it is caller-owned static storage (spec.md §4.1).
func (r *Registry) DestroyHandle(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[h.index]; !ok {
		return coreerr.New("destroy_handle", coreerr.CodeNotFound, "unknown pool handle")
	}
	delete(r.pools, h.index)
	return nil
}

func (r *Registry) lookup(h Handle) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[h.index]
	if !ok {
		return nil, coreerr.New("lookup", coreerr.CodeNotFound, "unknown pool handle")
	}
	return p, nil
}

// Malloc allocates n bytes from the pool, best-fit, with splitting.
// Returns (nil, nil) on out-of-memory per spec.md §4.1 ("returns null; no
// aborts") — callers distinguish OOM from a bad handle via the error.
func (r *Registry) Malloc(h Handle, n int) ([]byte, error) {
	p, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, coreerr.New("malloc", coreerr.CodeInvalidParam, "size must be positive")
	}
	n = align(n, wordAlign)

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.bestFit(n)
	if idx < 0 {
		r.obs.ObserveAlloc(false)
		return nil, nil // OOM: caller checks for nil, nil
	}

	b := p.free[idx]
	p.free = append(p.free[:idx], p.free[idx+1:]...)

	if b.size > n {
		// Split: return the head of the remainder to the free list.
		remainder := block{start: b.start + n, size: b.size - n}
		p.insertFree(remainder)
	}

	p.used[b.start] = n
	r.obs.ObserveAlloc(true)
	return p.region[b.start : b.start+n : b.start+n], nil
}

// Calloc allocates n bytes zeroed: Malloc plus an explicit zero pass, since
// Malloc hands back a slice of the pool region that may hold bytes from an
// earlier, freed allocation.
func (r *Registry) Calloc(h Handle, n int) ([]byte, error) {
	buf, err := r.Malloc(h, n)
	if err != nil || buf == nil {
		return buf, err
	}
	for i := range buf {
		buf[i] = 0
	}
	return buf, nil
}

// Realloc implements realloc(handle, p, n): nil,n behaves as malloc; p,0
// behaves as free.
func (r *Registry) Realloc(h Handle, p []byte, n int) ([]byte, error) {
	if p == nil {
		return r.Malloc(h, n)
	}
	if n == 0 {
		return nil, r.Free(h, p)
	}

	pool, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	pool.mu.Lock()
	start := sliceBase(p) - sliceBase(pool.region)
	oldSize, ok := pool.used[int(start)]
	pool.mu.Unlock()
	if !ok {
		return nil, coreerr.New("realloc", coreerr.CodeInvalidParam, "pointer not owned by this pool")
	}

	newBuf, err := r.Malloc(h, n)
	if err != nil {
		return nil, err
	}
	if newBuf == nil {
		return nil, nil
	}
	copyLen := oldSize
	if n < copyLen {
		copyLen = n
	}
	copy(newBuf, p[:copyLen])
	_ = r.Free(h, p)
	return newBuf, nil
}

// Free returns p to the pool's free list, coalescing with physically
// adjacent free blocks. free(_, nil) is a no-op.
func (r *Registry) Free(h Handle, p []byte) error {
	if p == nil {
		return nil
	}
	pool, err := r.lookup(h)
	if err != nil {
		return err
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	start := int(sliceBase(p) - sliceBase(pool.region))
	size, ok := pool.used[start]
	if !ok {
		// Double-free or foreign pointer: undefined per spec, but must not
		// corrupt this or any other pool. We simply ignore it.
		return nil
	}
	delete(pool.used, start)
	pool.insertFree(block{start: start, size: size})
	return nil
}

// Stats walks the pool's blocks under its mutex (spec.md §4.1 stats()).
func (r *Registry) Stats(h Handle) (Stats, error) {
	pool, err := r.lookup(h)
	if err != nil {
		return Stats{}, err
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()

	st := Stats{Total: len(pool.region)}
	for _, sz := range pool.used {
		st.Used += sz
		st.UsedBlocks++
	}
	for _, b := range pool.free {
		st.Free += b.size
		st.FreeBlocks++
	}
	return st, nil
}

// Check performs an integrity scan: every byte of the region must belong to
// exactly one free or used block, with no overlaps or gaps.
func (r *Registry) Check(h Handle) error {
	pool, err := r.lookup(h)
	if err != nil {
		return err
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()

	type span struct{ start, end int }
	spans := make([]span, 0, len(pool.free)+len(pool.used))
	for _, b := range pool.free {
		spans = append(spans, span{b.start, b.start + b.size})
	}
	for start, size := range pool.used {
		spans = append(spans, span{start, start + size})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	cursor := 0
	for _, s := range spans {
		if s.start != cursor {
			return coreerr.New("check", coreerr.CodeFailed, "pool integrity scan found a gap or overlap")
		}
		cursor = s.end
	}
	if cursor != len(pool.region) {
		return coreerr.New("check", coreerr.CodeFailed, "pool integrity scan did not cover the full region")
	}
	return nil
}

// bestFit returns the index of the smallest free block that still fits n,
// or -1 if none does.
func (p *Pool) bestFit(n int) int {
	best := -1
	for i, b := range p.free {
		if b.size >= n && (best < 0 || b.size < p.free[best].size) {
			best = i
		}
	}
	return best
}

// insertFree inserts b into the sorted free list, coalescing with any
// physically adjacent neighbors.
func (p *Pool) insertFree(b block) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].start >= b.start })
	p.free = append(p.free, block{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = b

	// Coalesce with the following block.
	if i+1 < len(p.free) && p.free[i].start+p.free[i].size == p.free[i+1].start {
		p.free[i].size += p.free[i+1].size
		p.free = append(p.free[:i+1], p.free[i+2:]...)
	}
	// Coalesce with the preceding block.
	if i > 0 && p.free[i-1].start+p.free[i-1].size == p.free[i].start {
		p.free[i-1].size += p.free[i].size
		p.free = append(p.free[:i], p.free[i+1:]...)
	}
}

func align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}
