package mempool

import "fmt"

// PoolID enumerates the build-time memory region table (spec.md §4.2).
type PoolID int

const (
	PoolSystem PoolID = iota
	PoolKernel
	PoolSystemApp
	PoolUserApp0
	PoolUserApp1
	PoolUserApp2
	PoolCompilerScratch
)

func (id PoolID) String() string {
	switch id {
	case PoolSystem:
		return "system"
	case PoolKernel:
		return "kernel"
	case PoolSystemApp:
		return "system-app"
	case PoolUserApp0:
		return "user-app-0"
	case PoolUserApp1:
		return "user-app-1"
	case PoolUserApp2:
		return "user-app-2"
	case PoolCompilerScratch:
		return "compiler-scratch"
	default:
		return fmt.Sprintf("pool-%d", int(id))
	}
}

// Region describes one statically sized backing byte slice and the pool
// handle bound to it, once created.
type Region struct {
	ID     PoolID
	Bytes  []byte
	Handle Handle
}

// RegionTable owns the static PoolId -> region mapping (spec.md §4.2). It is
// effectively stateless aside from the table itself: it never allocates on
// behalf of a caller, it only tracks which bytes belong to which region so
// check_pointer can answer "which region is p inside".
type RegionTable struct {
	regions map[PoolID]*Region
}

// NewRegionTable builds the table from caller-owned, pre-sized byte slices.
func NewRegionTable(sizes map[PoolID]int) *RegionTable {
	t := &RegionTable{regions: make(map[PoolID]*Region, len(sizes))}
	for id, size := range sizes {
		t.regions[id] = &Region{ID: id, Bytes: make([]byte, size), Handle: Invalid}
	}
	return t
}

// Region returns the named region, or nil if not present in the table.
func (t *RegionTable) Region(id PoolID) *Region {
	return t.regions[id]
}

// BindHandle records which pool handle now owns a region's bytes.
func (t *RegionTable) BindHandle(id PoolID, h Handle) {
	if r, ok := t.regions[id]; ok {
		r.Handle = h
	}
}

// CheckPointer reports which region, if any, the address of p lies inside,
// by pointer-range containment on the backing slice (spec.md §4.2).
func (t *RegionTable) CheckPointer(p []byte) (PoolID, bool) {
	if len(p) == 0 {
		return 0, false
	}
	for id, r := range t.regions {
		if within(r.Bytes, p) {
			return id, true
		}
	}
	return 0, false
}

// DescribeRanges returns a human-readable dump of every region's address
// range, for debug tooling (supplemented from the original's pointer-range
// diagnostics).
func (t *RegionTable) DescribeRanges() []string {
	out := make([]string, 0, len(t.regions))
	for id, r := range t.regions {
		base := sliceBase(r.Bytes)
		out = append(out, fmt.Sprintf("%s: base=0x%x size=%d handle=%d", id, base, len(r.Bytes), r.Handle.index))
	}
	return out
}

func within(region, p []byte) bool {
	if len(region) == 0 || len(p) == 0 {
		return false
	}
	rBase, pBase := sliceBase(region), sliceBase(p)
	return pBase >= rBase && pBase+uintptr(len(p)) <= rBase+uintptr(len(region))
}
