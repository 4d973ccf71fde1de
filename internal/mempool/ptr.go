package mempool

import "unsafe"

// sliceBase returns the address of a byte slice's backing array, used only
// for pointer-range containment checks (check_pointer / DescribeRanges).
// The core never dereferences these addresses; they exist purely for
// diagnostics and region-membership comparisons.
func sliceBase(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
