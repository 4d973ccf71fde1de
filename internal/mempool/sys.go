package mempool

// SysMalloc and SysFree are the hard-coded, cross-process system
// allocations permitted by spec.md §3 ("the only cross-process allocations
// permitted"). They always operate on SystemHandle.

// BootstrapSystemPool creates the distinguished System pool over region and
// binds it to SystemHandle. Must run once before any SysMalloc call.
func (r *Registry) BootstrapSystemPool(region []byte) (Handle, error) {
	h, err := r.CreateHandle(region)
	if err != nil {
		return Invalid, err
	}
	// The registry assigns handles in increasing order starting at 0, so the
	// first call in a freshly constructed Registry yields SystemHandle. If
	// it did not, the new pool is moved to SystemHandle's index, replacing
	// any pool registered there, and its own index is dropped.
	r.mu.Lock()
	r.pools[SystemHandle.index] = r.pools[h.index]
	if h != SystemHandle {
		delete(r.pools, h.index)
	}
	r.mu.Unlock()
	return SystemHandle, nil
}

// SysMalloc allocates from the shared System pool.
func (r *Registry) SysMalloc(n int) ([]byte, error) {
	return r.Malloc(SystemHandle, n)
}

// SysFree frees a System-pool allocation.
func (r *Registry) SysFree(p []byte) error {
	return r.Free(SystemHandle, p)
}
