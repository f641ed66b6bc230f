package parcore

// Close releases the arena behind every slot allocator of rt. Allocators and
// reductions fail with ErrClosed afterwards. Close is idempotent.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	summary := rt.arena.String()
	rt.arena.Free()
	rt.logger.Info("runtime closed", "profile", rt.profile.String(), "arena", summary)
	return nil
}

// Reset drops every slot allocator created so far and returns the arena to
// its first chunk. Dropped allocators fail with ErrStaleAllocator. Reset must
// not run concurrently with slot operations.
func (rt *Runtime) Reset() error {
	if rt.closed.Load() {
		return ErrClosed
	}
	rt.arena.Reset()
	rt.logger.Info("runtime reset", "arena", rt.arena.String())
	return nil
}
