// Package parcore provides two parallel-execution primitives and the host
// runtime that drives them.
//
// # Slot Allocation
//
// A SlotAllocator hands out unique small integers to any number of concurrent
// callers. Claims are lock-free: one fetch-add on a state word reserves room
// under the bound, one fetch-or claims a bit.
//
//	rt, _ := parcore.New()
//	defer rt.Close()
//
//	slots, _ := rt.NewSlotAllocator(1024)
//	slot, err := slots.Acquire(ctx)
//	if errors.Is(err, parcore.ErrSlotsExhausted) {
//	    slot, err = slots.AcquireWait(ctx) // back off until a slot frees up
//	}
//	defer slots.Release(ctx, slot)
//
// Every slot carries the epoch it was claimed in. Recycle clears the
// allocator and moves it to the next epoch; releasing an older slot then
// fails with ErrHeaderMismatch instead of freeing somebody else's claim.
//
// # Reduction
//
// Reduce combines per-lane values the way an accelerator does: each
// workgroup first folds its subgroups, then the subgroup partials. Large
// inputs take several passes through a staging buffer.
//
//	sum, _ := parcore.Reduce(ctx, rt, values, reducer.Sum[float64]{}, parcore.ReduceOptions[float64]{})
//
//	// Running mean: Final divides the summed state by its count.
//	mean, _ := parcore.Reduce(ctx, rt, states, reducer.Mean{}, parcore.ReduceOptions[reducer.MeanState]{})
//
// StrategyMemory works for any value type, including values that own memory
// such as *bitset.BitSet. StrategyShuffle exchanges values between subgroup
// lanes and needs a pointer-free type with one value per lane.
//
// # Resource Control
//
// WithResourceConfig bounds the workgroups running at once, the scratch and
// arena memory they hold, and the dispatch rate:
//
//	rt, _ := parcore.New(parcore.WithResourceConfig(parcore.ResourceConfig{
//	    MemoryLimitBytes:    64 << 20,
//	    MaxConcurrentGroups: 8,
//	}))
//
// # Observability
//
// WithLogger attaches a slog-based Logger; WithMetricsCollector attaches a
// MetricsCollector such as BasicMetricsCollector.
package parcore
