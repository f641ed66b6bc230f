// Package resource implements the Controller for global limits on kernel
// dispatch.
//
// The Controller manages three resource types:
//
//   - Memory: arena words and workgroup scratch (fail-fast for the arena,
//     blocking for workgroup admission)
//   - Workgroups: how many workgroups run at once across dispatches
//   - Dispatch rate: token bucket on kernel launches
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                        Controller                           │
//	├─────────────────┬─────────────────┬─────────────────────────┤
//	│  Memory Limit   │  Workgroups     │  Dispatch Rate          │
//	│  (semaphore)    │  (semaphore)    │  (token bucket)         │
//	├─────────────────┼─────────────────┼─────────────────────────┤
//	│  AcquireMemory  │  AdmitGroup     │  WaitDispatch           │
//	│  ReleaseMemory  │  TryAdmitGroup  │  TryDispatch            │
//	│  MemoryUsage    │  ReleaseGroup   │                         │
//	└─────────────────┴─────────────────┴─────────────────────────┘
//
// # Workgroup Admission
//
// Controller implements lane.Admitter. Every workgroup holds one slot and
// its scratch bytes while its lanes run:
//
//	rc := resource.NewController(resource.Config{
//	    MaxConcurrentGroups: 8,
//	    MemoryLimitBytes:    64 << 20,
//	})
//
//	if err := rc.AdmitGroup(ctx, scratchBytes); err != nil {
//	    return err
//	}
//	defer rc.ReleaseGroup(scratchBytes)
//
// A workgroup whose scratch alone exceeds the limit is rejected with
// ErrScratchLimitExceeded instead of waiting forever.
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
