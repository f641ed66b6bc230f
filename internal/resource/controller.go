package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")
	// ErrScratchLimitExceeded is returned when a single workgroup needs more
	// scratch than the whole memory limit.
	ErrScratchLimitExceeded = errors.New("workgroup scratch exceeds memory limit")
	// ErrWouldBlock is returned by NonBlocking when a limit is reached.
	ErrWouldBlock = errors.New("resource: would block")
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for arena words and workgroup scratch.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxConcurrentGroups is the number of workgroups that may run at once
	// across all dispatches. If 0, defaults to GOMAXPROCS.
	MaxConcurrentGroups int64

	// DispatchesPerSecond limits how often kernels are launched.
	// If 0, unlimited.
	DispatchesPerSecond float64

	// DispatchBurst is the number of dispatches allowed back to back.
	// If 0, defaults to 1.
	DispatchBurst int
}

// Controller manages global resources (memory, workgroups, dispatch rate).
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Workgroups
	groupSem     *semaphore.Weighted
	activeGroups atomic.Int64
	admitted     atomic.Int64

	// Dispatch
	dispatchLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentGroups <= 0 {
		cfg.MaxConcurrentGroups = int64(runtime.GOMAXPROCS(0))
	}
	if cfg.DispatchBurst <= 0 {
		cfg.DispatchBurst = 1
	}

	c := &Controller{
		cfg:      cfg,
		groupSem: semaphore.NewWeighted(cfg.MaxConcurrentGroups),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.DispatchesPerSecond > 0 {
		c.dispatchLimiter = rate.NewLimiter(rate.Limit(cfg.DispatchesPerSecond), cfg.DispatchBurst)
	}

	return c
}

// Config returns the effective limits.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AdmitGroup blocks until a workgroup slot and scratchBytes of memory are
// available. Unlike AcquireMemory it waits for memory instead of failing,
// since running workgroups give their scratch back when they finish.
func (c *Controller) AdmitGroup(ctx context.Context, scratchBytes int64) error {
	if c == nil {
		return nil
	}
	if c.memSem != nil && scratchBytes > c.cfg.MemoryLimitBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrScratchLimitExceeded, scratchBytes, c.cfg.MemoryLimitBytes)
	}

	if err := c.groupSem.Acquire(ctx, 1); err != nil {
		return err
	}

	if scratchBytes > 0 {
		if c.memSem != nil {
			if err := c.memSem.Acquire(ctx, scratchBytes); err != nil {
				c.groupSem.Release(1)
				return err
			}
		}
		c.memUsed.Add(scratchBytes)
	}

	c.activeGroups.Add(1)
	c.admitted.Add(1)
	return nil
}

// TryAdmitGroup is the non-blocking form of AdmitGroup.
func (c *Controller) TryAdmitGroup(scratchBytes int64) bool {
	if c == nil {
		return true
	}
	if !c.groupSem.TryAcquire(1) {
		return false
	}
	if err := c.AcquireMemory(scratchBytes); err != nil {
		c.groupSem.Release(1)
		return false
	}
	c.activeGroups.Add(1)
	c.admitted.Add(1)
	return true
}

// ReleaseGroup returns a workgroup slot and its scratch.
func (c *Controller) ReleaseGroup(scratchBytes int64) {
	if c == nil {
		return
	}
	c.ReleaseMemory(scratchBytes)
	c.activeGroups.Add(-1)
	c.groupSem.Release(1)
}

// ActiveGroups returns the number of admitted workgroups still running.
func (c *Controller) ActiveGroups() int64 {
	if c == nil {
		return 0
	}
	return c.activeGroups.Load()
}

// AdmittedGroups returns the number of workgroups admitted so far.
func (c *Controller) AdmittedGroups() int64 {
	if c == nil {
		return 0
	}
	return c.admitted.Load()
}

// WaitDispatch waits until the dispatch rate allows another launch.
func (c *Controller) WaitDispatch(ctx context.Context) error {
	if c == nil || c.dispatchLimiter == nil {
		return ctx.Err()
	}
	return c.dispatchLimiter.Wait(ctx)
}

// TryDispatch reports whether a launch is allowed right now, consuming a
// token if so.
func (c *Controller) TryDispatch() bool {
	if c == nil || c.dispatchLimiter == nil {
		return true
	}
	return c.dispatchLimiter.AllowN(time.Now(), 1)
}

// NonBlocking returns an admitter over c that fails with ErrWouldBlock
// instead of waiting for the dispatch rate, a workgroup slot or memory.
func (c *Controller) NonBlocking() NonBlocking {
	return NonBlocking{c: c}
}

// NonBlocking is the fail-fast view of a Controller.
type NonBlocking struct {
	c *Controller
}

// AdmitGroup admits a workgroup through TryAdmitGroup.
func (n NonBlocking) AdmitGroup(ctx context.Context, scratchBytes int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.c.TryAdmitGroup(scratchBytes) {
		return fmt.Errorf("%w: workgroup with %d scratch bytes", ErrWouldBlock, scratchBytes)
	}
	return nil
}

// ReleaseGroup returns a workgroup slot and its scratch.
func (n NonBlocking) ReleaseGroup(scratchBytes int64) {
	n.c.ReleaseGroup(scratchBytes)
}

// Dispatch takes a dispatch token if one is available right now.
func (n NonBlocking) Dispatch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.c.TryDispatch() {
		return fmt.Errorf("%w: dispatch rate", ErrWouldBlock)
	}
	return nil
}
