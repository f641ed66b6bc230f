package resource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	assert.Equal(t, int64(50), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	// Limit exceeded
	err := c.AcquireMemory(20)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 0})

	require.NoError(t, c.AcquireMemory(1000))
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(0))
	c.ReleaseMemory(-3)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_Defaults(t *testing.T) {
	cfg := NewController(Config{}).Config()
	assert.Positive(t, cfg.MaxConcurrentGroups)
	assert.Equal(t, 1, cfg.DispatchBurst)
}

func TestController_AdmitGroup(t *testing.T) {
	c := NewController(Config{MaxConcurrentGroups: 2, MemoryLimitBytes: 100})
	ctx := t.Context()

	require.NoError(t, c.AdmitGroup(ctx, 40))
	require.NoError(t, c.AdmitGroup(ctx, 40))
	assert.Equal(t, int64(2), c.ActiveGroups())
	assert.Equal(t, int64(80), c.MemoryUsage())

	// No slot left.
	assert.False(t, c.TryAdmitGroup(0))

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AdmitGroup(tctx, 10), context.DeadlineExceeded)

	c.ReleaseGroup(40)
	assert.Equal(t, int64(1), c.ActiveGroups())

	// Slot available, memory is not.
	assert.False(t, c.TryAdmitGroup(70))
	assert.True(t, c.TryAdmitGroup(60))
	assert.Equal(t, int64(100), c.MemoryUsage())
	assert.Equal(t, int64(3), c.AdmittedGroups())

	c.ReleaseGroup(40)
	c.ReleaseGroup(60)
	assert.Zero(t, c.MemoryUsage())
	assert.Zero(t, c.ActiveGroups())
}

func TestController_AdmitGroupWaitsForMemory(t *testing.T) {
	c := NewController(Config{MaxConcurrentGroups: 4, MemoryLimitBytes: 100})
	ctx := t.Context()

	require.NoError(t, c.AdmitGroup(ctx, 80))

	done := make(chan error, 1)
	go func() { done <- c.AdmitGroup(ctx, 50) }()

	select {
	case err := <-done:
		t.Fatalf("admitted before memory was returned: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	c.ReleaseGroup(80)
	require.NoError(t, <-done)
	assert.Equal(t, int64(50), c.MemoryUsage())
	assert.Equal(t, int64(1), c.ActiveGroups())
}

func TestController_ScratchLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})
	err := c.AdmitGroup(t.Context(), 101)
	require.ErrorIs(t, err, ErrScratchLimitExceeded)
	assert.Zero(t, c.ActiveGroups())
}

func TestController_ConcurrentAdmission(t *testing.T) {
	c := NewController(Config{MaxConcurrentGroups: 3})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int64
		peak    int64
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, c.AdmitGroup(t.Context(), 8)) {
				return
			}
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			c.ReleaseGroup(8)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, int64(3))
	assert.Equal(t, int64(32), c.AdmittedGroups())
	assert.Zero(t, c.MemoryUsage())
}

func TestController_Dispatch(t *testing.T) {
	c := NewController(Config{DispatchesPerSecond: 1, DispatchBurst: 2})

	assert.True(t, c.TryDispatch())
	assert.True(t, c.TryDispatch())
	assert.False(t, c.TryDispatch())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.WaitDispatch(ctx))

	unlimited := NewController(Config{})
	for range 100 {
		require.NoError(t, unlimited.WaitDispatch(t.Context()))
	}
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireMemory(10))
	c.ReleaseMemory(10)
	require.NoError(t, c.AdmitGroup(t.Context(), 10))
	assert.True(t, c.TryAdmitGroup(10))
	c.ReleaseGroup(10)
	require.NoError(t, c.WaitDispatch(t.Context()))
	assert.True(t, c.TryDispatch())
	assert.Zero(t, c.MemoryUsage())
	assert.Zero(t, c.MemoryLimit())
	assert.Zero(t, c.ActiveGroups())
	assert.Equal(t, Config{}, c.Config())
}

func TestController_NonBlocking(t *testing.T) {
	c := NewController(Config{MaxConcurrentGroups: 1, MemoryLimitBytes: 100, DispatchesPerSecond: 0.001, DispatchBurst: 1})
	nb := c.NonBlocking()

	require.NoError(t, nb.Dispatch(t.Context()))
	require.ErrorIs(t, nb.Dispatch(t.Context()), ErrWouldBlock)

	require.NoError(t, nb.AdmitGroup(t.Context(), 40))
	assert.Equal(t, int64(1), c.ActiveGroups())
	require.ErrorIs(t, nb.AdmitGroup(t.Context(), 0), ErrWouldBlock, "group slot taken")

	nb.ReleaseGroup(40)
	assert.Zero(t, c.ActiveGroups())
	assert.Zero(t, c.MemoryUsage())
	require.ErrorIs(t, nb.AdmitGroup(t.Context(), 200), ErrWouldBlock, "scratch over the limit")
	assert.Zero(t, c.ActiveGroups(), "failed admission holds nothing")
	assert.Equal(t, int64(1), c.AdmittedGroups())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, nb.AdmitGroup(ctx, 0), context.Canceled)
	require.ErrorIs(t, nb.Dispatch(ctx), context.Canceled)

	var nilCtl *Controller
	require.NoError(t, nilCtl.NonBlocking().AdmitGroup(t.Context(), 10))
	require.NoError(t, nilCtl.NonBlocking().Dispatch(t.Context()))
}
