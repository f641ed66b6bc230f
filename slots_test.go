package parcore

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/parcore/internal/workload"
)

func TestNewSlotAllocator(t *testing.T) {
	rt := newTestRuntime(t)

	for _, bound := range []int{0, -1, MaxSlots + 1} {
		_, err := rt.NewSlotAllocator(bound)
		var cfgErr *ErrInvalidConfig
		require.ErrorAs(t, err, &cfgErr, "bound %d", bound)
	}

	slots, err := rt.NewSlotAllocator(40)
	require.NoError(t, err)
	assert.Equal(t, 40, slots.Bound())
	assert.Zero(t, slots.Used())
	assert.Zero(t, slots.Epoch())
	assert.False(t, slots.pow2)

	slots, err = rt.NewSlotAllocator(64)
	require.NoError(t, err)
	assert.True(t, slots.pow2)
	assert.Equal(t, uint32(6), slots.boundLog2)
}

func TestSlotAllocator_AcquireUntilExhausted(t *testing.T) {
	for _, bound := range []int{1, 40, 64, 100} {
		rt := newTestRuntime(t)
		slots, err := rt.NewSlotAllocator(bound)
		require.NoError(t, err)

		seen := make(map[int]bool)
		for i := 0; i < bound; i++ {
			slot, err := slots.Acquire(t.Context())
			require.NoError(t, err)
			require.GreaterOrEqual(t, slot.Index, 0)
			require.Less(t, slot.Index, bound)
			require.False(t, seen[slot.Index], "slot %d handed out twice", slot.Index)
			seen[slot.Index] = true
		}
		assert.Equal(t, bound, slots.Used())
		assert.Equal(t, uint64(bound), slots.Snapshot().GetCardinality())

		_, err = slots.Acquire(t.Context())
		require.ErrorIs(t, err, ErrSlotsExhausted)
		assert.Equal(t, bound, slots.Used(), "a failed acquire leaves the count alone")

		freed := Slot{Index: bound / 2}
		require.NoError(t, slots.Release(t.Context(), freed))
		assert.False(t, slots.Held(freed.Index))

		slot, err := slots.Acquire(t.Context())
		require.NoError(t, err)
		assert.Equal(t, freed.Index, slot.Index)
	}
}

func TestSlotAllocator_AcquireAt(t *testing.T) {
	rt := newTestRuntime(t)
	slots, err := rt.NewSlotAllocator(40)
	require.NoError(t, err)

	slot, err := slots.AcquireAt(t.Context(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, slot.Index)

	// A lost bit restarts at the lowest clear bit of its word.
	slot, err = slots.AcquireAt(t.Context(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, slot.Index)

	slot, err = slots.AcquireAt(t.Context(), 39)
	require.NoError(t, err)
	assert.Equal(t, 39, slot.Index)

	for want := 32; want < 39; want++ {
		slot, err = slots.AcquireAt(t.Context(), 39)
		require.NoError(t, err)
		assert.Equal(t, want, slot.Index)
	}

	// The last word is full below the bound: the scan wraps to the first
	// word and keeps its offset.
	slot, err = slots.AcquireAt(t.Context(), 39)
	require.NoError(t, err)
	assert.Equal(t, 8, slot.Index)

	for _, hint := range []int{-1, 40} {
		_, err = slots.AcquireAt(t.Context(), hint)
		require.ErrorIs(t, err, ErrInvalidSlot)
	}
}

func TestSlotAllocator_Concurrent(t *testing.T) {
	const (
		bound   = 512
		workers = 16
		rounds  = 200
	)
	metrics := &BasicMetricsCollector{}
	rt := newTestRuntime(t, WithMetricsCollector(metrics))
	slots, err := rt.NewSlotAllocator(bound)
	require.NoError(t, err)

	rng := workload.NewRNG(42)
	hints := rng.ZipfHints(workers*rounds, bound, 1.2)

	var (
		mu    sync.Mutex
		owner = make(map[int]int)
		wg    sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				slot, err := slots.AcquireAt(context.Background(), hints[w*rounds+r])
				if !assert.NoError(t, err) {
					return
				}

				mu.Lock()
				if prev, ok := owner[slot.Index]; ok {
					t.Errorf("slot %d held by %d and %d", slot.Index, prev, w)
				}
				owner[slot.Index] = w
				mu.Unlock()

				mu.Lock()
				delete(owner, slot.Index)
				mu.Unlock()

				assert.NoError(t, slots.Release(context.Background(), slot))
			}
		}(w)
	}
	wg.Wait()

	assert.Zero(t, slots.Used())
	stats := metrics.GetStats()
	assert.Equal(t, int64(workers*rounds), stats.AcquireCount)
	assert.Equal(t, int64(workers*rounds), stats.ReleaseCount)
	assert.Zero(t, stats.AcquireErrors+stats.ReleaseErrors)
}

func TestSlotAllocator_ConcurrentExhaust(t *testing.T) {
	const bound = 100
	rt := newTestRuntime(t)
	slots, err := rt.NewSlotAllocator(bound)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				slot, err := slots.Acquire(context.Background())
				if err != nil {
					assert.ErrorIs(t, err, ErrSlotsExhausted)
					return
				}
				mu.Lock()
				got = append(got, slot.Index)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, got, bound)
	unique := make(map[int]struct{}, len(got))
	for _, i := range got {
		unique[i] = struct{}{}
	}
	assert.Len(t, unique, bound)
	assert.Equal(t, bound, slots.Used())
}

func TestSlotAllocator_Release(t *testing.T) {
	rt := newTestRuntime(t)
	slots, err := rt.NewSlotAllocator(16)
	require.NoError(t, err)

	slot, err := slots.Acquire(t.Context())
	require.NoError(t, err)
	require.True(t, slots.Held(slot.Index))

	require.NoError(t, slots.Release(t.Context(), slot))
	require.ErrorIs(t, slots.Release(t.Context(), slot), ErrAlreadyReleased)
	assert.Zero(t, slots.Used())

	require.ErrorIs(t, slots.Release(t.Context(), Slot{Index: 16}), ErrInvalidSlot)
	require.ErrorIs(t, slots.Release(t.Context(), Slot{Index: -1}), ErrInvalidSlot)
	require.ErrorIs(t, slots.Release(t.Context(), Slot{Index: 0, Epoch: 3}), ErrHeaderMismatch)
	assert.False(t, slots.Held(-1))
}

func TestSlotAllocator_Reserve(t *testing.T) {
	rt := newTestRuntime(t)
	slots, err := rt.NewSlotAllocator(10)
	require.NoError(t, err)

	reserved, err := slots.Reserve(t.Context(), 5)
	require.NoError(t, err)
	assert.Equal(t, Slot{Index: 5}, reserved)
	assert.Equal(t, 1, slots.Used())

	_, err = slots.Reserve(t.Context(), 5)
	require.ErrorIs(t, err, ErrSlotTaken)
	assert.Equal(t, 1, slots.Used())

	_, err = slots.Reserve(t.Context(), 10)
	require.ErrorIs(t, err, ErrInvalidSlot)

	for i := 0; i < 9; i++ {
		slot, err := slots.Acquire(t.Context())
		require.NoError(t, err)
		assert.NotEqual(t, 5, slot.Index)
	}
	_, err = slots.Acquire(t.Context())
	require.ErrorIs(t, err, ErrSlotsExhausted)

	require.NoError(t, slots.Release(t.Context(), reserved))
	slot, err := slots.Acquire(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5, slot.Index)
}

func TestSlotAllocator_Recycle(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	rt := newTestRuntime(t, WithMetricsCollector(metrics))
	slots, err := rt.NewSlotAllocator(8)
	require.NoError(t, err)

	stale, err := slots.Acquire(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stale.Epoch)

	epoch, err := slots.Recycle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), epoch)
	assert.Equal(t, uint32(1), slots.Epoch())
	assert.Zero(t, slots.Used())

	require.ErrorIs(t, slots.Release(t.Context(), stale), ErrHeaderMismatch)

	fresh, err := slots.AcquireAt(t.Context(), stale.Index)
	require.NoError(t, err)
	assert.Equal(t, Slot{Index: stale.Index, Epoch: 1}, fresh)
	require.NoError(t, slots.Release(t.Context(), fresh))

	for i := 0; i < 31; i++ {
		_, err = slots.Recycle(t.Context())
		require.NoError(t, err)
	}
	assert.Zero(t, slots.Epoch(), "epoch wraps after 32 rotations")
	assert.Equal(t, int64(32), metrics.GetStats().RecycleCount)
}

func TestSlotAllocator_AcquireWait(t *testing.T) {
	rt := newTestRuntime(t)
	slots, err := rt.NewSlotAllocator(1)
	require.NoError(t, err)

	held, err := slots.Acquire(t.Context())
	require.NoError(t, err)

	t.Run("Timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Millisecond)
		defer cancel()
		_, err := slots.AcquireWait(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Released", func(t *testing.T) {
		go func() {
			time.Sleep(2 * time.Millisecond)
			_ = slots.Release(context.Background(), held)
		}()

		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()
		slot, err := slots.AcquireWait(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, slot.Index)
	})
}

func TestSlotAllocator_AcquireWaitStopsOnOtherErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt := newTestRuntime(t, WithLogger(logger))

	slots, err := rt.NewSlotAllocator(1)
	require.NoError(t, err)
	_, err = slots.Acquire(t.Context())
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		time.Sleep(3 * time.Millisecond)
		_ = rt.Close()
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, err = slots.AcquireWait(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, ctx.Err(), "closing ends the wait, not the deadline")

	<-closed
	assert.Contains(t, buf.String(), "slots exhausted, backing off")
}

func TestSlotAllocator_CanceledContext(t *testing.T) {
	rt := newTestRuntime(t)
	slots, err := rt.NewSlotAllocator(4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = slots.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	_, err = slots.Reserve(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, slots.Used())
}

func TestSlotAllocator_SharesArena(t *testing.T) {
	rt := newTestRuntime(t)

	var allocators []*SlotAllocator
	for i := 0; i < 20; i++ {
		s, err := rt.NewSlotAllocator(1000)
		require.NoError(t, err)
		allocators = append(allocators, s)
	}

	// 20 buffers of 33 words spill out of the first 256-word chunk.
	stats := rt.ArenaStats()
	assert.Equal(t, uint64(20), stats.TotalAllocs)
	assert.Greater(t, stats.ChunksAllocated, uint64(1))

	for i, s := range allocators {
		slot, err := s.AcquireAt(t.Context(), i)
		require.NoError(t, err)
		assert.Equal(t, i, slot.Index)
		assert.Equal(t, 1, s.Used())
	}
}
