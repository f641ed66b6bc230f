package parcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cenkalti/backoff/v5"

	"github.com/hupe1980/parcore/internal/arena"
	"github.com/hupe1980/parcore/internal/bitset"
	"github.com/hupe1980/parcore/internal/conv"
)

// MaxSlots is the largest bound a SlotAllocator supports.
const MaxSlots = bitset.MaxBound

const (
	waitInitial = 50 * time.Microsecond
	waitMax     = time.Millisecond
)

// Slot is a claimed index together with the epoch it was claimed in.
type Slot struct {
	Index int
	Epoch uint32
}

// SlotAllocator hands out unique indices in [0, Bound) to any number of
// concurrent callers without locks. Indices are claimed from a bitset carved
// out of the runtime arena.
//
// Recycle starts a new epoch. It must only run while no Acquire, Release or
// Reserve is in flight; slots of earlier epochs are then rejected with
// ErrHeaderMismatch.
type SlotAllocator struct {
	rt        *Runtime
	buf       *arena.Buffer
	bound     uint32
	boundLog2 uint32
	pow2      bool
	logger    *Logger
}

// NewSlotAllocator creates an allocator for bound slots.
func (rt *Runtime) NewSlotAllocator(bound int) (*SlotAllocator, error) {
	if rt.closed.Load() {
		return nil, ErrClosed
	}
	b, err := conv.Bound(bound, MaxSlots)
	if err != nil {
		return nil, &ErrInvalidConfig{Field: "bound", Value: bound, cause: err}
	}

	s := &SlotAllocator{
		rt:     rt,
		bound:  b,
		logger: rt.logger.WithBound(bound),
	}

	s.boundLog2, s.pow2 = conv.Log2(b)
	if s.pow2 {
		s.buf, err = rt.arena.NewBufferLog2(s.boundLog2)
	} else {
		s.buf, err = rt.arena.NewBuffer(b)
	}
	if err != nil {
		return nil, translateError(err)
	}

	s.logger.Debug("slot allocator created", "words", s.buf.Len())
	return s, nil
}

// Bound returns the number of slots.
func (s *SlotAllocator) Bound() int {
	return int(s.bound)
}

// Used returns the number of slots currently held. Acquires in flight may be
// counted briefly.
func (s *SlotAllocator) Used() int {
	return s.buf.Used()
}

// Epoch returns the current epoch. Slots carry the epoch they were claimed in.
func (s *SlotAllocator) Epoch() uint32 {
	return s.buf.Header()
}

// Held reports whether index is currently claimed.
func (s *SlotAllocator) Held(index int) bool {
	bit, err := conv.Bit(index, s.bound)
	if err != nil {
		return false
	}
	return s.buf.Test(bit)
}

// Snapshot returns the claimed indices.
func (s *SlotAllocator) Snapshot() *roaring.Bitmap {
	return s.buf.Snapshot()
}

// Acquire claims a free slot, starting the search at a clock-derived hint so
// concurrent callers spread over the bitset. It returns ErrSlotsExhausted if
// every slot is held.
func (s *SlotAllocator) Acquire(ctx context.Context) (Slot, error) {
	return s.acquire(ctx, uint32(time.Now().UnixNano())%s.bound)
}

// AcquireAt claims a free slot, starting the search at hint.
func (s *SlotAllocator) AcquireAt(ctx context.Context, hint int) (Slot, error) {
	bit, err := conv.Bit(hint, s.bound)
	if err != nil {
		err = &ErrInvalidConfig{Field: "hint", Value: hint, cause: fmt.Errorf("%w: %w", ErrInvalidSlot, err)}
		s.rt.metrics.RecordAcquire(err)
		return Slot{}, err
	}
	return s.acquire(ctx, bit)
}

func (s *SlotAllocator) acquire(ctx context.Context, hint uint32) (Slot, error) {
	if err := s.check(ctx); err != nil {
		s.rt.metrics.RecordAcquire(err)
		return Slot{}, err
	}

	header := s.buf.Header()
	var c bitset.Claim
	if s.pow2 {
		c = bitset.AcquireBoundedLog2(s.buf.Buffer, s.boundLog2, hint, header)
	} else {
		c = bitset.AcquireBounded(s.buf.Buffer, s.bound, hint, header)
	}

	slot := Slot{Index: c.Bit, Epoch: header}
	err := translateError(c.Err())
	s.rt.metrics.RecordAcquire(err)
	s.logger.LogAcquire(ctx, slot, c.Used, err)
	if err != nil {
		return Slot{}, err
	}
	return slot, nil
}

// AcquireWait claims a free slot, backing off while every slot is held. It
// returns when a slot is claimed, ctx is done or another error occurs.
func (s *SlotAllocator) AcquireWait(ctx context.Context) (Slot, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     waitInitial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          2,
		MaxInterval:         waitMax,
	}
	return backoff.Retry(ctx, func() (Slot, error) {
		slot, err := s.Acquire(ctx)
		if err != nil && !errors.Is(err, ErrSlotsExhausted) {
			return Slot{}, backoff.Permanent(err)
		}
		return slot, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, d time.Duration) {
			s.logger.Debug("slots exhausted, backing off", "wait", d)
		}),
	)
}

// Release gives slot back. Releasing a slot twice returns
// ErrAlreadyReleased; a slot from an earlier epoch returns ErrHeaderMismatch.
func (s *SlotAllocator) Release(ctx context.Context, slot Slot) error {
	err := s.release(ctx, slot)
	s.rt.metrics.RecordRelease(err)
	if err != nil {
		s.logger.LogRelease(ctx, slot, -1, err)
	}
	return err
}

func (s *SlotAllocator) release(ctx context.Context, slot Slot) error {
	if err := s.live(); err != nil {
		return err
	}
	bit, err := conv.Bit(slot.Index, s.bound)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSlot, err)
	}
	n := bitset.Release(s.buf.Buffer, bit, slot.Epoch)
	if err := translateError(bitset.ReleaseErr(n)); err != nil {
		return err
	}
	s.logger.LogRelease(ctx, slot, n, nil)
	return nil
}

// Reserve claims a specific slot. It returns ErrSlotTaken if the slot is
// held and ErrSlotsExhausted if every slot is held.
func (s *SlotAllocator) Reserve(ctx context.Context, index int) (Slot, error) {
	slot, used, err := s.reserve(ctx, index)
	s.rt.metrics.RecordAcquire(err)
	s.logger.LogAcquire(ctx, slot, used, err)
	return slot, err
}

func (s *SlotAllocator) reserve(ctx context.Context, index int) (Slot, int, error) {
	if err := s.check(ctx); err != nil {
		return Slot{}, 0, err
	}
	bit, err := conv.Bit(index, s.bound)
	if err != nil {
		return Slot{}, 0, fmt.Errorf("%w: %w", ErrInvalidSlot, err)
	}

	header := s.buf.Header()
	n := bitset.ClaimBit(s.buf.Buffer, s.bound, bit, header)
	switch {
	case n >= 0:
		return Slot{Index: index, Epoch: header}, n, nil
	case n == bitset.CodeFull && s.buf.Test(bit):
		return Slot{}, 0, ErrSlotTaken
	default:
		return Slot{}, 0, translateError(bitset.Claim{Bit: n, Used: n}.Err())
	}
}

// Recycle clears every slot and starts a new epoch, which it returns. Slots
// claimed before are rejected with ErrHeaderMismatch. The epoch wraps after
// 32 rotations.
func (s *SlotAllocator) Recycle(ctx context.Context) (uint32, error) {
	if err := s.live(); err != nil {
		return 0, err
	}
	epoch, err := s.rt.arena.Recycle(s.buf)
	err = translateError(err)
	if err == nil {
		s.rt.metrics.RecordRecycle()
	}
	s.logger.LogRecycle(ctx, epoch, err)
	return epoch, err
}

func (s *SlotAllocator) check(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	return ctx.Err()
}

// live fails once the runtime is closed or reset after s was created.
func (s *SlotAllocator) live() error {
	if s.rt.closed.Load() {
		return ErrClosed
	}
	if s.buf.Generation() != s.rt.arena.Generation() {
		return ErrStaleAllocator
	}
	return nil
}
