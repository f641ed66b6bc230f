package parcore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/parcore/internal/arena"
	"github.com/hupe1980/parcore/internal/bitset"
	"github.com/hupe1980/parcore/internal/lane"
	"github.com/hupe1980/parcore/internal/reduce"
	"github.com/hupe1980/parcore/internal/resource"
)

var (
	// ErrClosed is returned after Runtime.Close.
	ErrClosed = errors.New("parcore: runtime closed")
	// ErrStaleAllocator is returned by slot allocators created before the
	// last Runtime.Reset.
	ErrStaleAllocator = errors.New("parcore: slot allocator outlived a reset")
	// ErrSlotsExhausted is returned when every slot below the bound is held.
	ErrSlotsExhausted = errors.New("parcore: slots exhausted")
	// ErrHeaderMismatch is returned for slots from an epoch the allocator has
	// recycled since.
	ErrHeaderMismatch = errors.New("parcore: header mismatch")
	// ErrInvalidSlot is returned for slot indices outside the bound.
	ErrInvalidSlot = errors.New("parcore: invalid slot")
	// ErrAlreadyReleased is returned when releasing a slot that is not held.
	ErrAlreadyReleased = errors.New("parcore: slot already released")
	// ErrSlotTaken is returned when reserving a held slot.
	ErrSlotTaken = errors.New("parcore: slot taken")
	// ErrEmptyInput is returned when reducing zero values.
	ErrEmptyInput = errors.New("parcore: empty input")
	// ErrKernelFailed is returned when a lane panicked during a dispatch.
	ErrKernelFailed = errors.New("parcore: kernel failed")
	// ErrCorruptDump is returned by ReadSlotDump for truncated or oversized
	// dumps.
	ErrCorruptDump = errors.New("parcore: corrupt slot dump")
	// ErrResourceExhausted is returned when the memory limit cannot hold a
	// request.
	ErrResourceExhausted = errors.New("parcore: resource exhausted")
)

// ErrInvalidConfig indicates a rejected runtime or dispatch setting.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidConfig struct {
	Field string
	Value any
	cause error
}

func (e *ErrInvalidConfig) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.cause)
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

func (e *ErrInvalidConfig) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Bitset result codes.
	switch {
	case errors.Is(err, bitset.ErrFull):
		return fmt.Errorf("%w: %w", ErrSlotsExhausted, err)
	case errors.Is(err, bitset.ErrHeaderMismatch):
		return fmt.Errorf("%w: %w", ErrHeaderMismatch, err)
	case errors.Is(err, bitset.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidSlot, err)
	case errors.Is(err, bitset.ErrAlreadyReleased):
		return fmt.Errorf("%w: %w", ErrAlreadyReleased, err)
	}

	// Dispatch failures.
	var le *lane.LaneError
	if errors.As(err, &le) {
		return fmt.Errorf("%w: %w", ErrKernelFailed, err)
	}
	if errors.Is(err, lane.ErrInvalidConfig) {
		return &ErrInvalidConfig{Field: "launch", Value: "dimensions", cause: err}
	}
	for _, strategyErr := range []error{reduce.ErrNotBitCopyable, reduce.ErrValueCount, reduce.ErrSubgroupTooWide, reduce.ErrUnknownKind} {
		if errors.Is(err, strategyErr) {
			return &ErrInvalidConfig{Field: "strategy", Value: "selection", cause: err}
		}
	}

	// Resource limits.
	if errors.Is(err, resource.ErrMemoryLimitExceeded) || errors.Is(err, resource.ErrScratchLimitExceeded) || errors.Is(err, resource.ErrWouldBlock) || errors.Is(err, arena.ErrMaxChunksExceeded) {
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	if errors.Is(err, arena.ErrStaleBuffer) {
		return fmt.Errorf("%w: %w", ErrStaleAllocator, err)
	}
	if errors.Is(err, arena.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
