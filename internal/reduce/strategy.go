package reduce

import (
	"errors"
	"fmt"

	"github.com/hupe1980/parcore/internal/device"
	"github.com/hupe1980/parcore/internal/lane"
	"github.com/hupe1980/parcore/reducer"
)

var (
	// ErrNotBitCopyable is returned when the shuffle strategy is requested
	// for a value type that owns memory.
	ErrNotBitCopyable = errors.New("reduce: value type is not bit-copyable")
	// ErrValueCount is returned for value counts the strategy cannot carry.
	ErrValueCount = errors.New("reduce: unsupported value count")
	// ErrSubgroupTooWide is returned when the unrolled shuffle cannot cover
	// the device subgroup.
	ErrSubgroupTooWide = errors.New("reduce: subgroup wider than shuffle unroll bound")
	// ErrUnknownKind is returned for an unknown strategy tag.
	ErrUnknownKind = errors.New("reduce: unknown strategy kind")
)

// Debug enables precondition checks inside the kernels. A failed check
// panics the lane, which lane.Run reports as a *lane.LaneError.
var Debug = false

// Kind selects a reduction strategy.
type Kind uint8

const (
	// KindAuto lets Select choose. It currently always resolves to
	// KindMemory: the shuffle path is slower for multi-value reductions.
	KindAuto Kind = iota
	// KindMemory reduces through workgroup scratch.
	KindMemory
	// KindShuffle reduces through subgroup register exchange.
	KindShuffle
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindMemory:
		return "memory"
	case KindShuffle:
		return "shuffle"
	default:
		return "unknown"
	}
}

// ParseKind parses a strategy name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "auto":
		return KindAuto, nil
	case "memory":
		return KindMemory, nil
	case "shuffle":
		return KindShuffle, nil
	default:
		return KindAuto, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Args are the inputs of one reduction pass, shared by every lane of a
// workgroup except Value.
type Args[T any] struct {
	// Scratch is workgroup-local memory of at least ScratchLen elements.
	Scratch []T
	// Value is the lane's contribution of ValueCount elements. The memory
	// strategy accepts nil when the caller already filled the lane's slot.
	Value []T
	// Results is the staging buffer, one slot of ValueCount elements per
	// workgroup.
	Results []T
	// DeviceResult, if set, receives the closed aggregate of a final pass
	// instead of Results[0].
	DeviceResult []T

	ValueCount int
	Reducer    reducer.Reducer[T]
	// Final marks the last pass.
	Final bool
	// MaxSize is the number of active lanes, 1 <= MaxSize <= group size.
	MaxSize int
}

// Strategy is one way to run the workgroup reduction. Every lane of the
// workgroup must call Reduce with the same Args apart from Value.
type Strategy[T any] interface {
	Kind() Kind
	// ScratchLen returns the scratch elements a workgroup needs.
	ScratchLen(cfg lane.Config, valueCount int) int
	Reduce(it *lane.Item, a Args[T])
}

// Select resolves kind into a strategy for T on the given device.
func Select[T any](kind Kind, p device.Profile, valueCount int) (Strategy[T], error) {
	if valueCount < 1 {
		return nil, fmt.Errorf("%w: %d", ErrValueCount, valueCount)
	}
	switch kind {
	case KindAuto, KindMemory:
		return Memory[T]{}, nil
	case KindShuffle:
		if !lane.BitCopyable[T]() {
			return nil, ErrNotBitCopyable
		}
		if valueCount != 1 {
			return nil, fmt.Errorf("%w: shuffle carries one value per lane, got %d", ErrValueCount, valueCount)
		}
		if p.UnrolledShuffle && p.SubgroupSize > device.ShuffleUnrollBound {
			return nil, fmt.Errorf("%w: %d > %d", ErrSubgroupTooWide, p.SubgroupSize, device.ShuffleUnrollBound)
		}
		return Shuffle[T]{Unrolled: p.UnrolledShuffle}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

func debugAssert(ok bool, format string, args ...any) {
	if !ok {
		panic(fmt.Sprintf("reduce: "+format, args...))
	}
}

func checkArgs[T any](it *lane.Item, a *Args[T], scratch int) {
	debugAssert(a.Reducer != nil, "nil reducer")
	debugAssert(a.ValueCount >= 1, "value count %d", a.ValueCount)
	debugAssert(a.MaxSize >= 1 && a.MaxSize <= it.GroupRange(), "max size %d outside [1, %d]", a.MaxSize, it.GroupRange())
	debugAssert(len(a.Scratch) >= scratch, "scratch holds %d elements, need %d", len(a.Scratch), scratch)
	if a.Final {
		dst := a.Results
		if a.DeviceResult != nil {
			dst = a.DeviceResult
		}
		debugAssert(len(dst) >= a.ValueCount, "result holds %d elements, need %d", len(dst), a.ValueCount)
	} else {
		need := (it.GroupID() + 1) * a.ValueCount
		debugAssert(len(a.Results) >= need, "staging holds %d elements, need %d", len(a.Results), need)
	}
}

// finish delivers the workgroup aggregate held in agg.
func finish[T any](it *lane.Item, a *Args[T], agg []T) {
	vc := a.ValueCount
	if !a.Final {
		g := it.GroupID()
		a.Reducer.Copy(a.Results[g*vc:(g+1)*vc], agg)
		return
	}
	a.Reducer.Final(agg)
	if a.DeviceResult != nil {
		a.Reducer.Copy(a.DeviceResult[:vc], agg)
		return
	}
	a.Reducer.Copy(a.Results[:vc], agg)
}

// activeSubgroups returns the number of subgroups holding active lanes.
func activeSubgroups(it *lane.Item, maxSize int) int {
	maxSg := it.MaxSubgroupSize()
	return min(it.NumSubgroups(), (maxSize+maxSg-1)/maxSg)
}
