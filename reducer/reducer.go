package reducer

import (
	"cmp"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
)

// Reducer combines per-lane values. All slices passed to a Reducer have the
// reduction's value count as length.
type Reducer[T any] interface {
	// Join folds src into dst.
	Join(dst, src []T)
	// Final transforms the aggregate of the last pass in place.
	Final(v []T)
	// Copy writes src into dst.
	Copy(dst, src []T)
}

// Number is any built-in integer or floating point type.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// plain implements Final and Copy for values without owned memory.
type plain[T any] struct{}

func (plain[T]) Final([]T) {}

func (plain[T]) Copy(dst, src []T) { copy(dst, src) }

// Sum adds values elementwise.
type Sum[T Number] struct{ plain[T] }

// Join implements Reducer.
func (Sum[T]) Join(dst, src []T) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Prod multiplies values elementwise.
type Prod[T Number] struct{ plain[T] }

// Join implements Reducer.
func (Prod[T]) Join(dst, src []T) {
	for i := range dst {
		dst[i] *= src[i]
	}
}

// Min keeps the elementwise minimum.
type Min[T cmp.Ordered] struct{ plain[T] }

// Join implements Reducer.
func (Min[T]) Join(dst, src []T) {
	for i := range dst {
		dst[i] = min(dst[i], src[i])
	}
}

// Max keeps the elementwise maximum.
type Max[T cmp.Ordered] struct{ plain[T] }

// Join implements Reducer.
func (Max[T]) Join(dst, src []T) {
	for i := range dst {
		dst[i] = max(dst[i], src[i])
	}
}

// Range is a closed interval of observed values.
type Range[T cmp.Ordered] struct {
	Lo, Hi T
}

// RangeOf returns the degenerate range holding only v.
func RangeOf[T cmp.Ordered](v T) Range[T] { return Range[T]{Lo: v, Hi: v} }

// MinMax merges ranges.
type MinMax[T cmp.Ordered] struct{ plain[Range[T]] }

// Join implements Reducer.
func (MinMax[T]) Join(dst, src []Range[T]) {
	for i := range dst {
		dst[i].Lo = min(dst[i].Lo, src[i].Lo)
		dst[i].Hi = max(dst[i].Hi, src[i].Hi)
	}
}

// Mean accumulates a running sum and count. Final leaves the mean in Sum and
// resets Count to 1.
type Mean struct{ plain[MeanState] }

// MeanState is the value type of Mean.
type MeanState struct {
	Sum   float64
	Count float64
}

// MeanOf returns the state of a single observation.
func MeanOf(v float64) MeanState { return MeanState{Sum: v, Count: 1} }

// Join implements Reducer.
func (Mean) Join(dst, src []MeanState) {
	for i := range dst {
		dst[i].Sum += src[i].Sum
		dst[i].Count += src[i].Count
	}
}

// Final implements Reducer.
func (Mean) Final(v []MeanState) {
	for i := range v {
		if v[i].Count != 0 {
			v[i].Sum /= v[i].Count
			v[i].Count = 1
		}
	}
}

// Func adapts a binary combine function into an elementwise Reducer.
type Func[T any] struct {
	plain[T]
	Combine func(a, b T) T
}

// Join implements Reducer.
func (f Func[T]) Join(dst, src []T) {
	for i := range dst {
		dst[i] = f.Combine(dst[i], src[i])
	}
}

// BitUnion ors bitsets. Copy clones, so results never alias lane inputs.
// A nil element stands for the empty set.
type BitUnion struct{}

// Join implements Reducer.
func (BitUnion) Join(dst, src []*bitset.BitSet) {
	for i := range dst {
		switch {
		case src[i] == nil:
		case dst[i] == nil:
			dst[i] = src[i].Clone()
		default:
			dst[i].InPlaceUnion(src[i])
		}
	}
}

// Final implements Reducer.
func (BitUnion) Final(v []*bitset.BitSet) {
	for _, b := range v {
		if b != nil {
			b.Compact()
		}
	}
}

// Copy implements Reducer.
func (BitUnion) Copy(dst, src []*bitset.BitSet) {
	for i := range dst {
		if src[i] == nil {
			dst[i] = nil
			continue
		}
		dst[i] = src[i].Clone()
	}
}

// RoaringUnion ors roaring bitmaps. A nil element stands for the empty set.
type RoaringUnion struct{}

// Join implements Reducer.
func (RoaringUnion) Join(dst, src []*roaring.Bitmap) {
	for i := range dst {
		switch {
		case src[i] == nil:
		case dst[i] == nil:
			dst[i] = src[i].Clone()
		default:
			dst[i].Or(src[i])
		}
	}
}

// Final implements Reducer.
func (RoaringUnion) Final(v []*roaring.Bitmap) {
	for _, b := range v {
		if b != nil {
			b.RunOptimize()
		}
	}
}

// Copy implements Reducer.
func (RoaringUnion) Copy(dst, src []*roaring.Bitmap) {
	for i := range dst {
		if src[i] == nil {
			dst[i] = nil
			continue
		}
		dst[i] = src[i].Clone()
	}
}

var (
	_ Reducer[int]             = Sum[int]{}
	_ Reducer[float64]         = Prod[float64]{}
	_ Reducer[string]          = Min[string]{}
	_ Reducer[uint8]           = Max[uint8]{}
	_ Reducer[Range[int]]      = MinMax[int]{}
	_ Reducer[MeanState]       = Mean{}
	_ Reducer[*bitset.BitSet]  = BitUnion{}
	_ Reducer[*roaring.Bitmap] = RoaringUnion{}
)
