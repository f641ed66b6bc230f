package reduce

import "github.com/hupe1980/parcore/internal/lane"

// Shuffle reduces one bit-copyable value per lane through subgroup register
// exchange. Scratch only carries the subgroup partials, one element each.
type Shuffle[T any] struct {
	// Unrolled restricts the exchange to strides 1, 2, 4, 8 and 16, the set
	// some devices support. Subgroups may then be at most 32 lanes wide.
	Unrolled bool
}

// Kind implements Strategy.
func (Shuffle[T]) Kind() Kind { return KindShuffle }

// ScratchLen implements Strategy.
func (Shuffle[T]) ScratchLen(cfg lane.Config, _ int) int {
	return cfg.NumSubgroups()
}

// Reduce implements Strategy.
func (s Shuffle[T]) Reduce(it *lane.Item, a Args[T]) {
	if Debug {
		checkArgs(it, &a, it.NumSubgroups())
		debugAssert(a.ValueCount == 1, "shuffle needs value count 1, got %d", a.ValueCount)
		debugAssert(lane.BitCopyable[T](), "value type is not bit-copyable")
	}

	localID := it.LocalID()
	idInSg := it.IDInSubgroup()
	localRange := min(it.SubgroupRange(), a.MaxSize)

	var v [1]T
	if localID < a.MaxSize {
		if Debug {
			debugAssert(len(a.Value) == 1, "active lane %d has no value", localID)
		}
		a.Reducer.Copy(v[:], a.Value)
	}

	// Phase 1: every lane folds its right neighbors; lane 0 ends up with the
	// subgroup aggregate.
	upper := min(localRange-idInSg, a.MaxSize-localID)
	s.exchange(it, localRange, &v, func(stride int) bool { return stride < upper }, a.Reducer.Join)

	nActive := activeSubgroups(it, a.MaxSize)
	sgID := it.SubgroupID()
	if idInSg == 0 && sgID < nActive {
		a.Reducer.Copy(a.Scratch[sgID:sgID+1], v[:])
	}
	it.GroupBarrier()

	if sgID != 0 {
		return
	}

	// Phase 2 in subgroup 0 over the partials.
	src := idInSg
	if src >= nActive {
		src = 0
	}
	var sv [1]T
	a.Reducer.Copy(sv[:], a.Scratch[src:src+1])

	if nActive > localRange {
		for offset := localRange; offset < nActive; offset += localRange {
			if idInSg+offset < nActive {
				a.Reducer.Join(sv[:], a.Scratch[idInSg+offset:idInSg+offset+1])
			}
		}
		it.SubgroupBarrier()
	}

	n := min(nActive, localRange)
	s.exchange(it, localRange, &sv, func(stride int) bool { return idInSg+stride < n }, a.Reducer.Join)

	if idInSg == 0 {
		finish(it, &a, sv[:])
	}
}

// exchange runs the doubling strides over the subgroup. Every lane of the
// subgroup takes part in each shift; join only happens where inBounds holds.
func (s Shuffle[T]) exchange(it *lane.Item, localRange int, v *[1]T, inBounds func(stride int) bool, join func(dst, src []T)) {
	step := func(stride int) {
		if stride >= localRange {
			return
		}
		tmp := lane.ShiftLeft(it, *v, stride)
		if inBounds(stride) {
			join(v[:], tmp[:])
		}
	}

	if s.Unrolled {
		if Debug {
			debugAssert(localRange <= 32, "subgroup range %d exceeds unrolled strides", localRange)
		}
		step(1)
		step(2)
		step(4)
		step(8)
		step(16)
		return
	}
	for stride := 1; stride < localRange; stride <<= 1 {
		step(stride)
	}
}
