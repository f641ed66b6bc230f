package reduce

import "github.com/hupe1980/parcore/internal/lane"

// Memory reduces through per-lane slots of ValueCount elements in workgroup
// scratch. Slot i starts at Scratch[i*ValueCount].
type Memory[T any] struct{}

// Kind implements Strategy.
func (Memory[T]) Kind() Kind { return KindMemory }

// ScratchLen implements Strategy.
func (Memory[T]) ScratchLen(cfg lane.Config, valueCount int) int {
	return cfg.GroupSize * valueCount
}

// Reduce implements Strategy.
func (Memory[T]) Reduce(it *lane.Item, a Args[T]) {
	vc := a.ValueCount
	if Debug {
		checkArgs(it, &a, it.GroupRange()*vc)
	}

	slot := func(i int) []T { return a.Scratch[i*vc : (i+1)*vc : (i+1)*vc] }

	localID := it.LocalID()
	if a.Value != nil && localID < a.MaxSize {
		a.Reducer.Copy(slot(localID), a.Value)
	}
	it.GroupBarrier()

	// Phase 1: fold each subgroup into its first lane. Only lanes on the
	// stride's tree join so no slot is read while it is written.
	idInSg := it.IDInSubgroup()
	localRange := min(it.SubgroupRange(), a.MaxSize)
	upper := min(localRange-idInSg, a.MaxSize-localID)
	for stride := 1; stride < localRange; stride <<= 1 {
		if idInSg%(stride<<1) == 0 && stride < upper {
			a.Reducer.Join(slot(localID), slot(localID+stride))
		}
		it.SubgroupBarrier()
	}
	it.GroupBarrier()

	if it.SubgroupID() != 0 {
		return
	}

	// Phase 2: subgroup 0 folds the partials, which sit in the slot of each
	// subgroup's first lane.
	maxSg := it.MaxSubgroupSize()
	partial := func(sg int) []T { return slot(sg * maxSg) }
	nActive := activeSubgroups(it, a.MaxSize)

	if idInSg < localRange {
		for offset := localRange; offset < nActive; offset += localRange {
			if idInSg+offset < nActive {
				a.Reducer.Join(partial(idInSg), partial(idInSg+offset))
			}
		}
	}
	it.SubgroupBarrier()

	n := min(nActive, localRange)
	for stride := 1; stride < localRange; stride <<= 1 {
		if idInSg%(stride<<1) == 0 && idInSg+stride < n {
			a.Reducer.Join(partial(idInSg), partial(idInSg+stride))
		}
		it.SubgroupBarrier()
	}

	if idInSg == 0 {
		finish(it, &a, partial(0))
	}
}
