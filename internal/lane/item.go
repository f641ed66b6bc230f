package lane

// subgroup is a fixed-width slice of a workgroup's lanes that can exchange
// values directly.
type subgroup struct {
	id      int
	size    int
	barrier *Barrier
	slots   [][]byte
}

// workgroup holds the lanes launched together for one dispatch.
type workgroup struct {
	id        int
	cfg       Config
	barrier   *Barrier
	subgroups []*subgroup
}

func newWorkgroup(id int, cfg Config) *workgroup {
	n := cfg.NumSubgroups()
	wg := &workgroup{
		id:        id,
		cfg:       cfg,
		barrier:   NewBarrier(cfg.GroupSize),
		subgroups: make([]*subgroup, n),
	}
	for i := range wg.subgroups {
		size := cfg.SubgroupSize
		if rest := cfg.GroupSize - i*cfg.SubgroupSize; rest < size {
			size = rest
		}
		wg.subgroups[i] = &subgroup{
			id:      i,
			size:    size,
			barrier: NewBarrier(size),
			slots:   make([][]byte, size),
		}
	}
	return wg
}

func (wg *workgroup) breakBarriers() {
	wg.barrier.Break()
	for _, sg := range wg.subgroups {
		sg.barrier.Break()
	}
}

// Item is one lane's view of its position in the launch.
type Item struct {
	localID int
	group   *workgroup
	sub     *subgroup
}

// LocalID returns the lane index within its workgroup.
func (it *Item) LocalID() int { return it.localID }

// GroupID returns the workgroup ordinal within the dispatch.
func (it *Item) GroupID() int { return it.group.id }

// GlobalID returns the lane index within the dispatch.
func (it *Item) GlobalID() int { return it.group.id*it.group.cfg.GroupSize + it.localID }

// GroupRange returns the number of lanes in the workgroup.
func (it *Item) GroupRange() int { return it.group.cfg.GroupSize }

// NumGroups returns the number of workgroups in the dispatch.
func (it *Item) NumGroups() int { return it.group.cfg.Groups }

// SubgroupID returns the subgroup ordinal within the workgroup.
func (it *Item) SubgroupID() int { return it.sub.id }

// IDInSubgroup returns the lane index within its subgroup.
func (it *Item) IDInSubgroup() int { return it.localID - it.sub.id*it.group.cfg.SubgroupSize }

// SubgroupRange returns the number of lanes in this lane's subgroup. Only the
// last subgroup can be narrower than MaxSubgroupSize.
func (it *Item) SubgroupRange() int { return it.sub.size }

// MaxSubgroupSize returns the hardware subgroup width.
func (it *Item) MaxSubgroupSize() int { return it.group.cfg.SubgroupSize }

// NumSubgroups returns the number of subgroups in the workgroup.
func (it *Item) NumSubgroups() int { return len(it.group.subgroups) }

// SubgroupBarrier waits for every lane of this subgroup.
func (it *Item) SubgroupBarrier() { it.sub.barrier.Wait() }

// GroupBarrier waits for every lane of the workgroup.
func (it *Item) GroupBarrier() { it.group.barrier.Wait() }

// ShiftLeft returns the value held by the lane delta positions higher in the
// same subgroup. Lanes whose source falls outside the subgroup get their own
// value back. Every lane of the subgroup must call ShiftLeft with the same
// delta; T must be BitCopyable.
func ShiftLeft[T any](it *Item, v T, delta int) T {
	sg := it.sub
	id := it.IDInSubgroup()

	n := Size[T]()
	if cap(sg.slots[id]) < n {
		sg.slots[id] = make([]byte, n)
	}
	sg.slots[id] = sg.slots[id][:n]
	Pack(sg.slots[id], &v)

	sg.barrier.Wait()

	out := v
	if src := id + delta; delta > 0 && src < sg.size {
		out = Unpack[T](sg.slots[src])
	}

	// Keep the slot stable until every lane has read it.
	sg.barrier.Wait()

	return out
}
