package lane

import (
	"errors"
	"sync"
)

// errBarrierBroken is panicked out of Wait when a sibling lane failed. The
// launcher recovers it and reports the sibling's failure instead.
var errBarrierBroken = errors.New("lane: barrier broken")

// Barrier is a reusable rendezvous for a fixed number of lanes.
//
// Every participant must call Wait the same number of times; there is no
// partial-group synchronization.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	waiting int
	gen     uint64
	broken  bool
}

// NewBarrier creates a barrier for parties lanes.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all parties have reached the barrier. Writes made before
// Wait are visible to every participant after it returns.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		panic(errBarrierBroken)
	}

	gen := b.gen
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return
	}

	for gen == b.gen && !b.broken {
		b.cond.Wait()
	}
	if gen == b.gen {
		panic(errBarrierBroken)
	}
}

// Break releases every waiter; current and future Wait calls panic with
// errBarrierBroken.
func (b *Barrier) Break() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Parties returns the number of lanes the barrier synchronizes.
func (b *Barrier) Parties() int {
	return b.parties
}
