// Package pool reuses workgroup scratch across dispatches.
// Uses sync.Pool for automatic memory reuse.
package pool

import (
	"sync"
	"sync/atomic"
)

// DefaultMaxRetain is the default capacity above which returned scratch is
// dropped instead of pooled.
const DefaultMaxRetain = 1 << 20

// Scratch pools workgroup-local value slices of one element type.
type Scratch[T any] struct {
	pool      sync.Pool
	maxRetain int

	gets   atomic.Uint64
	allocs atomic.Uint64
}

// NewScratch creates a pool that keeps slices up to maxRetain elements.
// A non-positive maxRetain selects DefaultMaxRetain.
func NewScratch[T any](maxRetain int) *Scratch[T] {
	if maxRetain <= 0 {
		maxRetain = DefaultMaxRetain
	}
	return &Scratch[T]{maxRetain: maxRetain}
}

// Get returns a zeroed slice of length n.
func (s *Scratch[T]) Get(n int) []T {
	s.gets.Add(1)
	if p, ok := s.pool.Get().(*[]T); ok && cap(*p) >= n {
		return (*p)[:n]
	}
	s.allocs.Add(1)
	return make([]T, n)
}

// Put returns buf for reuse. The contents are cleared first so pooled
// scratch never keeps values alive.
func (s *Scratch[T]) Put(buf []T) {
	if cap(buf) == 0 || cap(buf) > s.maxRetain {
		return
	}
	buf = buf[:cap(buf)]
	clear(buf)
	s.pool.Put(&buf)
}

// Stats returns how many slices were requested and how many of those had to
// be allocated.
func (s *Scratch[T]) Stats() (gets, allocs uint64) {
	return s.gets.Load(), s.allocs.Load()
}
