// Package workload generates seeded inputs for parbench scenarios and tests.
//
//	rng := workload.NewRNG(seed)
//	vals := rng.Ints(37, -100, 100)        // lane contributions
//	hints := rng.ZipfHints(1000, 256, 1.2) // skewed slot hints
//
// All methods are safe for concurrent use.
package workload

import (
	"math"
	"math/rand"
	"sync"
)

// RNG is a seeded source of workload inputs.
type RNG struct {
	rand *rand.Rand
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed))}
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Ints returns n values in [lo, hi).
func (r *RNG) Ints(n, lo, hi int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, n)
	for i := range out {
		out[i] = lo + r.rand.Intn(hi-lo)
	}
	return out
}

// Float64s returns n values in [lo, hi).
func (r *RNG) Float64s(n int, lo, hi float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + r.rand.Float64()*(hi-lo)
	}
	return out
}

// ZipfHints returns count slot hints in [0, bound) where low slots are hot.
// Hot hints force acquirers onto the same words.
func (r *RNG) ZipfHints(count, bound int, s float64) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Harmonic weights are shared by every draw.
	cdf := make([]float64, bound)
	var hns float64
	for i := range cdf {
		hns += 1.0 / math.Pow(float64(i+1), s)
		cdf[i] = hns
	}

	hints := make([]int, count)
	for i := range hints {
		hints[i] = r.zipf(cdf)
	}
	return hints
}

// zipf draws one index by inverse transform over cdf (caller must hold lock).
func (r *RNG) zipf(cdf []float64) int {
	n := len(cdf)
	if n <= 1 {
		return 0
	}
	u := r.rand.Float64() * cdf[n-1]
	for k, c := range cdf {
		if u <= c {
			return k
		}
	}
	return n - 1
}

// UniformHints returns count slot hints spread evenly over [0, bound).
func (r *RNG) UniformHints(count, bound int) []int {
	return r.Ints(count, 0, bound)
}
