package arena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/parcore/internal/bitset"
)

// MemoryAcquirer is an interface for acquiring memory.
type MemoryAcquirer interface {
	AcquireMemory(amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrMaxChunksExceeded is returned when the arena exceeds the maximum number of chunks.
	ErrMaxChunksExceeded = errors.New("arena: max chunks exceeded")
	// ErrClosed is returned when allocating from a freed arena.
	ErrClosed = errors.New("arena: closed")
	// ErrStaleBuffer is returned for buffers carved before the last Reset or Free.
	ErrStaleBuffer = errors.New("arena: stale buffer")
)

const (
	// DefaultChunkWords is the default chunk size in 32-bit words (256 KiB).
	DefaultChunkWords = 64 * 1024
	// MaxChunks limits the number of chunks to prevent excessive memory usage.
	MaxChunks = 4096

	wordBytes = 4
)

// Stats tracks arena memory usage metrics.
//
// Note on semantics:
//   - WordsReserved: words held in chunks
//   - WordsUsed: words handed out since the last Reset
//   - ActiveChunks: number of chunks currently held
//   - TotalAllocs: cumulative allocation count
//   - Recycles: cumulative header rotations
type Stats struct {
	ChunksAllocated uint64 // Historical: total chunks ever created
	WordsReserved   uint64
	WordsUsed       uint64
	ActiveChunks    uint64
	TotalAllocs     uint64 // Historical
	Recycles        uint64 // Historical
}

type atomicStats struct {
	ChunksAllocated atomic.Uint64
	WordsReserved   atomic.Uint64
	WordsUsed       atomic.Uint64
	ActiveChunks    atomic.Uint64
	TotalAllocs     atomic.Uint64
	Recycles        atomic.Uint64
}

type chunk struct {
	words  []atomic.Uint32
	offset atomic.Int64 // MUST be atomic - accessed concurrently without locks
}

// Arena is a word arena for bitset buffers.
type Arena struct {
	chunkWords int
	mu         sync.Mutex
	chunks     []*chunk // protected by mu
	current    atomic.Pointer[chunk]
	stats      atomicStats
	generation atomic.Uint32 // Generation counter to detect stale buffers
	acquirer   MemoryAcquirer
}

// Option is a configuration option for Arena.
type Option func(*Arena)

// WithMemoryAcquirer sets the memory acquirer for the arena.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// New creates a new Arena with chunks of chunkWords words.
func New(chunkWords int, opts ...Option) (*Arena, error) {
	if chunkWords <= 0 {
		chunkWords = DefaultChunkWords
	}

	a := &Arena{chunkWords: chunkWords}
	for _, opt := range opts {
		opt(a)
	}

	// Initialize generation to 1 so 0 is invalid
	a.generation.Store(1)

	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.allocateChunkLocked(chunkWords)
	if err != nil {
		return nil, err
	}
	a.current.Store(c)
	return a, nil
}

// Generation returns the current generation of the arena.
func (a *Arena) Generation() uint32 {
	return a.generation.Load()
}

// ChunkWords returns the chunk size in words.
func (a *Arena) ChunkWords() int {
	return a.chunkWords
}

func (a *Arena) allocateChunkLocked(words int) (*chunk, error) {
	if len(a.chunks) >= MaxChunks {
		return nil, ErrMaxChunksExceeded
	}

	if a.acquirer != nil {
		if err := a.acquirer.AcquireMemory(int64(words) * wordBytes); err != nil {
			return nil, fmt.Errorf("arena: reserve chunk of %d words: %w", words, err)
		}
	}

	c := &chunk{words: make([]atomic.Uint32, words)}
	a.chunks = append(a.chunks, c)

	a.stats.ChunksAllocated.Add(1)
	a.stats.WordsReserved.Add(uint64(words))
	a.stats.ActiveChunks.Add(1)
	return c, nil
}

// AllocWords returns n zeroed words. The slice has capacity n.
func (a *Arena) AllocWords(n int) ([]atomic.Uint32, error) {
	if n <= 0 {
		return nil, nil
	}

	// Oversized requests get a chunk of their own; current stays put.
	if n > a.chunkWords {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.current.Load() == nil {
			return nil, ErrClosed
		}
		c, err := a.allocateChunkLocked(n)
		if err != nil {
			return nil, err
		}
		c.offset.Store(int64(n))
		a.countAlloc(n)
		return c.words[:n:n], nil
	}

	for {
		curr := a.current.Load()
		if curr == nil {
			return nil, ErrClosed
		}

		if words, ok := a.tryAllocInChunk(curr, n); ok {
			return words, nil
		}

		// Current chunk is full. Only one goroutine adds the next one.
		a.mu.Lock()
		if a.current.Load() != curr {
			a.mu.Unlock()
			continue
		}
		c, err := a.allocateChunkLocked(a.chunkWords)
		if err != nil {
			a.mu.Unlock()
			return nil, err
		}
		a.current.Store(c)
		a.mu.Unlock()
	}
}

func (a *Arena) tryAllocInChunk(curr *chunk, n int) ([]atomic.Uint32, bool) {
	for {
		old := curr.offset.Load()
		next := old + int64(n)
		if next > int64(len(curr.words)) {
			return nil, false
		}
		if curr.offset.CompareAndSwap(old, next) {
			a.countAlloc(n)
			return curr.words[old:next:next], true
		}
	}
}

func (a *Arena) countAlloc(n int) {
	a.stats.WordsUsed.Add(uint64(n))
	a.stats.TotalAllocs.Add(1)
}

// Buffer is a bitset buffer carved from the arena.
type Buffer struct {
	*bitset.Buffer
	gen uint32
}

// Generation returns the arena generation the buffer was carved in.
func (b *Buffer) Generation() uint32 {
	return b.gen
}

// NewBuffer carves a zeroed bitset buffer for bound bits carrying header 0.
func (a *Arena) NewBuffer(bound uint32) (*Buffer, error) {
	n := bitset.BufferBound(bound)
	if n == 0 {
		return nil, fmt.Errorf("arena: bound %d exceeds %d", bound, bitset.MaxBound)
	}
	return a.borrow(n)
}

// NewBufferLog2 carves a zeroed bitset buffer for 1<<boundLog2 bits.
func (a *Arena) NewBufferLog2(boundLog2 uint32) (*Buffer, error) {
	n := bitset.BufferBoundLog2(boundLog2)
	if n == 0 {
		return nil, fmt.Errorf("arena: bound log2 %d exceeds %d", boundLog2, bitset.MaxBoundLog2)
	}
	return a.borrow(n)
}

func (a *Arena) borrow(n int) (*Buffer, error) {
	gen := a.generation.Load()
	words, err := a.AllocWords(n)
	if err != nil {
		return nil, err
	}
	buf, err := bitset.Borrow(words)
	if err != nil {
		return nil, err
	}
	return &Buffer{Buffer: buf, gen: gen}, nil
}

// Recycle clears buf and moves it to the next header, wrapping after
// bitset.MaxHeader. Claims made under the old header are then rejected. It
// returns the new header.
func (a *Arena) Recycle(buf *Buffer) (uint32, error) {
	if buf.gen != a.generation.Load() {
		return 0, ErrStaleBuffer
	}
	next := (buf.Header() + 1) & bitset.MaxHeader
	if err := buf.Reset(next); err != nil {
		return 0, err
	}
	a.stats.Recycles.Add(1)
	return next, nil
}

// Stats returns the current arena statistics.
func (a *Arena) Stats() Stats {
	return Stats{
		ChunksAllocated: a.stats.ChunksAllocated.Load(),
		WordsReserved:   a.stats.WordsReserved.Load(),
		WordsUsed:       a.stats.WordsUsed.Load(),
		ActiveChunks:    a.stats.ActiveChunks.Load(),
		TotalAllocs:     a.stats.TotalAllocs.Load(),
		Recycles:        a.stats.Recycles.Load(),
	}
}

// ReservedBytes returns the memory held by chunks.
func (a *Arena) ReservedBytes() int64 {
	return int64(a.stats.WordsReserved.Load()) * wordBytes
}

// Free releases all chunks. The arena cannot be reused afterwards.
func (a *Arena) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.acquirer != nil {
		if reserved := a.stats.WordsReserved.Load(); reserved > 0 {
			a.acquirer.ReleaseMemory(int64(reserved) * wordBytes)
		}
	}

	a.generation.Add(1)
	a.chunks = nil
	a.current.Store(nil)

	a.stats.ActiveChunks.Store(0)
	a.stats.WordsReserved.Store(0)
	a.stats.WordsUsed.Store(0)
}

// Reset drops every buffer and keeps the first chunk for reuse.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.chunks) == 0 {
		return
	}

	a.generation.Add(1)

	first := a.chunks[0]
	if a.acquirer != nil {
		var extra int64
		for _, c := range a.chunks[1:] {
			extra += int64(len(c.words))
		}
		if extra > 0 {
			a.acquirer.ReleaseMemory(extra * wordBytes)
		}
	}

	// Handed-out buffers alias the chunk, so it is zeroed rather than reused
	// as is.
	for i := range first.words {
		first.words[i].Store(0)
	}
	first.offset.Store(0)

	a.chunks = a.chunks[:1:1]
	a.current.Store(first)

	a.stats.ActiveChunks.Store(1)
	a.stats.WordsReserved.Store(uint64(len(first.words)))
	a.stats.WordsUsed.Store(0)
}

// Usage returns the memory usage percentage.
func (a *Arena) Usage() float64 {
	stats := a.Stats()
	if stats.WordsReserved == 0 {
		return 0
	}
	return float64(stats.WordsUsed) / float64(stats.WordsReserved) * 100
}

func (a *Arena) String() string {
	stats := a.Stats()
	return fmt.Sprintf(
		"Arena{chunks: %d, reserved: %.2f KB, used: %.2f KB, usage: %.1f%%, allocs: %d, recycles: %d}",
		stats.ActiveChunks,
		float64(stats.WordsReserved*wordBytes)/1024,
		float64(stats.WordsUsed*wordBytes)/1024,
		a.Usage(),
		stats.TotalAllocs,
		stats.Recycles,
	)
}
