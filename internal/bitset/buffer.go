package bitset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// bitsPerWordLog2 is log2 of the bits held by one buffer word.
	bitsPerWordLog2 = 5
	bitsPerWord     = 1 << bitsPerWordLog2
	bitsPerWordMask = bitsPerWord - 1

	// MaxBoundLog2 is the largest supported bound exponent (33M bits, 1 MiB of words).
	// It leaves enough headroom in the 26-bit used count that ~33M racing acquires
	// on a full buffer cannot overflow into the header.
	MaxBoundLog2 = 25
	// MaxBound is the largest supported bound.
	MaxBound = 1 << MaxBoundLog2

	// stateShift is the offset of the header inside the state word.
	stateShift      = 26
	stateUsedMask   = (1 << stateShift) - 1
	stateHeaderMask = uint32(0x1f) << stateShift

	// MaxHeader is the largest header tag that fits the state word.
	MaxHeader = 0x1f
)

// ErrShortBuffer is returned when a borrowed word slice cannot hold the state word.
var ErrShortBuffer = errors.New("bitset: buffer shorter than required")

// BufferBoundLog2 returns the number of words required for a bitset of 1<<boundLog2 bits.
// It returns 0 if boundLog2 exceeds MaxBoundLog2.
func BufferBoundLog2(boundLog2 uint32) int {
	if boundLog2 > MaxBoundLog2 {
		return 0
	}
	if boundLog2 <= bitsPerWordLog2 {
		return 2
	}
	return 1 + (1 << (boundLog2 - bitsPerWordLog2))
}

// BufferBound returns the number of words required for a bitset of bound bits.
// It returns 0 if bound exceeds MaxBound.
func BufferBound(bound uint32) int {
	if bound > MaxBound {
		return 0
	}
	n := 1 + int(bound>>bitsPerWordLog2)
	if bound&bitsPerWordMask != 0 {
		n++
	}
	return n
}

// Buffer is a borrowed view over the words backing a concurrent bitset.
//
// Word 0 holds the state: the used count in the low 26 bits and the header tag
// in bits 26..30. Words 1.. form a flat bit vector. The buffer never grows; the
// owner must size it with BufferBound or BufferBoundLog2.
//
// All mutation goes through atomic operations, so a Buffer may be shared by any
// number of goroutines without further synchronization.
type Buffer struct {
	words  []atomic.Uint32
	fences atomic.Uint64
}

// New allocates a zeroed buffer large enough for bound bits.
func New(bound uint32) (*Buffer, error) {
	n := BufferBound(bound)
	if n == 0 {
		return nil, fmt.Errorf("bitset: bound %d exceeds %d", bound, MaxBound)
	}
	return &Buffer{words: make([]atomic.Uint32, n)}, nil
}

// Borrow wraps caller-owned words. The slice must hold at least BufferBound(bound)
// words for every bound the buffer is later used with; operations on a bound the
// slice cannot cover report an invalid-argument code instead of reading past it.
func Borrow(words []atomic.Uint32) (*Buffer, error) {
	if len(words) < 2 {
		return nil, ErrShortBuffer
	}
	return &Buffer{words: words}, nil
}

// Len returns the number of words including the state word.
func (b *Buffer) Len() int {
	return len(b.words)
}

// Capacity returns the number of bits the bit vector can address.
func (b *Buffer) Capacity() uint32 {
	return uint32(len(b.words)-1) << bitsPerWordLog2 //nolint:gosec // bounded by MaxBound words
}

// Reset clears every bit and stores a fresh state word carrying header.
// It must not race with acquire or release calls.
func (b *Buffer) Reset(header uint32) error {
	if header > MaxHeader {
		return fmt.Errorf("bitset: header %d exceeds %d", header, MaxHeader)
	}
	for i := 1; i < len(b.words); i++ {
		b.words[i].Store(0)
	}
	b.words[0].Store(header << stateShift)
	return nil
}

// Header returns the current header tag.
func (b *Buffer) Header() uint32 {
	return (b.words[0].Load() & stateHeaderMask) >> stateShift
}

// Used returns the current used count.
func (b *Buffer) Used() int {
	return int(b.words[0].Load() & stateUsedMask)
}

// Fences returns how many memory fences the bitset protocol has issued on this buffer.
func (b *Buffer) Fences() uint64 {
	return b.fences.Load()
}

// Test reports whether bit is currently set.
func (b *Buffer) Test(bit uint32) bool {
	w := int(bit>>bitsPerWordLog2) + 1
	if w >= len(b.words) {
		return false
	}
	return b.words[w].Load()&(1<<(bit&bitsPerWordMask)) != 0
}

// Count returns the population count of the bit vector.
func (b *Buffer) Count() int {
	n := 0
	for i := 1; i < len(b.words); i++ {
		n += bits.OnesCount32(b.words[i].Load())
	}
	return n
}

// Snapshot copies the set bits into a roaring bitmap.
// The copy is not atomic with respect to concurrent mutation.
func (b *Buffer) Snapshot() *roaring.Bitmap {
	rb := roaring.New()
	for i := 1; i < len(b.words); i++ {
		w := b.words[i].Load()
		base := uint32(i-1) << bitsPerWordLog2 //nolint:gosec // bounded by MaxBound words
		for w != 0 {
			rb.Add(base + uint32(bits.TrailingZeros32(w)))
			w &= w - 1
		}
	}
	return rb
}

// fence orders the preceding atomic operations before the following ones.
// Every atomic read-modify-write in Go is sequentially consistent, so the counter
// increment itself acts as the full barrier.
func (b *Buffer) fence() {
	b.fences.Add(1)
}

// WriteTo writes the word count followed by every word in little-endian order.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b.words))); err != nil { //nolint:gosec // bounded by MaxBound words
		return 0, err
	}
	n := int64(4)
	for i := range b.words {
		if err := binary.Write(w, binary.LittleEndian, b.words[i].Load()); err != nil {
			return n, err
		}
		n += 4
	}
	return n, nil
}

// ReadFrom restores words written by WriteTo. The stored word count must not
// exceed the buffer length; surplus buffer words are cleared.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, err
	}
	n := int64(4)
	if int(count) > len(b.words) {
		return n, fmt.Errorf("%w: stored %d words, have %d", ErrShortBuffer, count, len(b.words))
	}
	for i := 0; i < int(count); i++ {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return n, err
		}
		b.words[i].Store(v)
		n += 4
	}
	for i := int(count); i < len(b.words); i++ {
		b.words[i].Store(0)
	}
	return n, nil
}
