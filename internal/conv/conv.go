package conv

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// ErrOutOfRange is returned when a value does not fit its target range.
var ErrOutOfRange = errors.New("conv: value out of range")

// Bound converts a positive count of at most maxBound to uint32.
func Bound(n, maxBound int) (uint32, error) {
	if n < 1 || n > maxBound || uint64(n) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: bound %d outside [1, %d]", ErrOutOfRange, n, maxBound)
	}
	return uint32(n), nil
}

// Bit converts an index below bound to a bit position.
func Bit(index int, bound uint32) (uint32, error) {
	if index < 0 || uint64(index) >= uint64(bound) {
		return 0, fmt.Errorf("%w: index %d outside [0, %d)", ErrOutOfRange, index, bound)
	}
	return uint32(index), nil
}

// Log2 returns the exponent of n if n is a power of two.
func Log2(n uint32) (uint32, bool) {
	if n == 0 || n&(n-1) != 0 {
		return 0, false
	}
	return uint32(bits.TrailingZeros32(n)), true
}

// Bytes returns elements*size as int64, failing on overflow.
func Bytes(elements, size int) (int64, error) {
	if elements < 0 || size < 0 {
		return 0, fmt.Errorf("%w: %d elements of %d bytes", ErrOutOfRange, elements, size)
	}
	hi, lo := bits.Mul64(uint64(elements), uint64(size))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d elements of %d bytes", ErrOutOfRange, elements, size)
	}
	return int64(lo), nil
}
