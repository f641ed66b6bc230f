package bitset

import (
	"errors"
	"math/bits"
)

// Result codes shared by every bitset operation. They are plain integers so the
// hot path never allocates.
const (
	// CodeFull means every bit within the bound is claimed (acquire), or the bit
	// was not set (release).
	CodeFull = -1
	// CodeHeaderMismatch means the caller's header differs from the buffer's.
	CodeHeaderMismatch = -2
	// CodeInvalid means the arguments were rejected before touching the buffer.
	CodeInvalid = -3
)

var (
	// ErrFull is returned when no bit is left within the bound.
	ErrFull = errors.New("bitset: full")
	// ErrHeaderMismatch is returned when the buffer belongs to another epoch.
	ErrHeaderMismatch = errors.New("bitset: header mismatch")
	// ErrInvalidArgument is returned for an out-of-range bound, hint or header.
	ErrInvalidArgument = errors.New("bitset: invalid argument")
	// ErrAlreadyReleased is returned when releasing a bit that is not set.
	ErrAlreadyReleased = errors.New("bitset: already released")
)

// Claim is the outcome of an acquire. On success Bit is the claimed bit and Used
// the used count including it. On failure both fields hold the same negative code.
type Claim struct {
	Bit  int
	Used int
}

// OK reports whether the claim succeeded.
func (c Claim) OK() bool {
	return c.Bit >= 0
}

// Err maps a failed claim to its sentinel error, or nil on success.
func (c Claim) Err() error {
	switch c.Bit {
	case CodeFull:
		return ErrFull
	case CodeHeaderMismatch:
		return ErrHeaderMismatch
	case CodeInvalid:
		return ErrInvalidArgument
	}
	return nil
}

// ReleaseErr maps the result of Release or Set to a sentinel error, or nil for a
// non-negative used count.
func ReleaseErr(n int) error {
	switch {
	case n >= 0:
		return nil
	case n == CodeFull:
		return ErrAlreadyReleased
	case n == CodeHeaderMismatch:
		return ErrHeaderMismatch
	default:
		return ErrInvalidArgument
	}
}

func failed(code int) Claim {
	return Claim{Bit: code, Used: code}
}

// reserve bumps the used count and checks header and bound against the value it
// replaced. Two fetch-adds avoid a CAS loop at the price of a spurious "full"
// when a release lands between the increment and the undo.
func (b *Buffer) reserve(bound, header uint32) (uint32, int) {
	state := b.words[0].Add(1) - 1

	mismatch := header<<stateShift != state&stateHeaderMask
	used := state & stateUsedMask

	if mismatch || bound <= used {
		b.words[0].Add(^uint32(0))
		if mismatch {
			return 0, CodeHeaderMismatch
		}
		return 0, CodeFull
	}
	return used, 0
}

// AcquireBoundedLog2 claims any clear bit below 1<<boundLog2.
//
// hint selects where the scan starts; a value derived from a clock or goroutine
// id spreads contenders across words. It is masked into the bound. header must
// match the header stored in the buffer.
func AcquireBoundedLog2(b *Buffer, boundLog2, hint, header uint32) Claim {
	if boundLog2 > MaxBoundLog2 || header > MaxHeader {
		return failed(CodeInvalid)
	}
	bound := uint32(1) << boundLog2
	if bound < hint || BufferBoundLog2(boundLog2) > len(b.words) {
		return failed(CodeInvalid)
	}
	wordCount := bound >> bitsPerWordLog2

	used, code := b.reserve(bound, header)
	if code != 0 {
		return failed(code)
	}

	// The reservation must be visible before any bit is touched: a concurrent
	// release clears its bit before giving back its count.
	b.fence()

	bit := hint & (bound - 1)
	for {
		word := bit >> bitsPerWordLog2
		mask := uint32(1) << (bit & bitsPerWordMask)
		prev := b.words[word+1].Or(mask)

		if prev&mask == 0 {
			return Claim{Bit: int(bit), Used: int(used) + 1}
		}

		// Lost the race for this bit. The previous word value tells where the
		// next clear bit is.
		if prev != ^uint32(0) {
			bit = (word<<bitsPerWordLog2 | uint32(bits.TrailingZeros32(^prev))) & (bound - 1) //nolint:gosec // < 32
			continue
		}
		next := word + 1
		if next >= wordCount {
			next = 0
		}
		bit = next<<bitsPerWordLog2 | bit&bitsPerWordMask
	}
}

// AcquireBounded claims any clear bit below bound, which need not be a power of two.
//
// hint must be below bound. A successful claim is followed by an extra fence so
// the set bit is published before the caller acts on it.
func AcquireBounded(b *Buffer, bound, hint, header uint32) Claim {
	if bound > MaxBound || header > MaxHeader || bound <= hint {
		return failed(CodeInvalid)
	}
	if BufferBound(bound) > len(b.words) {
		return failed(CodeInvalid)
	}
	wordCount := (bound + bitsPerWordMask) >> bitsPerWordLog2

	used, code := b.reserve(bound, header)
	if code != 0 {
		return failed(code)
	}

	b.fence()

	// nextWord moves to the following word, keeping the in-word offset when it
	// lands inside the bound and wrapping around at the end.
	nextWord := func(word, bit uint32) uint32 {
		next := word + 1
		if next >= wordCount {
			next = 0
		}
		candidate := next<<bitsPerWordLog2 | bit&bitsPerWordMask
		if candidate >= bound {
			candidate = next << bitsPerWordLog2
		}
		return candidate
	}

	bit := hint
	for {
		word := bit >> bitsPerWordLog2
		mask := uint32(1) << (bit & bitsPerWordMask)
		prev := b.words[word+1].Or(mask)

		if prev&mask == 0 {
			b.fence()
			return Claim{Bit: int(bit), Used: int(used) + 1}
		}

		if prev != ^uint32(0) {
			bit = word<<bitsPerWordLog2 | uint32(bits.TrailingZeros32(^prev)) //nolint:gosec // < 32
			if bit < bound {
				continue
			}
		}
		bit = nextWord(word, bit)
	}
}

// headerMatches compares header with the buffer's header using a plain load.
func (b *Buffer) headerMatches(header uint32) bool {
	return header <= MaxHeader && header<<stateShift == b.words[0].Load()&stateHeaderMask
}

// Release clears a bit obtained from an acquire and returns the used count after
// the release, CodeFull if the bit was already clear, or CodeHeaderMismatch.
// Releasing a bit outside the buffer reports CodeFull.
func Release(b *Buffer, bit, header uint32) int {
	if !b.headerMatches(header) {
		return CodeHeaderMismatch
	}

	w := int(bit>>bitsPerWordLog2) + 1
	if w >= len(b.words) {
		return CodeFull
	}
	mask := uint32(1) << (bit & bitsPerWordMask)
	prev := b.words[w].And(^mask)

	if prev&mask == 0 {
		return CodeFull
	}

	// The cleared bit must be visible before the count drops.
	b.fence()

	count := b.words[0].Add(^uint32(0)) + 1

	b.fence()

	return int(count&stateUsedMask) - 1
}

// Set forces bit on outside the acquire path.
//
// If the bit was clear it is now set, the used count is left alone and CodeFull
// is returned. If the bit was already set, the used count is decremented and the
// new count is returned. A foreign header reports CodeHeaderMismatch, and so
// does a bit at or beyond Capacity: the code alone cannot tell the two apart.
// Callers that need to must compare bit against Capacity first. Neither case
// touches the buffer.
func Set(b *Buffer, bit, header uint32) int {
	if !b.headerMatches(header) {
		return CodeHeaderMismatch
	}

	w := int(bit>>bitsPerWordLog2) + 1
	if w >= len(b.words) {
		return CodeHeaderMismatch
	}
	mask := uint32(1) << (bit & bitsPerWordMask)
	prev := b.words[w].Or(mask)

	if prev&mask == 0 {
		return CodeFull
	}

	b.fence()

	count := b.words[0].Add(^uint32(0)) + 1

	return int(count&stateUsedMask) - 1
}

// ClaimBit claims one specific bit below bound through the counted path. The
// used count is reserved first, as in an acquire, so the bound and the
// acquirers' bookkeeping stay exact. It returns the used count including the
// bit, CodeFull if the bound is reached or the bit is already taken,
// CodeHeaderMismatch or CodeInvalid.
func ClaimBit(b *Buffer, bound, bit, header uint32) int {
	if bound > MaxBound || header > MaxHeader || bound <= bit {
		return CodeInvalid
	}
	if BufferBound(bound) > len(b.words) {
		return CodeInvalid
	}

	used, code := b.reserve(bound, header)
	if code != 0 {
		return code
	}

	b.fence()

	mask := uint32(1) << (bit & bitsPerWordMask)
	prev := b.words[bit>>bitsPerWordLog2+1].Or(mask)
	if prev&mask != 0 {
		b.words[0].Add(^uint32(0))
		return CodeFull
	}

	b.fence()
	return int(used) + 1
}
