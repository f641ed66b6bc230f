// Package bitset provides a lock-free bounded bitset used to hand out small
// integer slots to any number of concurrent callers.
//
// Architecture:
//   - Caller-owned word buffer: word 0 packs the used count (26 bits) and a
//     5-bit header tag, words 1.. hold the bit vector (32 bits per word)
//   - Acquire reserves a slot with one fetch-add on the state word, then claims
//     a bit with fetch-or, jumping by the trailing ones of the word it lost
//   - Release clears the bit first and gives back the count second
//   - Results are small negative codes, never allocations or panics
//
// The header is an epoch tag, not a lock: a mismatch means the buffer has been
// repurposed since the caller last looked at it.
//
// Used internally for:
//   - Slot allocation behind parcore.SlotAllocator
//   - Arena-managed buffers that rotate their header on recycle
package bitset
