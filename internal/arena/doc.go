// Package arena carves bitset buffers out of large word chunks.
//
// Slot allocators come and go far more often than their memory should be
// reallocated, and every buffer must be a zeroed run of atomic words. The
// arena hands out such runs with a lock-free bump pointer and only takes its
// mutex to add a chunk.
//
// # Features
//
//   - Chunks of DefaultChunkWords atomic words, requests larger than a chunk
//     get a dedicated chunk
//   - Optional MemoryAcquirer (the resource controller) charged per chunk
//   - Recycle rotates a buffer's header so claims from the previous epoch are
//     rejected with a header mismatch
//   - Generation tracking: buffers carved before Reset or Free are stale
//
// # Concurrency Model
//
// NewBuffer and AllocWords are safe for concurrent use. Reset and Free must
// not run concurrently with allocations or with operations on carved buffers.
package arena
