package parcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/parcore/internal/bitset"
)

// WriteTo writes the allocator's words in the dump format read by
// ReadSlotDump: a little-endian word count followed by the state word and
// the bit vector. Concurrent acquires and releases may tear the copy.
func (s *SlotAllocator) WriteTo(w io.Writer) (int64, error) {
	if err := s.live(); err != nil {
		return 0, err
	}
	return s.buf.WriteTo(w)
}

// SlotDump is a decoded allocator dump.
type SlotDump struct {
	Words    int    // including the state word
	Capacity int    // addressable slots
	Epoch    uint32 // header tag of the state word
	Used     int    // used count of the state word
	Held     *roaring.Bitmap
}

// Consistent reports whether the used count matches the held slots.
func (d *SlotDump) Consistent() bool {
	return uint64(d.Used) == d.Held.GetCardinality() //nolint:gosec // used count is 26 bits
}

// ReadSlotDump decodes a dump written by SlotAllocator.WriteTo.
func ReadSlotDump(r io.Reader) (*SlotDump, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptDump, err)
	}
	words := binary.LittleEndian.Uint32(hdr[:])
	if words < 2 || words-1 > bitset.MaxBound/32 {
		return nil, fmt.Errorf("%w: %d words", ErrCorruptDump, words)
	}

	buf, err := bitset.New((words - 1) * 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptDump, err)
	}
	if _, err := buf.ReadFrom(io.MultiReader(bytes.NewReader(hdr[:]), r)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptDump, err)
	}

	return &SlotDump{
		Words:    buf.Len(),
		Capacity: int(buf.Capacity()),
		Epoch:    buf.Header(),
		Used:     buf.Used(),
		Held:     buf.Snapshot(),
	}, nil
}
