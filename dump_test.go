package parcore

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotDump(t *testing.T) {
	rt := newTestRuntime(t)
	slots, err := rt.NewSlotAllocator(40)
	require.NoError(t, err)

	for _, i := range []int{3, 39} {
		_, err := slots.Reserve(t.Context(), i)
		require.NoError(t, err)
	}
	_, err = slots.Recycle(t.Context())
	require.NoError(t, err)
	for _, i := range []int{5, 17} {
		_, err := slots.Reserve(t.Context(), i)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := slots.WriteTo(&buf)
	require.NoError(t, err)
	// Word count plus the state word and two words of bits.
	assert.Equal(t, int64(16), n)
	assert.Equal(t, 16, buf.Len())

	d, err := ReadSlotDump(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Words)
	assert.Equal(t, 64, d.Capacity)
	assert.Equal(t, uint32(1), d.Epoch)
	assert.Equal(t, 2, d.Used)
	assert.Equal(t, []uint32{5, 17}, d.Held.ToArray())
	assert.True(t, d.Consistent())
}

func TestReadSlotDump_Corrupt(t *testing.T) {
	words := func(count uint32, extra ...uint32) []byte {
		b := binary.LittleEndian.AppendUint32(nil, count)
		for _, w := range extra {
			b = binary.LittleEndian.AppendUint32(b, w)
		}
		return b
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short count", []byte{2, 0}},
		{"no bit words", words(1, 0)},
		{"oversized", words(1<<20 + 2)},
		{"truncated", words(3, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSlotDump(bytes.NewReader(tt.data))
			require.ErrorIs(t, err, ErrCorruptDump)
		})
	}
}

func TestReadSlotDump_Inconsistent(t *testing.T) {
	// State word claims three slots, the bit vector holds one.
	data := binary.LittleEndian.AppendUint32(nil, 2)
	data = binary.LittleEndian.AppendUint32(data, 3)
	data = binary.LittleEndian.AppendUint32(data, 1<<7)

	d, err := ReadSlotDump(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 3, d.Used)
	assert.Equal(t, []uint32{7}, d.Held.ToArray())
	assert.False(t, d.Consistent())
}

func TestSlotAllocator_WriteToAfterReset(t *testing.T) {
	rt := newTestRuntime(t)
	slots, err := rt.NewSlotAllocator(8)
	require.NoError(t, err)

	require.NoError(t, rt.Reset())

	var buf bytes.Buffer
	_, err = slots.WriteTo(&buf)
	require.ErrorIs(t, err, ErrStaleAllocator)
	assert.Zero(t, buf.Len())
}
