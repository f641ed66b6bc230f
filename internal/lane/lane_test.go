package lane

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Config{GroupSize: 21, SubgroupSize: 8, Groups: 1}.Validate())
	require.ErrorIs(t, Config{GroupSize: 0, SubgroupSize: 8, Groups: 1}.Validate(), ErrInvalidConfig)
	require.ErrorIs(t, Config{GroupSize: 8, SubgroupSize: 0, Groups: 1}.Validate(), ErrInvalidConfig)
	require.ErrorIs(t, Config{GroupSize: 8, SubgroupSize: 8, Groups: 0}.Validate(), ErrInvalidConfig)
	assert.Equal(t, 3, Config{GroupSize: 21, SubgroupSize: 8}.NumSubgroups())
}

func TestRun_Geometry(t *testing.T) {
	cfg := Config{GroupSize: 21, SubgroupSize: 8, Groups: 3}

	type seen struct {
		sg, idInSg, sgRange int
	}
	var mu sync.Mutex
	got := make(map[int]seen)

	err := Run(t.Context(), Dispatch[struct{}]{
		Config: cfg,
		Kernel: func(it *Item, _ struct{}) {
			mu.Lock()
			defer mu.Unlock()
			got[it.GlobalID()] = seen{it.SubgroupID(), it.IDInSubgroup(), it.SubgroupRange()}
			assert.Equal(t, 3, it.NumSubgroups())
			assert.Equal(t, 8, it.MaxSubgroupSize())
			assert.Equal(t, 21, it.GroupRange())
			assert.Equal(t, 3, it.NumGroups())
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 63)

	assert.Equal(t, seen{0, 0, 8}, got[0])
	assert.Equal(t, seen{1, 1, 8}, got[9])
	assert.Equal(t, seen{2, 4, 5}, got[20], "last subgroup is partial")
	assert.Equal(t, seen{2, 0, 5}, got[21+16])
}

func TestRun_GroupBarrierOrdersWrites(t *testing.T) {
	cfg := Config{GroupSize: 32, SubgroupSize: 8, Groups: 4}

	var bad atomic.Int64
	err := Run(t.Context(), Dispatch[[]int]{
		Config: cfg,
		Local:  func(int) []int { return make([]int, cfg.GroupSize) },
		Kernel: func(it *Item, local []int) {
			for round := 1; round <= 5; round++ {
				local[it.LocalID()] = round
				it.GroupBarrier()
				for _, v := range local {
					if v != round {
						bad.Add(1)
					}
				}
				it.GroupBarrier()
			}
		},
	})
	require.NoError(t, err)
	assert.Zero(t, bad.Load())
}

func TestRun_LocalAndRelease(t *testing.T) {
	var built, released atomic.Int64
	err := Run(t.Context(), Dispatch[int]{
		Config:  Config{GroupSize: 4, SubgroupSize: 4, Groups: 5, MaxConcurrentGroups: 2},
		Local:   func(g int) int { built.Add(1); return g },
		Release: func(g, local int) { assert.Equal(t, g, local); released.Add(1) },
		Kernel: func(it *Item, local int) {
			assert.Equal(t, it.GroupID(), local)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), built.Load())
	assert.Equal(t, int64(5), released.Load())
}

func TestShiftLeft(t *testing.T) {
	cfg := Config{GroupSize: 12, SubgroupSize: 8, Groups: 1}
	out := make([]int64, cfg.GroupSize)

	err := Run(t.Context(), Dispatch[struct{}]{
		Config: cfg,
		Kernel: func(it *Item, _ struct{}) {
			v := int64(it.LocalID() * 10)
			out[it.LocalID()] = ShiftLeft(it, v, 2)
		},
	})
	require.NoError(t, err)

	// Subgroup 0 holds lanes 0..7, subgroup 1 lanes 8..11.
	assert.Equal(t, []int64{20, 30, 40, 50, 60, 70, 60, 70, 100, 110, 100, 110}, out)
}

type pair struct {
	A float64
	B int32
}

func TestPackUnpack(t *testing.T) {
	v := pair{A: 1.5, B: -7}
	buf := make([]byte, Size[pair]())
	Pack(buf, &v)
	assert.Equal(t, v, Unpack[pair](buf))

	var empty struct{}
	Pack(nil, &empty)
	assert.Equal(t, struct{}{}, Unpack[struct{}](nil))
}

func TestBitCopyable(t *testing.T) {
	assert.True(t, BitCopyable[int]())
	assert.True(t, BitCopyable[pair]())
	assert.True(t, BitCopyable[[4]float32]())
	assert.True(t, BitCopyable[struct{}]())
	assert.False(t, BitCopyable[string]())
	assert.False(t, BitCopyable[*int]())
	assert.False(t, BitCopyable[[]int]())
	assert.False(t, BitCopyable[struct{ P *pair }]())
	assert.False(t, BitCopyable[[2]any]())
}

func TestRun_PanicBreaksBarriers(t *testing.T) {
	boom := errors.New("boom")
	err := Run(t.Context(), Dispatch[struct{}]{
		Config: Config{GroupSize: 16, SubgroupSize: 4, Groups: 2},
		Kernel: func(it *Item, _ struct{}) {
			if it.GroupID() == 1 && it.LocalID() == 5 {
				panic(boom)
			}
			it.SubgroupBarrier()
			it.GroupBarrier()
		},
	})

	var le *LaneError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.Group)
	assert.Equal(t, 5, le.Lane)
	require.ErrorIs(t, err, boom)
}

type recordingAdmitter struct {
	admitted atomic.Int64
	released atomic.Int64
	deny     bool
}

func (a *recordingAdmitter) AdmitGroup(_ context.Context, bytes int64) error {
	if a.deny {
		return errors.New("denied")
	}
	a.admitted.Add(bytes)
	return nil
}

func (a *recordingAdmitter) ReleaseGroup(bytes int64) {
	a.released.Add(bytes)
}

func TestRun_Admitter(t *testing.T) {
	adm := &recordingAdmitter{}
	err := Run(t.Context(), Dispatch[struct{}]{
		Config:       Config{GroupSize: 2, SubgroupSize: 2, Groups: 3},
		Admitter:     adm,
		ScratchBytes: 64,
		Kernel:       func(*Item, struct{}) {},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(192), adm.admitted.Load())
	assert.Equal(t, int64(192), adm.released.Load())

	err = Run(t.Context(), Dispatch[struct{}]{
		Config:   Config{GroupSize: 2, SubgroupSize: 2, Groups: 3},
		Admitter: &recordingAdmitter{deny: true},
		Kernel:   func(*Item, struct{}) {},
	})
	require.Error(t, err)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var ran atomic.Int64
	err := Run(ctx, Dispatch[struct{}]{
		Config: Config{GroupSize: 2, SubgroupSize: 2, Groups: 8},
		Kernel: func(*Item, struct{}) { ran.Add(1) },
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ran.Load())
}

func TestRun_NilKernel(t *testing.T) {
	err := Run(t.Context(), Dispatch[int]{Config: Config{GroupSize: 1, SubgroupSize: 1, Groups: 1}})
	require.ErrorIs(t, err, ErrNilKernel)
}
