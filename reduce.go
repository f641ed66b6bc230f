package parcore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/parcore/internal/conv"
	"github.com/hupe1980/parcore/internal/lane"
	"github.com/hupe1980/parcore/internal/pool"
	"github.com/hupe1980/parcore/internal/reduce"
	"github.com/hupe1980/parcore/reducer"
)

// ReduceOptions configures a reduction.
type ReduceOptions[T any] struct {
	// ValueCount is the number of elements per lane. If 0, defaults to 1.
	ValueCount int
	// GroupSize is the number of lanes per workgroup. If 0, defaults to the
	// profile's MaxGroupSize.
	GroupSize int
	// Strategy selects the workgroup reduction.
	Strategy Strategy
	// DeviceResult, if set, receives the result. It must hold at least
	// ValueCount elements.
	DeviceResult []T
	// NoWait fails a pass with ErrResourceExhausted instead of waiting for
	// the dispatch rate, a workgroup slot or scratch memory.
	NoWait bool
}

// Reduce combines values, laid out as consecutive runs of ValueCount
// elements per lane, into one run of ValueCount elements.
//
// Each pass launches ceil(n/GroupSize) workgroups that write one partial per
// workgroup into a staging buffer. Passes repeat over the partials until a
// single workgroup remains; that pass applies r.Final and delivers the result.
// values are never written.
func Reduce[T any](ctx context.Context, rt *Runtime, values []T, r reducer.Reducer[T], opts ReduceOptions[T]) ([]T, error) {
	start := time.Now()
	passes, out, err := runReduce(ctx, rt, values, r, opts)
	elapsed := time.Since(start)
	rt.metrics.RecordReduce(len(values), passes, elapsed, err)
	rt.logger.LogReduce(ctx, len(values), passes, elapsed, err)
	return out, err
}

func runReduce[T any](ctx context.Context, rt *Runtime, values []T, r reducer.Reducer[T], opts ReduceOptions[T]) (int, []T, error) {
	if rt.closed.Load() {
		return 0, nil, ErrClosed
	}
	if r == nil {
		return 0, nil, &ErrInvalidConfig{Field: "reducer", Value: nil}
	}

	vc := opts.ValueCount
	if vc == 0 {
		vc = 1
	}
	if vc < 0 {
		return 0, nil, &ErrInvalidConfig{Field: "value count", Value: opts.ValueCount}
	}
	if len(values) == 0 {
		return 0, nil, ErrEmptyInput
	}
	if len(values)%vc != 0 {
		return 0, nil, &ErrInvalidConfig{Field: "values", Value: len(values), cause: reduce.ErrValueCount}
	}
	n := len(values) / vc

	gs := opts.GroupSize
	if gs == 0 {
		gs = rt.profile.MaxGroupSize
	}
	if gs < 1 || gs > rt.profile.MaxGroupSize {
		return 0, nil, &ErrInvalidConfig{Field: "group size", Value: opts.GroupSize}
	}
	if opts.DeviceResult != nil && len(opts.DeviceResult) < vc {
		return 0, nil, &ErrInvalidConfig{Field: "device result", Value: len(opts.DeviceResult)}
	}

	strategy, err := reduce.Select[T](opts.Strategy, rt.profile, vc)
	if err != nil {
		return 0, nil, translateError(err)
	}

	d := &dispatcher[T]{
		rt:       rt,
		strategy: strategy,
		reducer:  r,
		vc:       vc,
		noWait:   opts.NoWait,
		scratch:  scratchPool[T](rt),
		logger:   rt.logger.WithDispatch(uuid.NewString()).WithStrategy(strategy.Kind()),
	}

	var staging [2][]T
	src := values
	for pass := 0; ; pass++ {
		groups := (n + gs - 1) / gs
		final := groups == 1

		var dst []T
		switch {
		case final && opts.DeviceResult != nil:
			dst = nil
		case final:
			dst = make([]T, vc)
		default:
			buf := staging[pass%2]
			if cap(buf) < groups*vc {
				buf = make([]T, groups*vc)
			}
			staging[pass%2] = buf[:groups*vc]
			dst = staging[pass%2]
		}

		err := d.run(ctx, pass, step[T]{
			src:          src,
			n:            n,
			groups:       groups,
			groupSize:    min(gs, n),
			final:        final,
			results:      dst,
			deviceResult: deviceResult(final, opts.DeviceResult),
		})
		if err != nil {
			return pass + 1, nil, err
		}

		if final {
			if opts.DeviceResult != nil {
				return pass + 1, opts.DeviceResult[:vc], nil
			}
			return pass + 1, dst, nil
		}
		src, n = dst, groups
	}
}

func deviceResult[T any](final bool, dst []T) []T {
	if !final {
		return nil
	}
	return dst
}

// step is one pass over n lanes.
type step[T any] struct {
	src          []T
	n            int
	groups       int
	groupSize    int
	final        bool
	results      []T
	deviceResult []T
}

type dispatcher[T any] struct {
	rt       *Runtime
	strategy reduce.Strategy[T]
	reducer  reducer.Reducer[T]
	vc       int
	noWait   bool
	scratch  *pool.Scratch[T]
	logger   *Logger
}

func (d *dispatcher[T]) run(ctx context.Context, pass int, s step[T]) error {
	var admitter lane.Admitter = d.rt.rc
	if d.noWait {
		nb := d.rt.rc.NonBlocking()
		if err := nb.Dispatch(ctx); err != nil {
			return translateError(err)
		}
		admitter = nb
	} else if err := d.rt.rc.WaitDispatch(ctx); err != nil {
		return err
	}

	cfg := lane.Config{
		GroupSize:           s.groupSize,
		SubgroupSize:        d.rt.profile.SubgroupSize,
		Groups:              s.groups,
		MaxConcurrentGroups: int(d.rt.rc.Config().MaxConcurrentGroups),
	}
	scratchLen := d.strategy.ScratchLen(cfg, d.vc)
	scratchBytes, err := conv.Bytes(scratchLen, lane.Size[T]())
	if err != nil {
		return &ErrInvalidConfig{Field: "scratch", Value: scratchLen, cause: err}
	}
	vc := d.vc

	// Scratch that only fits next to the arena would wait forever.
	if limit := d.rt.rc.MemoryLimit(); limit > 0 {
		if avail := limit - d.rt.arena.ReservedBytes(); scratchBytes > avail {
			return fmt.Errorf("%w: workgroup scratch of %d bytes, %d available", ErrResourceExhausted, scratchBytes, avail)
		}
	}

	start := time.Now()
	err = lane.Run(ctx, lane.Dispatch[[]T]{
		Config:       cfg,
		Admitter:     admitter,
		ScratchBytes: scratchBytes,
		Local:        func(int) []T { return d.scratch.Get(scratchLen) },
		Release:      func(_ int, buf []T) { d.scratch.Put(buf) },
		Kernel: func(it *lane.Item, scratch []T) {
			var v []T
			if id := it.GlobalID(); id < s.n {
				v = s.src[id*vc : (id+1)*vc : (id+1)*vc]
			}
			d.strategy.Reduce(it, reduce.Args[T]{
				Scratch:      scratch,
				Value:        v,
				Results:      s.results,
				DeviceResult: s.deviceResult,
				ValueCount:   vc,
				Reducer:      d.reducer,
				Final:        s.final,
				MaxSize:      min(s.groupSize, s.n-it.GroupID()*s.groupSize),
			})
		},
	})
	err = translateError(err)
	elapsed := time.Since(start)

	d.rt.metrics.RecordDispatch(s.groups, s.groupSize, elapsed, err)
	d.logger.LogDispatch(ctx, pass, s.groups, s.groupSize, s.final, elapsed, err)
	return err
}
