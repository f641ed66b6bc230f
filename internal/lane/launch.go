package lane

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidConfig is returned for non-positive launch dimensions.
	ErrInvalidConfig = errors.New("lane: invalid launch config")
	// ErrNilKernel is returned when a dispatch has no kernel.
	ErrNilKernel = errors.New("lane: nil kernel")
)

// LaneError reports a lane that panicked. Its siblings are released from their
// barriers and the workgroup is abandoned.
type LaneError struct {
	Group int
	Lane  int
	Value any
}

func (e *LaneError) Error() string {
	return fmt.Sprintf("lane %d of group %d panicked: %v", e.Lane, e.Group, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *LaneError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Config describes the shape of a dispatch.
type Config struct {
	// GroupSize is the number of lanes per workgroup.
	GroupSize int
	// SubgroupSize is the hardware subgroup width. It need not divide GroupSize.
	SubgroupSize int
	// Groups is the number of workgroups.
	Groups int
	// MaxConcurrentGroups caps how many workgroups run at once. 0 means no cap.
	MaxConcurrentGroups int
}

// Validate checks the dispatch dimensions.
func (c Config) Validate() error {
	if c.GroupSize <= 0 || c.SubgroupSize <= 0 || c.Groups <= 0 || c.MaxConcurrentGroups < 0 {
		return fmt.Errorf("%w: group=%d subgroup=%d groups=%d", ErrInvalidConfig, c.GroupSize, c.SubgroupSize, c.Groups)
	}
	return nil
}

// NumSubgroups returns the number of subgroups per workgroup.
func (c Config) NumSubgroups() int {
	return (c.GroupSize + c.SubgroupSize - 1) / c.SubgroupSize
}

// Admitter gates workgroups before their lanes start.
type Admitter interface {
	AdmitGroup(ctx context.Context, scratchBytes int64) error
	ReleaseGroup(scratchBytes int64)
}

// Dispatch is one kernel launch. L is the workgroup-local memory type.
type Dispatch[L any] struct {
	Config Config

	// Admitter, if set, is consulted once per workgroup.
	Admitter Admitter
	// ScratchBytes is the local memory a workgroup holds while admitted.
	ScratchBytes int64

	// Local builds the workgroup-local memory before the lanes start.
	Local func(group int) L
	// Release receives the local memory after every lane has returned.
	Release func(group int, local L)

	Kernel func(it *Item, local L)
}

// Run executes d and waits for every workgroup. Lanes of one workgroup run
// concurrently; workgroups are independent of each other.
func Run[L any](ctx context.Context, d Dispatch[L]) error {
	if err := d.Config.Validate(); err != nil {
		return err
	}
	if d.Kernel == nil {
		return ErrNilKernel
	}

	g, gctx := errgroup.WithContext(ctx)
	if d.Config.MaxConcurrentGroups > 0 {
		g.SetLimit(d.Config.MaxConcurrentGroups)
	}

	for gid := 0; gid < d.Config.Groups; gid++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return runGroup(gctx, d, gid)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func runGroup[L any](ctx context.Context, d Dispatch[L], gid int) error {
	if d.Admitter != nil {
		if err := d.Admitter.AdmitGroup(ctx, d.ScratchBytes); err != nil {
			return err
		}
		defer d.Admitter.ReleaseGroup(d.ScratchBytes)
	}

	var local L
	if d.Local != nil {
		local = d.Local(gid)
	}
	if d.Release != nil {
		defer d.Release(gid, local)
	}

	wg := newWorkgroup(gid, d.Config)

	var lanes errgroup.Group
	for id := 0; id < d.Config.GroupSize; id++ {
		it := &Item{
			localID: id,
			group:   wg,
			sub:     wg.subgroups[id/d.Config.SubgroupSize],
		}
		lanes.Go(func() (err error) {
			defer func() {
				r := recover()
				if r == nil || r == errBarrierBroken {
					return
				}
				wg.breakBarriers()
				err = &LaneError{Group: gid, Lane: id, Value: r}
			}()
			d.Kernel(it, local)
			return nil
		})
	}
	return lanes.Wait()
}
