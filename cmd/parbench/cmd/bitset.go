package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/parcore"
	"github.com/hupe1980/parcore/internal/config"
	"github.com/hupe1980/parcore/internal/workload"
)

var bitsetFlags struct {
	bound   int
	workers int
	ops     int
	hint    string
	hold    time.Duration
	recycle bool
	dump    string
}

// bitsetCmd represents the bitset command
var bitsetCmd = &cobra.Command{
	Use:   "bitset",
	Short: "Contend for slots of a bounded bitset",
	Long: `Run workers that acquire a slot, hold it and release it again.

Hints pick where each acquire starts scanning:
  - clock  : derived from the wall clock (default)
  - uniform: uniformly random below the bound
  - zipf   : skewed toward low slots, the worst case for contention

With --recycle the allocator is recycled once the workers finish and every
outstanding slot is checked to be rejected as stale.

With --dump the allocator words are written to a file once the run ends;
"parbench inspect" decodes it.`,
	RunE: runBitset,
}

func init() {
	rootCmd.AddCommand(bitsetCmd)

	bitsetCmd.Flags().IntVar(&bitsetFlags.bound, "bound", 0, "Number of slots")
	bitsetCmd.Flags().IntVarP(&bitsetFlags.workers, "workers", "w", 0, "Concurrent workers")
	bitsetCmd.Flags().IntVarP(&bitsetFlags.ops, "ops", "n", 0, "Acquire/release cycles per worker")
	bitsetCmd.Flags().StringVar(&bitsetFlags.hint, "hint", "", "Hint distribution: clock, uniform, zipf")
	bitsetCmd.Flags().DurationVar(&bitsetFlags.hold, "hold", 0, "Time a worker holds each slot")
	bitsetCmd.Flags().BoolVar(&bitsetFlags.recycle, "recycle", false, "Recycle the allocator at the end")
	bitsetCmd.Flags().StringVar(&bitsetFlags.dump, "dump", "", "Write the final allocator words to this file")
}

func applyBitsetFlags(cmd *cobra.Command, c *config.BitsetConfig) {
	f := cmd.Flags()
	if f.Changed("bound") {
		c.Bound = bitsetFlags.bound
	}
	if f.Changed("workers") {
		c.Workers = bitsetFlags.workers
	}
	if f.Changed("ops") {
		c.Ops = bitsetFlags.ops
	}
	if f.Changed("hint") {
		c.Hint = bitsetFlags.hint
	}
	if f.Changed("hold") {
		c.Hold = bitsetFlags.hold
	}
	if f.Changed("recycle") {
		c.Recycle = bitsetFlags.recycle
	}
	if f.Changed("dump") {
		c.Dump = bitsetFlags.dump
	}
}

func runBitset(cmd *cobra.Command, args []string) error {
	applyBitsetFlags(cmd, &cfg.Bitset)
	if err := cfg.Validate(); err != nil {
		return err
	}
	bc := cfg.Bitset

	metrics := &parcore.BasicMetricsCollector{}
	rt, err := newRuntime(metrics)
	if err != nil {
		return err
	}
	defer rt.Close()

	slots, err := rt.NewSlotAllocator(bc.Bound)
	if err != nil {
		return err
	}

	var hints []int
	rng := workload.NewRNG(bc.Seed)
	switch bc.Hint {
	case "uniform":
		hints = rng.UniformHints(bc.Workers*bc.Ops, bc.Bound)
	case "zipf":
		hints = rng.ZipfHints(bc.Workers*bc.Ops, bc.Bound, bc.ZipfS)
	}

	logger.Info("bitset run started",
		"profile", rt.Profile().String(),
		"bound", bc.Bound,
		"workers", bc.Workers,
		"ops", bc.Ops,
		"hint", bc.Hint,
	)

	ctx := cmd.Context()
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < bc.Workers; w++ {
		g.Go(func() error {
			for i := 0; i < bc.Ops; i++ {
				slot, err := acquire(gctx, slots, hints, w*bc.Ops+i)
				if err != nil {
					return err
				}
				if bc.Hold > 0 {
					time.Sleep(bc.Hold)
				}
				if err := slots.Release(gctx, slot); err != nil {
					return fmt.Errorf("worker %d: release slot %d: %w", w, slot.Index, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	if used := slots.Used(); used != 0 {
		return fmt.Errorf("%d slots still held after all workers released", used)
	}

	if bc.Recycle {
		if err := checkRecycle(ctx, slots); err != nil {
			return err
		}
	}
	if bc.Dump != "" {
		if err := dumpSlots(bc.Dump, slots); err != nil {
			return err
		}
	}

	stats := metrics.GetStats()
	cycles := bc.Workers * bc.Ops
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Bitset Results ===\n")
	fmt.Fprintf(out, "Cycles:          %d\n", cycles)
	fmt.Fprintf(out, "Elapsed:         %s\n", elapsed)
	fmt.Fprintf(out, "Throughput:      %.0f cycles/s\n", float64(cycles)/elapsed.Seconds())
	fmt.Fprintf(out, "Acquires:        %d\n", stats.AcquireCount)
	fmt.Fprintf(out, "Full retries:    %d\n", stats.AcquireFull)
	fmt.Fprintf(out, "Releases:        %d\n", stats.ReleaseCount)
	fmt.Fprintf(out, "Arena chunks:    %d\n", rt.ArenaStats().ChunksAllocated)
	fmt.Fprintf(out, "Arena usage:     %.2f%%\n", rt.ArenaUsage())
	if bc.Dump != "" {
		fmt.Fprintf(out, "Dump:            %s\n", bc.Dump)
	}
	return nil
}

func dumpSlots(path string, slots *parcore.SlotAllocator) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dump: %w", err)
	}
	n, err := slots.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	logger.Info("slot dump written", "path", path, "bytes", n, "epoch", slots.Epoch())
	return nil
}

// acquire claims a slot, backing off while the allocator is full.
func acquire(ctx context.Context, slots *parcore.SlotAllocator, hints []int, i int) (parcore.Slot, error) {
	if hints == nil {
		return slots.AcquireWait(ctx)
	}
	slot, err := slots.AcquireAt(ctx, hints[i])
	if errors.Is(err, parcore.ErrSlotsExhausted) {
		return slots.AcquireWait(ctx)
	}
	return slot, err
}

// checkRecycle fills the allocator, recycles it and verifies that every slot
// of the old epoch is rejected.
func checkRecycle(ctx context.Context, slots *parcore.SlotAllocator) error {
	held := make([]parcore.Slot, 0, slots.Bound())
	for range slots.Bound() {
		slot, err := slots.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("fill before recycle: %w", err)
		}
		held = append(held, slot)
	}

	epoch, err := slots.Recycle(ctx)
	if err != nil {
		return err
	}
	for _, slot := range held {
		if err := slots.Release(ctx, slot); !errors.Is(err, parcore.ErrHeaderMismatch) {
			return fmt.Errorf("stale slot %d of epoch %d: got %v, want header mismatch", slot.Index, slot.Epoch, err)
		}
	}
	logger.Info("recycle verified", "epoch", epoch, "stale", len(held))
	return nil
}
