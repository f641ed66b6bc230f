package cmd

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/parcore"
	"github.com/hupe1980/parcore/internal/config"
	"github.com/hupe1980/parcore/internal/reduce"
	"github.com/hupe1980/parcore/internal/workload"
	"github.com/hupe1980/parcore/reducer"
)

var reduceFlags struct {
	values     int
	valueCount int
	groupSize  int
	strategy   string
	reducer    string
	repeat     int
	debug      bool
	noWait     bool
}

// reduceCmd represents the reduce command
var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Run hierarchical reductions over random input",
	Long: `Reduce random values in [-1, 1) and compare the result with a
sequential fold of the same reducer.

Supported reducers:
  - sum   : elementwise sum (default)
  - max   : elementwise maximum
  - minmax: elementwise [min, max] range
  - mean  : elementwise running mean

Supported strategies:
  - auto   : let the runtime choose (default)
  - memory : reduce through workgroup scratch
  - shuffle: exchange values between subgroup lanes (value count 1 only)

With --no-wait a run fails with "resource exhausted" instead of waiting for
the dispatch rate or a workgroup slot.`,
	RunE: runReduce,
}

func init() {
	rootCmd.AddCommand(reduceCmd)

	reduceCmd.Flags().IntVarP(&reduceFlags.values, "values", "n", 0, "Number of lanes")
	reduceCmd.Flags().IntVar(&reduceFlags.valueCount, "value-count", 0, "Values per lane")
	reduceCmd.Flags().IntVarP(&reduceFlags.groupSize, "group-size", "g", 0, "Lanes per workgroup (0 = profile maximum)")
	reduceCmd.Flags().StringVarP(&reduceFlags.strategy, "strategy", "s", "", "Strategy: auto, memory, shuffle")
	reduceCmd.Flags().StringVarP(&reduceFlags.reducer, "reducer", "r", "", "Reducer: sum, max, minmax, mean")
	reduceCmd.Flags().IntVar(&reduceFlags.repeat, "repeat", 0, "Number of timed runs")
	reduceCmd.Flags().BoolVar(&reduceFlags.debug, "debug", false, "Check kernel preconditions in every lane")
	reduceCmd.Flags().BoolVar(&reduceFlags.noWait, "no-wait", false, "Fail instead of waiting for admission")
}

func applyReduceFlags(cmd *cobra.Command, c *config.ReduceConfig) {
	f := cmd.Flags()
	if f.Changed("values") {
		c.Values = reduceFlags.values
	}
	if f.Changed("value-count") {
		c.ValueCount = reduceFlags.valueCount
	}
	if f.Changed("group-size") {
		c.GroupSize = reduceFlags.groupSize
	}
	if f.Changed("strategy") {
		c.Strategy = reduceFlags.strategy
	}
	if f.Changed("reducer") {
		c.Reducer = reduceFlags.reducer
	}
	if f.Changed("repeat") {
		c.Repeat = reduceFlags.repeat
	}
	if f.Changed("debug") {
		c.Debug = reduceFlags.debug
	}
	if f.Changed("no-wait") {
		c.NoWait = reduceFlags.noWait
	}
}

func runReduce(cmd *cobra.Command, args []string) error {
	applyReduceFlags(cmd, &cfg.Reduce)
	if err := cfg.Validate(); err != nil {
		return err
	}
	rc := cfg.Reduce

	strategy, err := parcore.ParseStrategy(rc.Strategy)
	if err != nil {
		return err
	}
	reduce.Debug = rc.Debug

	metrics := &parcore.BasicMetricsCollector{}
	rt, err := newRuntime(metrics)
	if err != nil {
		return err
	}
	defer rt.Close()

	rng := workload.NewRNG(rc.Seed)
	raw := rng.Float64s(rc.Values*rc.ValueCount, -1, 1)

	s := scenario{cmd: cmd, rt: rt, cfg: rc, strategy: strategy}
	switch rc.Reducer {
	case "sum":
		err = run(s, raw, reducer.Sum[float64]{}, approxEqual)
	case "max":
		err = run(s, raw, reducer.Max[float64]{}, exactEqual)
	case "minmax":
		values := make([]reducer.Range[float64], len(raw))
		for i, v := range raw {
			values[i] = reducer.RangeOf(v)
		}
		err = run(s, values, reducer.MinMax[float64]{}, func(a, b reducer.Range[float64]) bool {
			return a == b
		})
	case "mean":
		values := make([]reducer.MeanState, len(raw))
		for i, v := range raw {
			values[i] = reducer.MeanOf(v)
		}
		err = run(s, values, reducer.Mean{}, func(a, b reducer.MeanState) bool {
			return approxEqual(a.Sum, b.Sum) && a.Count == b.Count
		})
	}
	if err != nil {
		return err
	}

	stats := metrics.GetStats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Passes per run:  %d\n", stats.ReducePasses/stats.ReduceCount)
	fmt.Fprintf(out, "Dispatches:      %d\n", stats.DispatchCount)
	fmt.Fprintf(out, "Workgroups:      %d\n", stats.DispatchGroups)
	fmt.Fprintf(out, "Admitted groups: %d\n", rt.AdmittedGroups())
	fmt.Fprintf(out, "Arena usage:     %.2f%%\n", rt.ArenaUsage())
	fmt.Fprintf(out, "Avg dispatch:    %s\n", time.Duration(stats.DispatchAvgNanos))
	fmt.Fprintf(out, "Avg reduce:      %s\n", time.Duration(stats.ReduceAvgNanos))
	return nil
}

type scenario struct {
	cmd      *cobra.Command
	rt       *parcore.Runtime
	cfg      config.ReduceConfig
	strategy parcore.Strategy
}

func run[T any](s scenario, values []T, r reducer.Reducer[T], equal func(a, b T) bool) error {
	vc := s.cfg.ValueCount
	want := fold(values, vc, r)

	logger.Info("reduce run started",
		"profile", s.rt.Profile().String(),
		"values", s.cfg.Values,
		"value_count", vc,
		"strategy", s.strategy.String(),
		"reducer", s.cfg.Reducer,
	)

	var got []T
	var best time.Duration
	for i := 0; i < s.cfg.Repeat; i++ {
		start := time.Now()
		res, err := parcore.Reduce(s.cmd.Context(), s.rt, values, r, parcore.ReduceOptions[T]{
			ValueCount: vc,
			GroupSize:  s.cfg.GroupSize,
			Strategy:   s.strategy,
			NoWait:     s.cfg.NoWait,
		})
		if err != nil {
			return err
		}
		if d := time.Since(start); i == 0 || d < best {
			best = d
		}
		got = res
	}

	for j := range want {
		if !equal(got[j], want[j]) {
			return fmt.Errorf("value %d: reduced %v, sequential fold %v", j, got[j], want[j])
		}
	}

	out := s.cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Reduce Results ===\n")
	fmt.Fprintf(out, "Result:          %v\n", got)
	fmt.Fprintf(out, "Best run:        %s\n", best)
	fmt.Fprintf(out, "Throughput:      %.0f lanes/s\n", float64(s.cfg.Values)/best.Seconds())
	return nil
}

// fold reduces values sequentially.
func fold[T any](values []T, vc int, r reducer.Reducer[T]) []T {
	acc := make([]T, vc)
	r.Copy(acc, values[:vc])
	for i := vc; i < len(values); i += vc {
		r.Join(acc, values[i:i+vc])
	}
	r.Final(acc)
	return acc
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*max(1, math.Abs(a), math.Abs(b))
}

func exactEqual(a, b float64) bool {
	return a == b
}
