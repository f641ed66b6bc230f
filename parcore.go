package parcore

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/parcore/internal/arena"
	"github.com/hupe1980/parcore/internal/device"
	"github.com/hupe1980/parcore/internal/pool"
	"github.com/hupe1980/parcore/internal/reduce"
	"github.com/hupe1980/parcore/internal/resource"
)

// Profile is the hardware shape dispatches are built for.
type Profile = device.Profile

// ResourceConfig holds the admission limits of a Runtime.
type ResourceConfig = resource.Config

// Strategy selects how a workgroup combines its lanes.
type Strategy = reduce.Kind

const (
	// StrategyAuto lets the runtime choose. It currently resolves to
	// StrategyMemory.
	StrategyAuto = reduce.KindAuto
	// StrategyMemory reduces through workgroup scratch. It supports any value
	// type and any value count.
	StrategyMemory = reduce.KindMemory
	// StrategyShuffle exchanges values between subgroup lanes. It needs a
	// pointer-free value type and a value count of 1.
	StrategyShuffle = reduce.KindShuffle
)

// ParseStrategy parses "auto", "memory" or "shuffle".
func ParseStrategy(s string) (Strategy, error) {
	k, err := reduce.ParseKind(s)
	if err != nil {
		return k, &ErrInvalidConfig{Field: "strategy", Value: s, cause: err}
	}
	return k, nil
}

// DetectProfile returns the profile of the host CPU, honoring the
// PARCORE_ISA and PARCORE_SUBGROUP_SIZE environment variables.
func DetectProfile() (Profile, error) {
	return device.Detect()
}

// ProfileForISA returns the default profile of a named ISA such as "avx2".
func ProfileForISA(name string) (Profile, error) {
	isa, ok := device.ParseISA(name)
	if !ok {
		return Profile{}, &ErrInvalidConfig{Field: "isa", Value: name}
	}
	return device.ForISA(isa), nil
}

// Runtime owns the shared state of slot allocators and reductions: the
// device profile, admission control, the word arena and scratch pools.
//
// A Runtime is safe for concurrent use.
type Runtime struct {
	profile Profile
	rc      *resource.Controller
	arena   *arena.Arena

	logger  *Logger
	metrics MetricsCollector

	scratchRetain int
	pools         sync.Map // reflect.Type -> *pool.Scratch[T]

	closed atomic.Bool
}

// New creates a Runtime. Without WithProfile the host CPU is detected.
func New(optFns ...Option) (*Runtime, error) {
	opts := options{
		logger:           NoopLogger(),
		metricsCollector: &NoopMetricsCollector{},
		arenaChunkWords:  arena.DefaultChunkWords,
		scratchRetain:    pool.DefaultMaxRetain,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.logger == nil {
		opts.logger = NoopLogger()
	}
	if opts.metricsCollector == nil {
		opts.metricsCollector = &NoopMetricsCollector{}
	}

	var profile Profile
	if opts.profile != nil {
		profile = *opts.profile
	} else {
		p, err := device.Detect()
		if err != nil {
			return nil, &ErrInvalidConfig{Field: "profile", Value: "detect", cause: err}
		}
		profile = p
	}
	if err := profile.Validate(); err != nil {
		return nil, &ErrInvalidConfig{Field: "profile", Value: profile.String(), cause: err}
	}

	if err := validateResource(opts.resource); err != nil {
		return nil, err
	}
	rc := resource.NewController(opts.resource)

	a, err := arena.New(opts.arenaChunkWords, arena.WithMemoryAcquirer(rc))
	if err != nil {
		return nil, &ErrInvalidConfig{Field: "arena chunk words", Value: opts.arenaChunkWords, cause: translateError(err)}
	}

	rt := &Runtime{
		profile:       profile,
		rc:            rc,
		arena:         a,
		logger:        opts.logger,
		metrics:       opts.metricsCollector,
		scratchRetain: opts.scratchRetain,
	}
	rt.logger.Debug("runtime created",
		"profile", profile.String(),
		"max_concurrent_groups", rc.Config().MaxConcurrentGroups,
		"memory_limit", rc.MemoryLimit(),
	)
	return rt, nil
}

func validateResource(cfg ResourceConfig) error {
	switch {
	case cfg.MemoryLimitBytes < 0:
		return &ErrInvalidConfig{Field: "memory limit", Value: cfg.MemoryLimitBytes}
	case cfg.MaxConcurrentGroups < 0:
		return &ErrInvalidConfig{Field: "max concurrent groups", Value: cfg.MaxConcurrentGroups}
	case cfg.DispatchesPerSecond < 0:
		return &ErrInvalidConfig{Field: "dispatches per second", Value: cfg.DispatchesPerSecond}
	case cfg.DispatchBurst < 0:
		return &ErrInvalidConfig{Field: "dispatch burst", Value: cfg.DispatchBurst}
	}
	return nil
}

// Profile returns the device profile dispatches are built for.
func (rt *Runtime) Profile() Profile {
	return rt.profile
}

// ResourceConfig returns the effective admission limits.
func (rt *Runtime) ResourceConfig() ResourceConfig {
	return rt.rc.Config()
}

// MemoryUsage returns the bytes currently held by arena chunks and admitted
// workgroup scratch.
func (rt *Runtime) MemoryUsage() int64 {
	return rt.rc.MemoryUsage()
}

// ActiveGroups returns the number of workgroups currently running.
func (rt *Runtime) ActiveGroups() int64 {
	return rt.rc.ActiveGroups()
}

// AdmittedGroups returns the number of workgroups admitted since New.
func (rt *Runtime) AdmittedGroups() int64 {
	return rt.rc.AdmittedGroups()
}

// ArenaStats is a snapshot of the arena behind the slot allocators.
type ArenaStats = arena.Stats

// ArenaStats returns the statistics of the arena behind the slot allocators.
func (rt *Runtime) ArenaStats() ArenaStats {
	return rt.arena.Stats()
}

// ArenaUsage returns the share of reserved arena words handed out to slot
// allocators, in percent.
func (rt *Runtime) ArenaUsage() float64 {
	return rt.arena.Usage()
}

// scratchPool returns the scratch pool for element type T.
func scratchPool[T any](rt *Runtime) *pool.Scratch[T] {
	key := reflect.TypeFor[T]()
	if p, ok := rt.pools.Load(key); ok {
		return p.(*pool.Scratch[T])
	}
	p, _ := rt.pools.LoadOrStore(key, pool.NewScratch[T](rt.scratchRetain))
	return p.(*pool.Scratch[T])
}
