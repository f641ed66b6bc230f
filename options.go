package parcore

import (
	"log/slog"

	"github.com/hupe1980/parcore/internal/arena"
	"github.com/hupe1980/parcore/internal/device"
	"github.com/hupe1980/parcore/internal/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	profile          *device.Profile
	resource         resource.Config
	arenaChunkWords  int
	scratchRetain    int
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := parcore.NewJSONLogger(slog.LevelInfo)
//	rt, _ := parcore.New(parcore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &parcore.BasicMetricsCollector{}
//	rt, _ := parcore.New(parcore.WithMetricsCollector(metrics))
//	// ... use rt ...
//	stats := metrics.GetStats()
//	fmt.Printf("Dispatches: %d, Avg latency: %dns\n", stats.DispatchCount, stats.DispatchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithProfile pins the device profile instead of detecting the host CPU.
func WithProfile(p Profile) Option {
	return func(o *options) {
		o.profile = &p
	}
}

// WithResourceConfig sets the admission limits for dispatches and arena
// memory. The zero value tracks usage without limiting it.
func WithResourceConfig(cfg ResourceConfig) Option {
	return func(o *options) {
		o.resource = cfg
	}
}

// WithArenaChunkWords sets the chunk size of the arena that backs slot
// allocators, in 32-bit words. If words <= 0, arena.DefaultChunkWords is used.
func WithArenaChunkWords(words int) Option {
	return func(o *options) {
		if words <= 0 {
			words = arena.DefaultChunkWords
		}
		o.arenaChunkWords = words
	}
}

// WithScratchRetain caps the workgroup scratch, in elements, that is pooled
// between dispatches. Larger scratch is dropped after use.
func WithScratchRetain(elements int) Option {
	return func(o *options) {
		o.scratchRetain = elements
	}
}
