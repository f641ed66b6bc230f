// Package config provides configuration management for the parbench tool.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PARBENCH_BITSET_WORKERS.
const EnvPrefix = "PARBENCH"

// Config holds all configuration for parbench.
type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Resource ResourceConfig `mapstructure:"resource"`
	Bitset   BitsetConfig   `mapstructure:"bitset"`
	Reduce   ReduceConfig   `mapstructure:"reduce"`
	Log      LogConfig      `mapstructure:"log"`
}

// DeviceConfig selects the device profile. An empty ISA detects the host.
type DeviceConfig struct {
	ISA             string `mapstructure:"isa"`
	SubgroupSize    int    `mapstructure:"subgroup_size"`  // 0 keeps the ISA default
	MaxGroupSize    int    `mapstructure:"max_group_size"` // 0 keeps the ISA default
	ArenaChunkWords int    `mapstructure:"arena_chunk_words"`
}

// ResourceConfig holds admission limits.
type ResourceConfig struct {
	MemoryLimitBytes    int64   `mapstructure:"memory_limit_bytes"`
	MaxConcurrentGroups int64   `mapstructure:"max_concurrent_groups"`
	DispatchesPerSecond float64 `mapstructure:"dispatches_per_second"`
	DispatchBurst       int     `mapstructure:"dispatch_burst"`
}

// BitsetConfig drives the slot contention scenario.
type BitsetConfig struct {
	Bound   int           `mapstructure:"bound"`
	Workers int           `mapstructure:"workers"`
	Ops     int           `mapstructure:"ops"`  // per worker
	Hint    string        `mapstructure:"hint"` // clock, uniform or zipf
	ZipfS   float64       `mapstructure:"zipf_s"`
	Hold    time.Duration `mapstructure:"hold"`
	Seed    int64         `mapstructure:"seed"`
	Recycle bool          `mapstructure:"recycle"`
	Dump    string        `mapstructure:"dump"` // file for the final allocator words
}

// ReduceConfig drives the reduction scenario.
type ReduceConfig struct {
	Values     int    `mapstructure:"values"`
	ValueCount int    `mapstructure:"value_count"`
	GroupSize  int    `mapstructure:"group_size"`
	Strategy   string `mapstructure:"strategy"`
	Reducer    string `mapstructure:"reducer"` // sum, max, minmax or mean
	Repeat     int    `mapstructure:"repeat"`
	Seed       int64  `mapstructure:"seed"`
	Debug      bool   `mapstructure:"debug"`
	NoWait     bool   `mapstructure:"no_wait"` // fail instead of waiting for admission
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// Load reads configuration from configPath. Without a path it looks for
// parbench.yaml in the working directory and falls back to defaults.
// Environment variables override both.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("parbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromReader loads configuration from content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("device.isa", "")
	v.SetDefault("device.subgroup_size", 0)
	v.SetDefault("device.max_group_size", 0)
	v.SetDefault("device.arena_chunk_words", 64*1024)

	v.SetDefault("resource.memory_limit_bytes", 0)
	v.SetDefault("resource.max_concurrent_groups", 0)
	v.SetDefault("resource.dispatches_per_second", 0)
	v.SetDefault("resource.dispatch_burst", 0)

	v.SetDefault("bitset.bound", 1024)
	v.SetDefault("bitset.workers", 8)
	v.SetDefault("bitset.ops", 10000)
	v.SetDefault("bitset.hint", "clock")
	v.SetDefault("bitset.zipf_s", 1.1)
	v.SetDefault("bitset.hold", "0s")
	v.SetDefault("bitset.seed", 1)
	v.SetDefault("bitset.recycle", false)
	v.SetDefault("bitset.dump", "")

	v.SetDefault("reduce.values", 1<<20)
	v.SetDefault("reduce.value_count", 1)
	v.SetDefault("reduce.group_size", 0)
	v.SetDefault("reduce.strategy", "auto")
	v.SetDefault("reduce.reducer", "sum")
	v.SetDefault("reduce.repeat", 5)
	v.SetDefault("reduce.seed", 1)
	v.SetDefault("reduce.debug", false)
	v.SetDefault("reduce.no_wait", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Device.SubgroupSize < 0 || c.Device.MaxGroupSize < 0 {
		return fmt.Errorf("device sizes must not be negative")
	}
	if c.Resource.MemoryLimitBytes < 0 || c.Resource.MaxConcurrentGroups < 0 ||
		c.Resource.DispatchesPerSecond < 0 || c.Resource.DispatchBurst < 0 {
		return fmt.Errorf("resource limits must not be negative")
	}

	if c.Bitset.Bound < 1 {
		return fmt.Errorf("bitset bound must be at least 1")
	}
	if c.Bitset.Workers < 1 {
		return fmt.Errorf("bitset workers must be at least 1")
	}
	if c.Bitset.Ops < 0 {
		return fmt.Errorf("bitset ops must not be negative")
	}
	switch c.Bitset.Hint {
	case "clock", "uniform":
	case "zipf":
		if c.Bitset.ZipfS <= 1 {
			return fmt.Errorf("zipf exponent must be greater than 1, got %v", c.Bitset.ZipfS)
		}
	default:
		return fmt.Errorf("unsupported hint distribution: %s", c.Bitset.Hint)
	}

	if c.Reduce.Values < 1 {
		return fmt.Errorf("reduce values must be at least 1")
	}
	if c.Reduce.ValueCount < 1 {
		return fmt.Errorf("reduce value count must be at least 1")
	}
	if c.Reduce.Repeat < 1 {
		return fmt.Errorf("reduce repeat must be at least 1")
	}
	switch c.Reduce.Strategy {
	case "auto", "memory", "shuffle":
	default:
		return fmt.Errorf("unsupported strategy: %s", c.Reduce.Strategy)
	}
	switch c.Reduce.Reducer {
	case "sum", "max", "minmax", "mean":
	default:
		return fmt.Errorf("unsupported reducer: %s", c.Reduce.Reducer)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	return nil
}
