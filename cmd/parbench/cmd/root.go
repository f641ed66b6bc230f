package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/parcore"
	"github.com/hupe1980/parcore/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *parcore.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "parbench",
	Short: "Exercise the parcore slot allocator and reductions",
	Long: `parbench drives the parcore primitives under load.

The bitset command hammers a slot allocator with concurrent acquire and
release cycles. The reduce command runs hierarchical reductions over random
input and checks the result against a sequential fold.

Settings come from parbench.yaml, PARBENCH_* environment variables and
command line flags, in increasing order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := slog.LevelInfo
		if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
		}
		if verbose {
			level = slog.LevelDebug
		}
		if cfg.Log.Format == "json" {
			logger = parcore.NewJSONLogger(level)
		} else {
			logger = parcore.NewTextLogger(level)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./parbench.yaml)")

	binName := BinName()
	rootCmd.Example = `  # Contend for 64 slots with 32 workers
  ` + binName + ` bitset --bound 64 --workers 32

  # Sum a million random values with the shuffle strategy
  ` + binName + ` reduce --values 1000000 --strategy shuffle

  # Use a config file
  ` + binName + ` reduce -c ./parbench.yaml`
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// newRuntime builds a runtime from the loaded config.
func newRuntime(metrics parcore.MetricsCollector) (*parcore.Runtime, error) {
	opts := []parcore.Option{
		parcore.WithLogger(logger),
		parcore.WithMetricsCollector(metrics),
		parcore.WithArenaChunkWords(cfg.Device.ArenaChunkWords),
		parcore.WithResourceConfig(parcore.ResourceConfig{
			MemoryLimitBytes:    cfg.Resource.MemoryLimitBytes,
			MaxConcurrentGroups: cfg.Resource.MaxConcurrentGroups,
			DispatchesPerSecond: cfg.Resource.DispatchesPerSecond,
			DispatchBurst:       cfg.Resource.DispatchBurst,
		}),
	}

	if cfg.Device.ISA != "" || cfg.Device.SubgroupSize > 0 || cfg.Device.MaxGroupSize > 0 {
		var (
			profile parcore.Profile
			err     error
		)
		if cfg.Device.ISA != "" {
			profile, err = parcore.ProfileForISA(cfg.Device.ISA)
		} else {
			profile, err = parcore.DetectProfile()
		}
		if err != nil {
			return nil, err
		}
		if cfg.Device.SubgroupSize > 0 {
			profile.SubgroupSize = cfg.Device.SubgroupSize
		}
		if cfg.Device.MaxGroupSize > 0 {
			profile.MaxGroupSize = cfg.Device.MaxGroupSize
		}
		opts = append(opts, parcore.WithProfile(profile))
	}

	return parcore.New(opts...)
}
