package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Device.ISA)
	assert.Equal(t, 64*1024, cfg.Device.ArenaChunkWords)
	assert.Equal(t, 1024, cfg.Bitset.Bound)
	assert.Equal(t, 8, cfg.Bitset.Workers)
	assert.Equal(t, "clock", cfg.Bitset.Hint)
	assert.Equal(t, time.Duration(0), cfg.Bitset.Hold)
	assert.False(t, cfg.Bitset.Recycle)
	assert.Empty(t, cfg.Bitset.Dump)
	assert.False(t, cfg.Reduce.NoWait)
	assert.Equal(t, 1<<20, cfg.Reduce.Values)
	assert.Equal(t, "auto", cfg.Reduce.Strategy)
	assert.Equal(t, "sum", cfg.Reduce.Reducer)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "parbench.yaml")
	content := `
device:
  isa: avx512
  subgroup_size: 16
resource:
  memory_limit_bytes: 1048576
  max_concurrent_groups: 4
  dispatches_per_second: 100.5
bitset:
  bound: 100
  workers: 32
  hint: zipf
  zipf_s: 1.5
  hold: 10us
  recycle: true
  dump: slots.bin
reduce:
  values: 4096
  value_count: 2
  strategy: shuffle
  reducer: minmax
  debug: true
  no_wait: true
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "avx512", cfg.Device.ISA)
	assert.Equal(t, 16, cfg.Device.SubgroupSize)
	assert.Equal(t, int64(1<<20), cfg.Resource.MemoryLimitBytes)
	assert.Equal(t, int64(4), cfg.Resource.MaxConcurrentGroups)
	assert.InDelta(t, 100.5, cfg.Resource.DispatchesPerSecond, 1e-9)
	assert.Equal(t, 100, cfg.Bitset.Bound)
	assert.Equal(t, 32, cfg.Bitset.Workers)
	assert.Equal(t, 10*time.Microsecond, cfg.Bitset.Hold)
	assert.True(t, cfg.Bitset.Recycle)
	assert.Equal(t, "slots.bin", cfg.Bitset.Dump)
	assert.Equal(t, 4096, cfg.Reduce.Values)
	assert.Equal(t, 2, cfg.Reduce.ValueCount)
	assert.True(t, cfg.Reduce.Debug)
	assert.True(t, cfg.Reduce.NoWait)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PARBENCH_BITSET_WORKERS", "3")
	t.Setenv("PARBENCH_REDUCE_STRATEGY", "memory")
	t.Setenv("PARBENCH_BITSET_RECYCLE", "true")
	t.Setenv("PARBENCH_REDUCE_NO_WAIT", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Bitset.Workers)
	assert.Equal(t, "memory", cfg.Reduce.Strategy)
	assert.True(t, cfg.Bitset.Recycle)
	assert.True(t, cfg.Reduce.NoWait)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Bitset.Bound)
}

func TestLoad_Malformed(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "parbench.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("bitset: [\n"), 0o644))

	_, err := Load(configFile)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"ZeroBound", "bitset:\n  bound: 0\n"},
		{"NoWorkers", "bitset:\n  workers: 0\n"},
		{"UnknownHint", "bitset:\n  hint: gaussian\n"},
		{"FlatZipf", "bitset:\n  hint: zipf\n  zipf_s: 1.0\n"},
		{"NegativeMemory", "resource:\n  memory_limit_bytes: -1\n"},
		{"NoValues", "reduce:\n  values: 0\n"},
		{"UnknownStrategy", "reduce:\n  strategy: tree\n"},
		{"UnknownReducer", "reduce:\n  reducer: median\n"},
		{"NoRepeat", "reduce:\n  repeat: 0\n"},
		{"UnknownLogFormat", "log:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader("yaml", []byte(tt.content))
			require.Error(t, err)
		})
	}

	cfg, err := LoadFromReader("yaml", []byte("bitset:\n  hint: uniform\n"))
	require.NoError(t, err)
	assert.Equal(t, "uniform", cfg.Bitset.Hint)
}
