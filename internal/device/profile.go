package device

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// ISA is the vector instruction set a profile was derived from.
type ISA uint8

const (
	// Generic is a host without a usable vector unit.
	Generic ISA = iota
	// NEON is ARM64 ASIMD (128-bit).
	NEON
	// SVE2 is ARM64 SVE2.
	SVE2
	// AVX2 is x86-64 AVX2 with FMA (256-bit).
	AVX2
	// AVX512 is x86-64 AVX-512 F+BW (512-bit).
	AVX512
)

// String returns the string representation of an ISA.
func (i ISA) String() string {
	switch i {
	case Generic:
		return "generic"
	case NEON:
		return "neon"
	case SVE2:
		return "sve2"
	case AVX2:
		return "avx2"
	case AVX512:
		return "avx512"
	default:
		return "unknown"
	}
}

// ParseISA parses a string into an ISA value.
func ParseISA(s string) (ISA, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "generic":
		return Generic, true
	case "neon":
		return NEON, true
	case "sve2":
		return SVE2, true
	case "avx2":
		return AVX2, true
	case "avx512":
		return AVX512, true
	default:
		return Generic, false
	}
}

const (
	// ShuffleUnrollBound is the widest subgroup the unrolled register exchange
	// covers with strides 1, 2, 4, 8, 16.
	ShuffleUnrollBound = 32

	// DefaultMaxGroupSize is the largest workgroup a profile allows unless
	// configured otherwise.
	DefaultMaxGroupSize = 256

	// EnvISA forces the ISA used for detection.
	EnvISA = "PARCORE_ISA"
	// EnvSubgroupSize overrides the detected subgroup width.
	EnvSubgroupSize = "PARCORE_SUBGROUP_SIZE"
)

// CPU feature flags, set by the platform init.
var (
	hasASIMD    bool
	hasSVE2     bool
	hasAVX2     bool
	hasAVX512F  bool
	hasAVX512BW bool
)

// Profile is the hardware shape dispatches are built for.
type Profile struct {
	ISA ISA
	// SubgroupSize is the number of lanes that exchange values without
	// shared memory.
	SubgroupSize int
	// MaxGroupSize caps the lanes per workgroup.
	MaxGroupSize int
	// UnrolledShuffle limits the register exchange to the strides
	// 1, 2, 4, 8, 16. Subgroups wider than ShuffleUnrollBound are rejected.
	UnrolledShuffle bool
}

// Validate checks that the profile describes a runnable device.
func (p Profile) Validate() error {
	if p.SubgroupSize <= 0 {
		return fmt.Errorf("device: subgroup size must be positive, got %d", p.SubgroupSize)
	}
	if p.MaxGroupSize < p.SubgroupSize {
		return fmt.Errorf("device: max group size %d below subgroup size %d", p.MaxGroupSize, p.SubgroupSize)
	}
	if p.UnrolledShuffle && p.SubgroupSize > ShuffleUnrollBound {
		return fmt.Errorf("device: subgroup size %d exceeds unrolled shuffle bound %d", p.SubgroupSize, ShuffleUnrollBound)
	}
	return nil
}

// String implements fmt.Stringer.
func (p Profile) String() string {
	return fmt.Sprintf("%s/sg%d/wg%d", p.ISA, p.SubgroupSize, p.MaxGroupSize)
}

// ForISA returns the profile for a given ISA: one lane per 32-bit element of
// a vector register.
func ForISA(isa ISA) Profile {
	p := Profile{ISA: isa, MaxGroupSize: DefaultMaxGroupSize, UnrolledShuffle: true}
	switch isa {
	case AVX512:
		p.SubgroupSize = 16
	case NEON, SVE2:
		p.SubgroupSize = 4
	default:
		p.SubgroupSize = 8
	}
	return p
}

// Detect returns the profile of the host CPU, honoring PARCORE_ISA and
// PARCORE_SUBGROUP_SIZE.
func Detect() (Profile, error) {
	return detect(os.Getenv)
}

func detect(getenv func(string) string) (Profile, error) {
	isa := bestISA()
	if v := getenv(EnvISA); v != "" {
		forced, ok := ParseISA(v)
		if !ok {
			return Profile{}, fmt.Errorf("device: unknown %s %q", EnvISA, v)
		}
		// Unavailable overrides fall back to auto-detection.
		if Available(forced) {
			isa = forced
		}
	}

	p := ForISA(isa)
	if v := getenv(EnvSubgroupSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Profile{}, fmt.Errorf("device: %s: %w", EnvSubgroupSize, err)
		}
		p.SubgroupSize = n
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Available reports whether the host CPU supports isa.
func Available(isa ISA) bool {
	switch isa {
	case Generic:
		return true
	case NEON:
		return hasASIMD
	case SVE2:
		return hasSVE2
	case AVX2:
		return hasAVX2
	case AVX512:
		return hasAVX512F && hasAVX512BW
	default:
		return false
	}
}

func bestISA() ISA {
	switch runtime.GOARCH {
	case "arm64":
		// Apple silicon emulates SVE2; prefer NEON there.
		if hasSVE2 && runtime.GOOS != "darwin" {
			return SVE2
		}
		if hasASIMD {
			return NEON
		}
	case "amd64":
		if hasAVX512F && hasAVX512BW {
			return AVX512
		}
		if hasAVX2 {
			return AVX2
		}
	}
	return Generic
}
