// Package cpuspec picks inference thread counts from the host CPU topology.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// MaxInferenceThreads caps automatic thread selection. One second windows
// are too small to benefit from more.
const MaxInferenceThreads = 4

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PerformanceCores int // 0 when unknown or not a hybrid design
}

// GetCPUSpec returns the specification of the host CPU.
func GetCPUSpec() CPUSpec {
	brandName := cpuid.CPU.BrandName
	return CPUSpec{
		BrandName:        brandName,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: performanceCores(brandName),
	}
}

// GetOptimalThreadCount returns the recommended inference thread count:
// performance cores on hybrid CPUs, logical cores otherwise, never more than
// the CPUs available to the process.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()
	n := c.PerformanceCores
	if n <= 0 {
		n = c.LogicalCores
	}
	if n <= 0 || n > available {
		n = available
	}
	return n
}

// ThreadCount resolves a configured thread count. Zero selects
// automatically, capped at MaxInferenceThreads; explicit values are capped at
// the available CPUs.
func ThreadCount(configured int) int {
	available := runtime.NumCPU()
	if configured > 0 {
		return min(configured, available)
	}
	return max(1, min(GetCPUSpec().GetOptimalThreadCount(), MaxInferenceThreads))
}

var (
	intelHybridRegex = regexp.MustCompile(`intel.*core.*i[3579]-(1[234]\d{3})`)
	intelUltraRegex  = regexp.MustCompile(`intel.*core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3})`)
	appleRegex       = regexp.MustCompile(`apple\s+(m[1-4](?:\s*(?:pro|max|ultra))?)`)
)

// intelHybridPCores maps 12th to 14th gen desktop model numbers to P-cores.
var intelHybridPCores = map[string]int{
	"12900": 8, "12700": 8, "12600": 6, "12400": 6, "12100": 4,
	"13900": 8, "13700": 8, "13600": 6, "13500": 6, "13400": 6, "13100": 4,
	"14900": 8, "14700": 8, "14600": 6, "14400": 6, "14100": 4,
}

var intelUltraPCores = map[string]int{
	"285": 8, "265": 8, "255": 8, "235": 6, "225": 4,
}

// applePCores uses the larger binning where a chip ships in two variants.
var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

func performanceCores(brandName string) int {
	brand := strings.ToLower(brandName)

	if m := intelHybridRegex.FindStringSubmatch(brand); m != nil {
		return intelHybridPCores[m[1]]
	}
	if m := intelUltraRegex.FindStringSubmatch(brand); m != nil {
		return intelUltraPCores[m[2]]
	}
	if m := appleRegex.FindStringSubmatch(brand); m != nil {
		chip := strings.Join(strings.Fields(m[1]), " ")
		return applePCores[chip]
	}
	return 0
}
