// Package device enumerates the logical compute slots the mirrored strategy
// replicates models onto.
//
// Each slot maps to a CPU worker; the package reports the host's vector ISA
// via cpuid so training logs show what the replicas are actually running on.
package device

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Device is one replica slot.
type Device struct {
	ID   int
	Kind string
	Name string
}

// String renders "cpu:0 (...)" for logs.
func (d Device) String() string {
	return fmt.Sprintf("%s:%d (%s)", d.Kind, d.ID, d.Name)
}

// Discover returns n replica slots; n <= 0 selects one slot per logical CPU.
func Discover(n int) []Device {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	name := fmt.Sprintf("%s, %s", brand, vectorISA())

	devices := make([]Device, n)
	for i := range devices {
		devices[i] = Device{ID: i, Kind: "cpu", Name: name}
	}
	return devices
}

// vectorISA names the widest vector extension available.
func vectorISA() string {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ):
		return "avx512"
	case cpuid.CPU.Supports(cpuid.AVX2):
		return "avx2"
	case cpuid.CPU.Supports(cpuid.AVX):
		return "avx"
	case cpuid.CPU.Supports(cpuid.ASIMD):
		return "neon"
	default:
		return "scalar"
	}
}
