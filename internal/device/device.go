// Package device reports where a participant runs its model. Accelerator
// support is pluggable: an accelerator-backed build registers a probe, and
// without one every participant trains on the CPU.
package device

import "github.com/klauspost/cpuid/v2"

// Info describes the device a participant trains on.
type Info struct {
	Kind string // "cpu" or "accelerator"
	Name string
}

// Probe reports an available accelerator, if any.
type Probe func() (name string, ok bool)

var acceleratorProbe Probe

// RegisterAcceleratorProbe installs the accelerator probe. Passing nil
// removes it.
func RegisterAcceleratorProbe(p Probe) {
	acceleratorProbe = p
}

// Detect returns the best available device: a probed accelerator when one is
// registered and present, otherwise the host CPU identified by its brand
// string.
func Detect() Info {
	if acceleratorProbe != nil {
		if name, ok := acceleratorProbe(); ok {
			return Info{Kind: "accelerator", Name: name}
		}
	}
	name := cpuid.CPU.BrandName
	if name == "" {
		name = "CPU"
	}
	return Info{Kind: "cpu", Name: name}
}
