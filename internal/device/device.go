// Package device resolves the compute device the encoder runs on.
//
// Resolution happens once at startup: a Preference from configuration and a
// Probe describing the host produce a concrete Device. The same Probe is
// consulted again before each forward pass so that an accelerator that
// disappears at runtime is reported instead of crashing the runtime.
package device

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Preference is the configured device policy.
type Preference string

const (
	// PreferAuto picks CUDA when present, otherwise CPU.
	PreferAuto Preference = "auto"
	// PreferCPU always runs on the CPU.
	PreferCPU Preference = "cpu"
	// PreferCUDA requires a CUDA device.
	PreferCUDA Preference = "cuda"
)

// Device is a resolved compute device.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

// ErrUnavailable is returned when a required device is not present.
var ErrUnavailable = errors.New("device unavailable")

// Accelerator reports whether d is not the host CPU.
func (d Device) Accelerator() bool {
	return d != CPU
}

func (d Device) String() string {
	return string(d)
}

// ParsePreference parses a configured preference, case-insensitively.
func ParsePreference(s string) (Preference, error) {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case PreferAuto, PreferCPU, PreferCUDA:
		return p, nil
	case "":
		return PreferAuto, nil
	default:
		return "", fmt.Errorf("unknown device preference %q (supported: auto, cpu, cuda)", s)
	}
}

// Probe reports which accelerators the host currently exposes.
type Probe interface {
	CUDAAvailable() bool
}

// Resolve picks the device for pref given what probe reports.
func Resolve(pref Preference, probe Probe) (Device, error) {
	switch pref {
	case PreferCPU:
		return CPU, nil
	case PreferCUDA:
		if probe != nil && probe.CUDAAvailable() {
			return CUDA, nil
		}
		return "", fmt.Errorf("%w: cuda requested but no CUDA device found", ErrUnavailable)
	case PreferAuto, "":
		if probe != nil && probe.CUDAAvailable() {
			return CUDA, nil
		}
		return CPU, nil
	default:
		return "", fmt.Errorf("unknown device preference %q", pref)
	}
}

// Available reports whether d can still be used according to probe.
// The CPU is always available.
func Available(d Device, probe Probe) bool {
	switch d {
	case CPU:
		return true
	case CUDA:
		return probe == nil || probe.CUDAAvailable()
	default:
		return false
	}
}

// SystemProbe inspects the local machine. Zero value is ready to use.
type SystemProbe struct {
	// Stat and LookupEnv default to os.Stat and os.LookupEnv.
	Stat      func(name string) (os.FileInfo, error)
	LookupEnv func(key string) (string, bool)
}

var nvidiaPaths = []string{"/dev/nvidia0", "/proc/driver/nvidia/gpus"}

// CUDAAvailable reports whether an NVIDIA device node is present and not
// hidden through CUDA_VISIBLE_DEVICES.
func (p SystemProbe) CUDAAvailable() bool {
	lookupEnv := p.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if v, ok := lookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		v = strings.TrimSpace(v)
		if v == "" || v == "-1" {
			return false
		}
	}
	stat := p.Stat
	if stat == nil {
		stat = os.Stat
	}
	for _, path := range nvidiaPaths {
		if _, err := stat(path); err == nil {
			return true
		}
	}
	return false
}

// StaticProbe reports a fixed answer. Used in tests and when the device is forced.
type StaticProbe bool

// CUDAAvailable returns the fixed answer.
func (p StaticProbe) CUDAAvailable() bool {
	return bool(p)
}
