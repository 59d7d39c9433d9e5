package omx

import (
	"fmt"
	"strings"
)

// Backend identifies an OpenMAX IL core implementation.
type Backend uint8

const (
	BackendAuto   Backend = iota // Native when the library loads, else sim
	BackendNative                // libopenmaxil via purego
	BackendSim                   // In-process software components
	backendCount
)

// backendMeta contains static metadata about a backend.
type backendMeta struct {
	Name     string
	Hardware bool
}

var backendInfo = [backendCount]backendMeta{
	BackendAuto:   {"auto", false},
	BackendNative: {"native", true},
	BackendSim:    {"sim", false},
}

// String returns the backend name.
func (b Backend) String() string {
	if b >= backendCount {
		return "unknown"
	}
	return backendInfo[b].Name
}

// Hardware returns true if the backend drives real codec hardware.
func (b Backend) Hardware() bool {
	if b >= backendCount {
		return false
	}
	return backendInfo[b].Hardware
}

// Available returns true if the backend is usable at runtime.
func (b Backend) Available() bool {
	switch b {
	case BackendNative:
		return nativeAvailable()
	case BackendSim, BackendAuto:
		return true
	}
	return false
}

// ParseBackend resolves a backend name.
func ParseBackend(name string) (Backend, error) {
	for b := Backend(0); b < backendCount; b++ {
		if strings.EqualFold(name, backendInfo[b].Name) {
			return b, nil
		}
	}
	return BackendAuto, fmt.Errorf("unknown platform %q", name)
}

// NewCore returns the core for a backend. libPath only applies to the
// native core.
func NewCore(b Backend, libPath string) (Core, Backend, error) {
	switch b {
	case BackendNative:
		core, err := NewNativeCore(libPath)
		return core, BackendNative, err
	case BackendSim:
		return NewSimCore(), BackendSim, nil
	case BackendAuto:
		if core, err := NewNativeCore(libPath); err == nil {
			return core, BackendNative, nil
		}
		return NewSimCore(), BackendSim, nil
	}
	return nil, b, fmt.Errorf("omx: unknown backend %d", b)
}
