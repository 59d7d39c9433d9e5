//go:build !linux || noomx

package omx

// NewNativeCore reports ErrPlatformUnavailable: the VideoCore OpenMAX IL core
// only exists on Linux.
func NewNativeCore(libPath string) (Core, error) {
	return nil, ErrPlatformUnavailable
}

func nativeAvailable() bool { return false }
