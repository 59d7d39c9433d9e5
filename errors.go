package omx

import (
	"errors"
	"fmt"
)

var (
	// ErrPlatformUnavailable is returned when no OpenMAX IL core can be loaded.
	ErrPlatformUnavailable = errors.New("omx: platform unavailable")

	// ErrUnsupported is returned when a port does not list the requested format.
	ErrUnsupported = errors.New("omx: format not supported by port")

	// ErrNoMore ends an indexed enumeration (OMX_ErrorNoMore).
	ErrNoMore = errors.New("omx: no more items")

	// ErrClosed is returned when a pipeline or component was already torn down.
	ErrClosed = errors.New("omx: already closed")

	// ErrHandleActive is returned when a handle is released outside Loaded.
	ErrHandleActive = errors.New("omx: handle still active")

	// ErrBufferInFlight is returned when the orchestrator touches a buffer the
	// platform currently owns.
	ErrBufferInFlight = errors.New("omx: buffer owned by platform")

	// ErrBufferSize is returned when a buffer does not match the port's
	// negotiated buffer size.
	ErrBufferSize = errors.New("omx: buffer size mismatch")

	// ErrTunneledPort is returned when buffers are requested for a tunneled port.
	ErrTunneledPort = errors.New("omx: port is tunneled")

	// ErrPortEnabled is returned when a buffer is freed while its port is enabled.
	ErrPortEnabled = errors.New("omx: port still enabled")

	// ErrStalled is returned when the pump loop sees no platform event in time.
	ErrStalled = errors.New("omx: pipeline stalled")
)

// PlatformError wraps a non-success OMX_ERRORTYPE returned by a platform call.
type PlatformError struct {
	Op   string
	Code ErrorCode
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("omx: %s: %s (0x%08x)", e.Op, e.Code, uint32(e.Code))
}

// Is lets errors.Is match ErrNoMore against the platform's NoMore code.
func (e *PlatformError) Is(target error) bool {
	return target == ErrNoMore && e.Code == ErrorNoMore
}

// checkCode turns a platform return code into an error.
func checkCode(op string, code ErrorCode) error {
	if code == ErrorNone {
		return nil
	}
	return &PlatformError{Op: op, Code: code}
}

// OpenError is returned when a named component cannot be instantiated.
type OpenError struct {
	Name string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("omx: open %s: %v", e.Name, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// TimeoutKind names the wait that ran out of retries.
type TimeoutKind int

const (
	TimeoutStateTransition TimeoutKind = iota
	TimeoutPortNegotiation
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutStateTransition:
		return "state transition"
	case TimeoutPortNegotiation:
		return "port negotiation"
	default:
		return "unknown"
	}
}

// TimeoutError is returned when the platform never acknowledged a change.
type TimeoutError struct {
	Kind      TimeoutKind
	Component string
	Port      uint32
	Want      string
	Attempts  int
}

func (e *TimeoutError) Error() string {
	if e.Kind == TimeoutPortNegotiation {
		return fmt.Sprintf("omx: %s timeout: %s port %d never became %s after %d attempts",
			e.Kind, e.Component, e.Port, e.Want, e.Attempts)
	}
	return fmt.Sprintf("omx: %s timeout: %s never reached %s after %d attempts",
		e.Kind, e.Component, e.Want, e.Attempts)
}

// StreamCorruptError records a tolerated corrupt-stream report. The pipeline
// keeps running but its output must be treated as invalid.
type StreamCorruptError struct {
	Component string
	Port      uint32
}

func (e *StreamCorruptError) Error() string {
	return fmt.Sprintf("omx: %s reported a corrupt stream (port %d)", e.Component, e.Port)
}

// UnexpectedPlatformError is a fatal error event raised by a component.
type UnexpectedPlatformError struct {
	Component string
	Code      ErrorCode
	Data      uint32
}

func (e *UnexpectedPlatformError) Error() string {
	return fmt.Sprintf("omx: %s raised %s (0x%08x, data 0x%x)", e.Component, e.Code, uint32(e.Code), e.Data)
}

// AllocError is returned when buffers cannot be allocated on a port.
type AllocError struct {
	Component string
	Port      uint32
	Err       error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("omx: allocate buffers on %s port %d: %v", e.Component, e.Port, e.Err)
}

func (e *AllocError) Unwrap() error { return e.Err }

// TunnelError is returned when two ports cannot be tunneled.
type TunnelError struct {
	From    string
	OutPort uint32
	To      string
	InPort  uint32
	Err     error
}

func (e *TunnelError) Error() string {
	return fmt.Sprintf("omx: tunnel %s:%d -> %s:%d: %v", e.From, e.OutPort, e.To, e.InPort, e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }
