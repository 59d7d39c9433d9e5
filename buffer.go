package omx

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Owner says who may touch a buffer.
type Owner int32

const (
	OwnerApp      Owner = iota // held by the orchestrator
	OwnerPlatform              // submitted, in flight
)

func (o Owner) String() string {
	switch o {
	case OwnerApp:
		return "app"
	case OwnerPlatform:
		return "platform"
	default:
		return "unknown"
	}
}

// Buffer is one allocated OMX buffer header. Data is the whole allocation;
// Offset and FilledLen select the valid payload.
type Buffer struct {
	Port      uint32
	Data      []byte
	FilledLen int
	Offset    int
	Flags     BufferFlags

	owner atomic.Int32

	// set by the platform that allocated the buffer
	header uintptr
	priv   any
}

// NewBuffer wraps memory allocated by a platform.
func NewBuffer(port uint32, data []byte) *Buffer {
	return &Buffer{Port: port, Data: data}
}

// Owner reports who currently holds the buffer.
func (b *Buffer) Owner() Owner { return Owner(b.owner.Load()) }

// AllocLen is the buffer capacity.
func (b *Buffer) AllocLen() int { return len(b.Data) }

// Payload returns the valid bytes of a filled buffer.
func (b *Buffer) Payload() []byte {
	if b.FilledLen == 0 {
		return nil
	}
	return b.Data[b.Offset : b.Offset+b.FilledLen]
}

// Reset clears the payload and flags. The buffer must be owned by the app.
func (b *Buffer) Reset() error {
	if b.Owner() != OwnerApp {
		return ErrBufferInFlight
	}
	b.FilledLen = 0
	b.Offset = 0
	b.Flags = 0
	return nil
}

// Write copies p into the buffer after any payload already present.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.Owner() != OwnerApp {
		return 0, ErrBufferInFlight
	}
	n := copy(b.Data[b.Offset+b.FilledLen:], p)
	b.FilledLen += n
	if n < len(p) {
		return n, fmt.Errorf("omx: buffer full after %d of %d bytes", n, len(p))
	}
	return n, nil
}

// claim hands the buffer to the platform.
func (b *Buffer) claim() error {
	if !b.owner.CompareAndSwap(int32(OwnerApp), int32(OwnerPlatform)) {
		return ErrBufferInFlight
	}
	return nil
}

// release hands the buffer back to the app. Called from completion callbacks.
func (b *Buffer) release() {
	b.owner.Store(int32(OwnerApp))
}

// SetPlatformHeader associates platform-private state with the buffer.
func (b *Buffer) SetPlatformHeader(header uintptr, priv any) {
	b.header = header
	b.priv = priv
}

// PlatformHeader returns what SetPlatformHeader stored.
func (b *Buffer) PlatformHeader() (uintptr, any) { return b.header, b.priv }

// PortStats counts buffer operations on one port.
type PortStats struct {
	Allocated int
	Freed     int
	Submitted int
	Returned  int
}

// Outstanding returns the number of buffers allocated and not yet freed.
func (s PortStats) Outstanding() int { return s.Allocated - s.Freed }

// Allocate creates the buffers of a port. Count and size come from the
// port's current definition. The port must be enabled, or the component must
// be in Loaded while its ports are populated for the move to Idle.
func (c *Component) Allocate(ctx context.Context, port uint32) ([]*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.tunneled[port] {
		return nil, &AllocError{Component: c.name, Port: port, Err: ErrTunneledPort}
	}
	if len(c.buffers[port]) > 0 {
		return nil, &AllocError{Component: c.name, Port: port, Err: fmt.Errorf("port already populated")}
	}

	def, err := c.h.GetPortDefinition(port)
	if err != nil {
		return nil, &AllocError{Component: c.name, Port: port, Err: err}
	}
	if !def.Enabled {
		return nil, &AllocError{Component: c.name, Port: port, Err: fmt.Errorf("port disabled")}
	}
	if def.BufferSize == 0 || def.BufferCountActual == 0 {
		return nil, &AllocError{Component: c.name, Port: port,
			Err: fmt.Errorf("%w: %d x %d bytes", ErrBufferSize, def.BufferCountActual, def.BufferSize)}
	}

	bufs := make([]*Buffer, 0, def.BufferCountActual)
	for i := uint32(0); i < def.BufferCountActual; i++ {
		b, err := c.h.AllocateBuffer(port, int(def.BufferSize))
		if err != nil {
			c.buffers[port] = bufs
			return nil, &AllocError{Component: c.name, Port: port, Err: err}
		}
		if b.AllocLen() < int(def.BufferSize) {
			c.buffers[port] = append(bufs, b)
			return nil, &AllocError{Component: c.name, Port: port,
				Err: fmt.Errorf("%w: got %d want %d", ErrBufferSize, b.AllocLen(), def.BufferSize)}
		}
		b.Port = port
		bufs = append(bufs, b)
		c.stats(port).Allocated++
	}
	c.buffers[port] = bufs
	c.log.WithField("port", port).Debugf("allocated %d buffers of %d bytes", len(bufs), def.BufferSize)
	return append([]*Buffer(nil), bufs...), nil
}

// Free releases one buffer. The buffer must be held by the app and the port
// must be disabled, or the component must be on its way back to Loaded.
func (c *Component) Free(ctx context.Context, port uint32, b *Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeLocked(port, b)
}

func (c *Component) freeLocked(port uint32, b *Buffer) error {
	idx := -1
	for i, have := range c.buffers[port] {
		if have == b {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("omx: %s port %d: buffer not allocated here", c.name, port)
	}
	if b.Owner() != OwnerApp {
		return ErrBufferInFlight
	}
	if !c.unloading {
		def, err := c.h.GetPortDefinition(port)
		if err != nil {
			return err
		}
		if def.Enabled {
			return fmt.Errorf("omx: %s port %d: %w", c.name, port, ErrPortEnabled)
		}
	}
	if err := c.h.FreeBuffer(port, b); err != nil {
		return err
	}
	bufs := c.buffers[port]
	c.buffers[port] = append(bufs[:idx], bufs[idx+1:]...)
	c.stats(port).Freed++
	return nil
}

// FreeAll releases every buffer of a port.
func (c *Component) FreeAll(ctx context.Context, port uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	bufs := append([]*Buffer(nil), c.buffers[port]...)
	for _, b := range bufs {
		if err := c.freeLocked(port, b); err != nil {
			return err
		}
	}
	return nil
}

// Buffers returns the buffers currently allocated on a port.
func (c *Component) Buffers(port uint32) []*Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Buffer(nil), c.buffers[port]...)
}

// Stats returns buffer accounting for a port.
func (c *Component) Stats(port uint32) PortStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.stats(port)
}

func (c *Component) stats(port uint32) *PortStats {
	s, ok := c.portStats[port]
	if !ok {
		s = &PortStats{}
		c.portStats[port] = s
	}
	return s
}

// EmptyBuffer submits a filled input buffer.
func (c *Component) EmptyBuffer(b *Buffer) error {
	if err := b.claim(); err != nil {
		return err
	}
	if err := c.h.EmptyThisBuffer(b); err != nil {
		b.release()
		return fmt.Errorf("omx: %s empty buffer: %w", c.name, err)
	}
	c.mu.Lock()
	c.stats(b.Port).Submitted++
	c.mu.Unlock()
	return nil
}

// FillBuffer submits an output buffer to be filled.
func (c *Component) FillBuffer(b *Buffer) error {
	if err := b.Reset(); err != nil {
		return err
	}
	if err := b.claim(); err != nil {
		return err
	}
	if err := c.h.FillThisBuffer(b); err != nil {
		b.release()
		return fmt.Errorf("omx: %s fill buffer: %w", c.name, err)
	}
	c.mu.Lock()
	c.stats(b.Port).Submitted++
	c.mu.Unlock()
	return nil
}

func (c *Component) returned(b *Buffer) {
	c.mu.Lock()
	c.stats(b.Port).Returned++
	c.mu.Unlock()
}
