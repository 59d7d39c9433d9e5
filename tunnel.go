package omx

import (
	"context"
	"fmt"
)

// Tunnel is a platform-managed link from an output port to an input port.
type Tunnel struct {
	From    *Component
	OutPort uint32
	To      *Component
	InPort  uint32
}

func (t *Tunnel) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", t.From.name, t.OutPort, t.To.name, t.InPort)
}

// Connect tunnels a's output port to b's input port. Both components must
// be in Loaded. Tunneled ports never get buffers from Allocate.
func Connect(ctx context.Context, core Core, a *Component, outPort uint32, b *Component, inPort uint32) (*Tunnel, error) {
	fail := func(err error) (*Tunnel, error) {
		return nil, &TunnelError{From: a.name, OutPort: outPort, To: b.name, InPort: inPort, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	for _, c := range []*Component{a, b} {
		if err := c.AssertState(StateLoaded); err != nil {
			return fail(err)
		}
	}
	if err := core.SetupTunnel(a.h, outPort, b.h, inPort); err != nil {
		return fail(err)
	}
	a.markTunneled(outPort)
	b.markTunneled(inPort)
	t := &Tunnel{From: a, OutPort: outPort, To: b, InPort: inPort}
	a.log.Debugf("tunnel %s", t)
	return t, nil
}

// Enable enables both ends of the tunnel. No buffers are allocated.
func (t *Tunnel) Enable(ctx context.Context) error {
	if err := t.From.SetEnabled(ctx, t.OutPort, true); err != nil {
		return err
	}
	return t.To.SetEnabled(ctx, t.InPort, true)
}

// Disable disables both ends of the tunnel.
func (t *Tunnel) Disable(ctx context.Context) error {
	if err := t.From.SetEnabled(ctx, t.OutPort, false); err != nil {
		return err
	}
	return t.To.SetEnabled(ctx, t.InPort, false)
}

// Ends reports whether an event at (component id, port) belongs to this
// tunnel.
func (t *Tunnel) Ends(id int, port uint32) bool {
	return (id == t.From.id && port == t.OutPort) || (id == t.To.id && port == t.InPort)
}
