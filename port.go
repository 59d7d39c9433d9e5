package omx

import (
	"context"
	"errors"
	"fmt"
)

// DefaultSliceHeight is used on ports that accept sliced buffers.
const DefaultSliceHeight = 16

// PortFormat returns the port's current definition.
func (c *Component) PortFormat(ctx context.Context, port uint32) (PortDefinition, error) {
	if err := ctx.Err(); err != nil {
		return PortDefinition{}, err
	}
	def, err := c.h.GetPortDefinition(port)
	if err != nil {
		return PortDefinition{}, fmt.Errorf("omx: %s port %d definition: %w", c.name, port, err)
	}
	return def, nil
}

// Supports reports whether a port lists the given coding and color format.
func (c *Component) Supports(port uint32, coding ImageCoding, color ColorFormat) (bool, error) {
	for i := uint32(0); ; i++ {
		f, err := c.h.GetImagePortFormat(port, i)
		if errors.Is(err, ErrNoMore) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("omx: %s port %d format %d: %w", c.name, port, i, err)
		}
		if f.Compression == coding && (coding != CodingUnused || f.Color == color) {
			return true, nil
		}
	}
}

// Formats lists every format a port supports.
func (c *Component) Formats(port uint32) ([]ImagePortFormat, error) {
	var out []ImagePortFormat
	for i := uint32(0); ; i++ {
		f, err := c.h.GetImagePortFormat(port, i)
		if errors.Is(err, ErrNoMore) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}

// SetPortFormat applies geometry and encoding to a port. The encoding is
// checked against the port's format list first; a miss returns
// ErrUnsupported before anything is changed. Buffer size is left to the
// platform and read back by Allocate.
func (c *Component) SetPortFormat(ctx context.Context, port uint32, want PortDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := c.Supports(port, want.Compression, want.Color)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("omx: %s port %d %s/%s: %w", c.name, port, want.Compression, want.Color, ErrUnsupported)
	}

	def, err := c.h.GetPortDefinition(port)
	if err != nil {
		return fmt.Errorf("omx: %s port %d definition: %w", c.name, port, err)
	}
	def.Width = want.Width
	def.Height = want.Height
	def.Stride = want.Stride
	def.SliceHeight = want.SliceHeight
	def.Compression = want.Compression
	def.Color = want.Color
	if want.BufferCountActual != 0 {
		def.BufferCountActual = want.BufferCountActual
	}
	if err := c.h.SetPortDefinition(def); err != nil {
		return fmt.Errorf("omx: %s port %d set definition: %w", c.name, port, err)
	}
	c.log.WithField("port", port).Debugf("format %dx%d %s/%s", want.Width, want.Height, want.Compression, want.Color)
	return nil
}

// SetCompression selects the coding of a compressed port.
func (c *Component) SetCompression(ctx context.Context, port uint32, coding ImageCoding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := c.Supports(port, coding, ColorUnused)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("omx: %s port %d %s: %w", c.name, port, coding, ErrUnsupported)
	}
	f := ImagePortFormat{Port: port, Compression: coding, Color: ColorUnused}
	if err := c.h.SetImagePortFormat(f); err != nil {
		return fmt.Errorf("omx: %s port %d set coding: %w", c.name, port, err)
	}
	return nil
}

// SetEnabled enables or disables a port and waits until the definition
// reflects it. A timed out wait is retried once.
func (c *Component) SetEnabled(ctx context.Context, port uint32, enabled bool) error {
	cmd := CommandPortDisable
	if enabled {
		cmd = CommandPortEnable
	}
	def, err := c.h.GetPortDefinition(port)
	if err != nil {
		return fmt.Errorf("omx: %s port %d definition: %w", c.name, port, err)
	}
	if def.Enabled == enabled {
		return nil
	}
	if err := c.h.SendCommand(cmd, port); err != nil {
		return fmt.Errorf("omx: %s %s %d: %w", c.name, cmd, port, err)
	}

	err = c.waitEnabled(ctx, port, enabled)
	var te *TimeoutError
	if errors.As(err, &te) {
		c.log.WithField("port", port).Warnf("still waiting for %s, retrying", cmd)
		err = c.waitEnabled(ctx, port, enabled)
	}
	if err == nil {
		c.log.WithField("port", port).Debugf("%s done", cmd)
	}
	return err
}

func (c *Component) waitEnabled(ctx context.Context, port uint32, enabled bool) error {
	ok, tries, err := c.await(ctx, c.timeouts.PortAttempts, func() (bool, error) {
		def, err := c.h.GetPortDefinition(port)
		if err != nil {
			return false, err
		}
		return def.Enabled == enabled, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		want := "disabled"
		if enabled {
			want = "enabled"
		}
		return &TimeoutError{Kind: TimeoutPortNegotiation, Component: c.name, Port: port, Want: want, Attempts: tries}
	}
	return nil
}

// DisableAll disables every image port of the component.
func (c *Component) DisableAll(ctx context.Context) error {
	for _, p := range c.Ports() {
		if err := c.SetEnabled(ctx, p, false); err != nil {
			return err
		}
	}
	return nil
}

// Ports returns the discovered input and output ports.
func (c *Component) Ports() []uint32 {
	var ports []uint32
	if c.HasInput {
		ports = append(ports, c.InPort)
	}
	if c.HasOutput {
		ports = append(ports, c.OutPort)
	}
	return ports
}

// SetInputCrop selects the source rectangle of a resize input.
func (c *Component) SetInputCrop(ctx context.Context, port uint32, crop Crop) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.h.SetInputCrop(port, crop); err != nil {
		return fmt.Errorf("omx: %s port %d crop: %w", c.name, port, err)
	}
	return nil
}

// SetQuality sets the JPEG quality factor (1-100) of an encoder output.
func (c *Component) SetQuality(ctx context.Context, port uint32, q int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if q < 1 || q > 100 {
		return fmt.Errorf("omx: quality %d out of range 1-100", q)
	}
	if err := c.h.SetQFactor(port, uint32(q)); err != nil {
		return fmt.Errorf("omx: %s port %d quality: %w", c.name, port, err)
	}
	return nil
}

// SliceHeight returns the slice height to request on a raw port: the given
// height when the port cannot take slices, DefaultSliceHeight otherwise.
func (c *Component) SliceHeight(port uint32, height uint32) uint32 {
	if c.h.SupportsSlices(port) && height > DefaultSliceHeight {
		return DefaultSliceHeight
	}
	return height
}

// CheckStreams fails if a decoder output reports no decodable stream.
func (c *Component) CheckStreams(port uint32) error {
	n, err := c.h.NumAvailableStreams(port)
	if err != nil {
		return fmt.Errorf("omx: %s port %d streams: %w", c.name, port, err)
	}
	if n == 0 {
		return fmt.Errorf("omx: %s port %d: no streams available", c.name, port)
	}
	return nil
}

// SetContentURI names the file a reader component reads from. The component
// must be in Loaded.
func (c *Component) SetContentURI(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.h.SetContentURI(uri); err != nil {
		return fmt.Errorf("omx: %s content uri %q: %w", c.name, uri, err)
	}
	return nil
}
