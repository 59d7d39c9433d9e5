package omx

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// teardownTimeout bounds Close after a run, including one that was cancelled.
const teardownTimeout = 10 * time.Second

// Options are shared by every scenario.
type Options struct {
	Core     Core           // Initialized platform core
	Timeouts Timeouts       // Zero fields take DefaultTimeouts
	Log      *logrus.Logger // Defaults to the standard logger
}

// run builds a pipeline, runs it and always tears it down.
func run(ctx context.Context, o Options, build func(ctx context.Context, p *Pipeline) (*Pump, error)) (res *Result, err error) {
	p, err := NewPipeline(PipelineConfig{Core: o.Core, Timeouts: o.Timeouts, Log: o.Log})
	if err != nil {
		return nil, err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if cerr := p.Close(cctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	pump, err := build(ctx, p)
	if err != nil {
		p.Log().WithError(err).Error("pipeline setup failed")
		return nil, err
	}
	return p.Run(ctx, pump)
}

// enableAndAllocate enables a port and allocates its buffers.
func enableAndAllocate(ctx context.Context, c *Component, port uint32) ([]*Buffer, error) {
	if err := c.SetEnabled(ctx, port, true); err != nil {
		return nil, err
	}
	return c.Allocate(ctx, port)
}

// rawPortDefinition describes a raw image port, sliced when the port allows.
func rawPortDefinition(c *Component, port uint32, g Geometry) PortDefinition {
	return PortDefinition{
		Width:       uint32(g.Width),
		Height:      uint32(g.Height),
		Stride:      int32(g.Stride),
		SliceHeight: c.SliceHeight(port, uint32(g.Height)),
		Compression: CodingUnused,
		Color:       g.Color,
	}
}

func orDefault(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

// Decode decodes a compressed image into raw pixels. The output port is set
// up once the decoder has parsed the stream header.
type Decode struct {
	Options
	Component string      // Defaults to ImageDecodeName
	Coding    ImageCoding // Defaults to CodingJPEG
	Color     ColorFormat // Output layout; unused keeps the decoder's choice
}

func (s *Decode) Run(ctx context.Context, src Source, sink Sink) (*Result, error) {
	coding := s.Coding
	if coding == CodingUnused {
		coding = CodingJPEG
	}
	return run(ctx, s.Options, func(ctx context.Context, p *Pipeline) (*Pump, error) {
		dec, err := p.Open(ctx, orDefault(s.Component, ImageDecodeName))
		if err != nil {
			return nil, err
		}
		if err := dec.DisableAll(ctx); err != nil {
			return nil, err
		}
		if err := dec.Transition(ctx, StateIdle); err != nil {
			return nil, err
		}
		if err := dec.SetCompression(ctx, dec.InPort, coding); err != nil {
			return nil, err
		}
		inBufs, err := enableAndAllocate(ctx, dec, dec.InPort)
		if err != nil {
			return nil, err
		}
		if err := dec.Transition(ctx, StateExecuting); err != nil {
			return nil, err
		}

		pump := p.NewPump()
		pump.FeedInput(dec, dec.InPort, inBufs, src)
		pump.DrainOutput(dec, dec.OutPort, sink, false)
		pump.OnSettingsChanged(dec, dec.OutPort, func(ctx context.Context, ev Event) error {
			if err := dec.CheckStreams(dec.OutPort); err != nil {
				return err
			}
			if s.Color != ColorUnused {
				def, err := dec.PortFormat(ctx, dec.OutPort)
				if err != nil {
					return err
				}
				def.Color, def.Stride = s.Color, 0
				if err := dec.SetPortFormat(ctx, dec.OutPort, def); err != nil {
					return err
				}
			}
			outBufs, err := enableAndAllocate(ctx, dec, dec.OutPort)
			if err != nil {
				return err
			}
			return pump.StartOutput(outBufs)
		})
		return pump, nil
	})
}

// Encode compresses one raw image.
type Encode struct {
	Options
	Component string      // Defaults to ImageEncodeName
	Input     Geometry    // Layout of the raw source
	Coding    ImageCoding // Defaults to CodingJPEG
	Quality   int         // 1-100, zero keeps the encoder default
}

func (s *Encode) Run(ctx context.Context, src Source, sink Sink) (*Result, error) {
	coding := s.Coding
	if coding == CodingUnused {
		coding = CodingJPEG
	}
	return run(ctx, s.Options, func(ctx context.Context, p *Pipeline) (*Pump, error) {
		enc, err := p.Open(ctx, orDefault(s.Component, ImageEncodeName))
		if err != nil {
			return nil, err
		}
		if err := enc.DisableAll(ctx); err != nil {
			return nil, err
		}
		if err := enc.Transition(ctx, StateIdle); err != nil {
			return nil, err
		}

		if err := enc.SetPortFormat(ctx, enc.InPort, rawPortDefinition(enc, enc.InPort, s.Input)); err != nil {
			return nil, err
		}
		inBufs, err := enableAndAllocate(ctx, enc, enc.InPort)
		if err != nil {
			return nil, err
		}

		out, err := enc.PortFormat(ctx, enc.OutPort)
		if err != nil {
			return nil, err
		}
		out.Width, out.Height = uint32(s.Input.Width), uint32(s.Input.Height)
		out.Compression, out.Color = coding, ColorUnused
		if err := enc.SetPortFormat(ctx, enc.OutPort, out); err != nil {
			return nil, err
		}
		if s.Quality > 0 {
			if err := enc.SetQuality(ctx, enc.OutPort, s.Quality); err != nil {
				return nil, err
			}
		}
		outBufs, err := enableAndAllocate(ctx, enc, enc.OutPort)
		if err != nil {
			return nil, err
		}
		if err := enc.Transition(ctx, StateExecuting); err != nil {
			return nil, err
		}

		pump := p.NewPump()
		pump.FeedInput(enc, enc.InPort, inBufs, src)
		pump.DrainOutput(enc, enc.OutPort, sink, true)
		if err := pump.StartOutput(outBufs); err != nil {
			return nil, err
		}
		return pump, nil
	})
}

// Resize scales one raw image.
type Resize struct {
	Options
	Component string    // Defaults to ResizeName
	Input     Geometry  // Layout of the raw source
	Output    Geometry  // Zero size keeps the input size, unused color keeps the input color
	Crop      Crop      // Source rectangle; empty selects by Mode
	Mode      ScaleMode // Aspect handling when Crop is empty
}

// output resolves the output geometry and source crop from Mode.
func (s *Resize) output() (Geometry, Crop) {
	in, out, crop := s.Input, s.Output, s.Crop
	if out.Width == 0 || out.Height == 0 {
		out.Width, out.Height = in.Width, in.Height
	}
	if out.Color == ColorUnused {
		out.Color = in.Color
	}
	if !crop.Empty() {
		return out, crop
	}
	switch s.Mode {
	case ScaleModeFit:
		out.Width, out.Height = CalculateScaledSize(in.Width, in.Height, out.Width, out.Height, ScaleModeFit)
	case ScaleModeFill:
		x, y, w, h := NewScaler(in, out, Crop{}, ScaleModeFill).sourceRegion()
		crop = Crop{Left: int32(x), Top: int32(y), Width: uint32(w), Height: uint32(h)}
	}
	return out, crop
}

func (s *Resize) Run(ctx context.Context, src Source, sink Sink) (*Result, error) {
	outGeom, crop := s.output()
	return run(ctx, s.Options, func(ctx context.Context, p *Pipeline) (*Pump, error) {
		rsz, err := p.Open(ctx, orDefault(s.Component, ResizeName))
		if err != nil {
			return nil, err
		}
		if err := rsz.DisableAll(ctx); err != nil {
			return nil, err
		}
		if err := rsz.Transition(ctx, StateIdle); err != nil {
			return nil, err
		}

		if err := rsz.SetPortFormat(ctx, rsz.InPort, rawPortDefinition(rsz, rsz.InPort, s.Input)); err != nil {
			return nil, err
		}
		if !crop.Empty() {
			if err := rsz.SetInputCrop(ctx, rsz.InPort, crop); err != nil {
				return nil, err
			}
		}
		inBufs, err := enableAndAllocate(ctx, rsz, rsz.InPort)
		if err != nil {
			return nil, err
		}
		if err := rsz.SetPortFormat(ctx, rsz.OutPort, rawPortDefinition(rsz, rsz.OutPort, outGeom)); err != nil {
			return nil, err
		}
		outBufs, err := enableAndAllocate(ctx, rsz, rsz.OutPort)
		if err != nil {
			return nil, err
		}
		if err := rsz.Transition(ctx, StateExecuting); err != nil {
			return nil, err
		}

		pump := p.NewPump()
		pump.FeedInput(rsz, rsz.InPort, inBufs, src)
		pump.DrainOutput(rsz, rsz.OutPort, sink, true)
		if err := pump.StartOutput(outBufs); err != nil {
			return nil, err
		}
		return pump, nil
	})
}

// DecodeResize decodes an image straight into the resizer through a tunnel.
// Only the decoder input and the resizer output pass through user memory.
type DecodeResize struct {
	Options
	Decoder string      // Defaults to ImageDecodeName
	Resizer string      // Defaults to ResizeName
	Coding  ImageCoding // Defaults to CodingJPEG
	Output  Geometry    // Unused color means 32bitABGR8888
	Crop    Crop
}

func (s *DecodeResize) Run(ctx context.Context, src Source, sink Sink) (*Result, error) {
	coding := s.Coding
	if coding == CodingUnused {
		coding = CodingJPEG
	}
	outGeom := s.Output
	if outGeom.Color == ColorUnused {
		outGeom.Color = Color32bitABGR8888
	}
	if outGeom.Width <= 0 || outGeom.Height <= 0 {
		return nil, fmt.Errorf("omx: decode-resize needs an output size, got %s", outGeom)
	}

	return run(ctx, s.Options, func(ctx context.Context, p *Pipeline) (*Pump, error) {
		dec, err := p.Open(ctx, orDefault(s.Decoder, ImageDecodeName))
		if err != nil {
			return nil, err
		}
		rsz, err := p.Open(ctx, orDefault(s.Resizer, ResizeName))
		if err != nil {
			return nil, err
		}
		for _, c := range []*Component{dec, rsz} {
			if err := c.DisableAll(ctx); err != nil {
				return nil, err
			}
		}
		t, err := p.Tunnel(ctx, dec, dec.OutPort, rsz, rsz.InPort)
		if err != nil {
			return nil, err
		}

		if err := dec.Transition(ctx, StateIdle); err != nil {
			return nil, err
		}
		if err := dec.SetCompression(ctx, dec.InPort, coding); err != nil {
			return nil, err
		}
		inBufs, err := enableAndAllocate(ctx, dec, dec.InPort)
		if err != nil {
			return nil, err
		}
		if err := dec.Transition(ctx, StateExecuting); err != nil {
			return nil, err
		}

		if err := rsz.Transition(ctx, StateIdle); err != nil {
			return nil, err
		}
		if err := rsz.SetPortFormat(ctx, rsz.OutPort, rawPortDefinition(rsz, rsz.OutPort, outGeom)); err != nil {
			return nil, err
		}
		outBufs, err := enableAndAllocate(ctx, rsz, rsz.OutPort)
		if err != nil {
			return nil, err
		}
		if err := rsz.Transition(ctx, StateExecuting); err != nil {
			return nil, err
		}

		pump := p.NewPump()
		pump.FeedInput(dec, dec.InPort, inBufs, src)
		pump.DrainOutput(rsz, rsz.OutPort, sink, false)
		pump.OnTunnelSettingsChanged(t, func(ctx context.Context, ev Event) error {
			in, err := rsz.PortFormat(ctx, rsz.InPort)
			if err != nil {
				return err
			}
			ok, err := rsz.Supports(rsz.InPort, CodingUnused, in.Color)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("omx: %s input %s: %w", rsz.Name(), in.Color, ErrUnsupported)
			}
			if !s.Crop.Empty() {
				if err := rsz.SetInputCrop(ctx, rsz.InPort, s.Crop); err != nil {
					return err
				}
			}
			if err := dec.CheckStreams(dec.OutPort); err != nil {
				return err
			}
			if err := t.Enable(ctx); err != nil {
				return err
			}
			return pump.StartOutput(outBufs)
		})
		return pump, nil
	})
}

// Read streams the file named by URI out of an image reader component.
type Read struct {
	Options
	Component string // Defaults to ImageReadName
	URI       string
}

func (s *Read) Run(ctx context.Context, sink Sink) (*Result, error) {
	return run(ctx, s.Options, func(ctx context.Context, p *Pipeline) (*Pump, error) {
		rd, err := p.Open(ctx, orDefault(s.Component, ImageReadName))
		if err != nil {
			return nil, err
		}
		if err := rd.DisableAll(ctx); err != nil {
			return nil, err
		}
		if err := rd.SetContentURI(ctx, s.URI); err != nil {
			return nil, err
		}
		// populated while Loaded so the move to Idle can complete
		outBufs, err := enableAndAllocate(ctx, rd, rd.OutPort)
		if err != nil {
			return nil, err
		}
		if err := rd.Walk(ctx, StateIdle, StateExecuting); err != nil {
			return nil, err
		}

		pump := p.NewPump()
		pump.DrainOutput(rd, rd.OutPort, sink, false)
		if err := pump.StartOutput(outBufs); err != nil {
			return nil, err
		}
		return pump, nil
	})
}
