package omx

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Source is a sequential byte stream fed into an input port.
type Source interface {
	io.Reader
	// Exhausted reports whether the next Read would return io.EOF.
	Exhausted() (bool, error)
}

// Sink receives the bytes drained from an output port.
type Sink interface {
	io.Writer
	Close() error
}

// FrameSink is a Sink that wants to know where images end.
type FrameSink interface {
	Sink
	EndFrame() error
}

// BoundaryState is the progress of a pumped boundary.
type BoundaryState int

const (
	AwaitingFirstData BoundaryState = iota
	Streaming
	Draining
	Done
)

func (s BoundaryState) String() string {
	switch s {
	case AwaitingFirstData:
		return "awaiting-first-data"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Result summarizes one pumped run.
type Result struct {
	BytesIn          int64
	BytesOut         int64
	InputSubmissions int
	InputReturned    int
	OutputBuffers    int
	Iterations       int
	SettingsChanges  int
	Corrupt          bool
	FinalFlags       BufferFlags
	Output           Geometry
}

type portKey struct {
	id   int
	port uint32
}

// SettingsHandler reconfigures a port after the platform changed its
// settings. It runs on the pump goroutine.
type SettingsHandler func(ctx context.Context, ev Event) error

// Pump moves data across the non-tunneled boundaries of a pipeline: it keeps
// input buffers full from a Source and drains output buffers into a Sink,
// reacting to platform events in arrival order.
type Pump struct {
	d        *Dispatcher
	timeouts Timeouts
	log      *logrus.Entry

	in        *Component
	inPort    uint32
	inBufs    []*Buffer
	src       Source
	inputDone bool

	out       *Component
	outPort   uint32
	outBufs   []*Buffer
	sink      Sink
	stopOnEOF bool

	watches map[portKey]*settingsWatch

	state BoundaryState
	res   Result
}

// NewPump creates a pump reading events from d.
func NewPump(d *Dispatcher, t Timeouts, log *logrus.Entry) *Pump {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pump{
		d:        d,
		timeouts: t.withDefaults(),
		log:      log,
		watches:  make(map[portKey]*settingsWatch),
	}
}

// FeedInput sets the input side: bufs are cycled round-robin, each refilled
// from src as the platform returns it.
func (p *Pump) FeedInput(c *Component, port uint32, bufs []*Buffer, src Source) {
	p.in, p.inPort, p.inBufs, p.src = c, port, bufs, src
}

// DrainOutput sets the output side. With stopOnEndOfFrame the run ends at
// the first buffer flagged end-of-frame, not only at end-of-stream.
func (p *Pump) DrainOutput(c *Component, port uint32, sink Sink, stopOnEndOfFrame bool) {
	p.out, p.outPort, p.sink, p.stopOnEOF = c, port, sink, stopOnEndOfFrame
}

type settingsWatch struct {
	h    SettingsHandler
	done bool
}

// OnSettingsChanged registers the handler for a settings change on one port.
// It runs at most once; later changes on the same port are logged only.
func (p *Pump) OnSettingsChanged(c *Component, port uint32, h SettingsHandler) {
	p.watches[portKey{c.id, port}] = &settingsWatch{h: h}
}

// OnTunnelSettingsChanged registers one handler for both ends of a tunnel.
// Whichever end reports first runs it; the other end is then ignored.
func (p *Pump) OnTunnelSettingsChanged(t *Tunnel, h SettingsHandler) {
	w := &settingsWatch{h: h}
	p.watches[portKey{t.From.id, t.OutPort}] = w
	p.watches[portKey{t.To.id, t.InPort}] = w
}

// StartOutput submits the output buffers and moves the boundary to Streaming.
func (p *Pump) StartOutput(bufs []*Buffer) error {
	p.outBufs = bufs
	for _, b := range bufs {
		if err := p.out.FillBuffer(b); err != nil {
			return err
		}
	}
	if def, err := p.out.h.GetPortDefinition(p.outPort); err == nil {
		p.res.Output = def.Geometry()
	}
	p.state = Streaming
	p.log.WithField("buffers", len(bufs)).Debug("output streaming")
	return nil
}

// State returns the boundary state.
func (p *Pump) State() BoundaryState { return p.state }

// Run primes the input buffers and processes events until the output reports
// end-of-stream (or end-of-frame), ctx is done, a fatal platform error is
// raised, or no event arrives for the stall timeout.
func (p *Pump) Run(ctx context.Context) (*Result, error) {
	if p.out == nil || p.sink == nil {
		return nil, errors.New("omx: pump has no output")
	}
	if p.in != nil {
		for _, b := range p.inBufs {
			if p.inputDone {
				break
			}
			if err := p.submitInput(b); err != nil {
				return &p.res, err
			}
		}
	}

	for p.state != Done {
		p.res.Iterations++
		ev, err := p.next(ctx)
		if err != nil {
			return &p.res, err
		}
		if err := p.handle(ctx, ev); err != nil {
			return &p.res, err
		}
	}
	p.res.Corrupt = p.res.Corrupt || len(p.d.Corrupt()) > 0
	return &p.res, nil
}

func (p *Pump) next(ctx context.Context) (Event, error) {
	sctx, cancel := context.WithTimeout(ctx, p.timeouts.Stall)
	defer cancel()
	ev, err := p.d.Next(sctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return Event{}, fmt.Errorf("%w: no event for %s in state %s", ErrStalled, p.timeouts.Stall, p.state)
	}
	return ev, err
}

func (p *Pump) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventInputReturned:
		if p.in == nil || ev.Component != p.in.id || ev.Port != p.inPort {
			return nil
		}
		p.res.InputReturned++
		if p.inputDone {
			return nil
		}
		return p.submitInput(ev.Buffer)

	case EventOutputFilled:
		if ev.Component != p.out.id || ev.Port != p.outPort {
			return nil
		}
		return p.drain(ev.Buffer)

	case EventPortSettingsChanged:
		w, ok := p.watches[portKey{ev.Component, ev.Port}]
		if !ok {
			p.log.WithField("port", ev.Port).Info("settings changed on unwatched port")
			return nil
		}
		if w.done {
			p.log.WithField("port", ev.Port).Info("settings changed again, ignored")
			return nil
		}
		w.done = true
		p.res.SettingsChanges++
		p.log.WithField("port", ev.Port).Info("settings changed")
		if err := w.h(ctx, ev); err != nil {
			return fmt.Errorf("omx: settings change on port %d: %w", ev.Port, err)
		}
		return nil

	case EventBufferFlag:
		if ev.Component != p.out.id || ev.Port != p.outPort || !ev.Flags.Has(FlagEOS) {
			return nil
		}
		if p.state == AwaitingFirstData {
			p.log.WithField("port", ev.Port).Info("end of stream before output was set up")
			p.res.FinalFlags = ev.Flags
			p.state = Done
		}
		return nil

	case EventError:
		if ev.Code == ErrorStreamCorrupt {
			p.res.Corrupt = true
		}
		return nil
	}
	return nil
}

func (p *Pump) submitInput(b *Buffer) error {
	if err := b.Reset(); err != nil {
		return err
	}
	n, err := io.ReadFull(p.src, b.Data)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("omx: read input: %w", err)
	}
	b.FilledLen = n
	exhausted, err := p.src.Exhausted()
	if err != nil {
		return fmt.Errorf("omx: read input: %w", err)
	}
	if exhausted {
		b.Flags |= FlagEOS
		p.inputDone = true
	}
	if err := p.in.EmptyBuffer(b); err != nil {
		return err
	}
	p.res.BytesIn += int64(n)
	p.res.InputSubmissions++
	if p.inputDone {
		p.log.WithFields(logrus.Fields{"bytes": p.res.BytesIn, "submissions": p.res.InputSubmissions}).Debug("input end of stream")
	}
	return nil
}

func (p *Pump) drain(b *Buffer) error {
	p.res.OutputBuffers++
	if payload := b.Payload(); len(payload) > 0 {
		n, err := p.sink.Write(payload)
		p.res.BytesOut += int64(n)
		if err != nil {
			return fmt.Errorf("omx: write output: %w", err)
		}
	}
	flags := b.Flags
	endFrame := flags.Has(FlagEndOfFrame) || flags.Has(FlagEOS)
	if fs, ok := p.sink.(FrameSink); ok && endFrame {
		if err := fs.EndFrame(); err != nil {
			return fmt.Errorf("omx: end frame: %w", err)
		}
	}
	if flags.Has(FlagEOS) || (p.stopOnEOF && flags.Has(FlagEndOfFrame)) {
		p.res.FinalFlags = flags
		p.state = Done
		return nil
	}
	if p.inputDone {
		p.state = Draining
	}
	return p.out.FillBuffer(b)
}
