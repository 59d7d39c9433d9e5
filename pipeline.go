package omx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// PipelineState represents the state of a component pipeline.
type PipelineState int32

const (
	PipelineStateIdle    PipelineState = iota // Components being set up
	PipelineStateRunning                      // Pumping data
	PipelineStateStopped                      // Torn down
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PipelineConfig configures a pipeline.
type PipelineConfig struct {
	Core     Core           // Initialized platform core
	Timeouts Timeouts       // Zero fields take DefaultTimeouts
	Log      *logrus.Logger // Defaults to the standard logger
}

// Pipeline owns everything one run needs: the dispatcher every component
// reports into, the handle registry, tunnels, and teardown.
type Pipeline struct {
	id       string
	core     Core
	d        *Dispatcher
	reg      *Registry
	log      *logrus.Entry
	timeouts Timeouts

	state  atomic.Int32
	closed atomic.Bool

	mu      sync.Mutex
	tunnels []*Tunnel
}

// NewPipeline creates an empty pipeline on an initialized core.
func NewPipeline(config PipelineConfig) (*Pipeline, error) {
	if config.Core == nil {
		return nil, errors.New("omx: core is required")
	}
	logger := config.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id := uuid.NewString()
	log := logger.WithField("run_id", id)
	t := config.Timeouts.withDefaults()
	d := NewDispatcher(log)

	p := &Pipeline{
		id:       id,
		core:     config.Core,
		d:        d,
		reg:      NewRegistry(config.Core, d, t, log),
		log:      log,
		timeouts: t,
	}
	p.state.Store(int32(PipelineStateIdle))
	return p, nil
}

// ID returns the run identifier attached to every log line.
func (p *Pipeline) ID() string { return p.id }

// Log returns the pipeline's logger.
func (p *Pipeline) Log() *logrus.Entry { return p.log }

// Dispatcher returns the event dispatcher shared by every component.
func (p *Pipeline) Dispatcher() *Dispatcher { return p.d }

// Registry returns the handle registry.
func (p *Pipeline) Registry() *Registry { return p.reg }

// Timeouts returns the effective timeouts.
func (p *Pipeline) Timeouts() Timeouts { return p.timeouts }

// State returns the current pipeline state.
func (p *Pipeline) State() PipelineState { return PipelineState(p.state.Load()) }

// Open opens a component into the pipeline.
func (p *Pipeline) Open(ctx context.Context, name string) (*Component, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return p.reg.Open(ctx, name)
}

// Tunnel connects two components of the pipeline.
func (p *Pipeline) Tunnel(ctx context.Context, a *Component, outPort uint32, b *Component, inPort uint32) (*Tunnel, error) {
	t, err := Connect(ctx, p.core, a, outPort, b, inPort)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.tunnels = append(p.tunnels, t)
	p.mu.Unlock()
	return t, nil
}

// NewPump creates a pump bound to the pipeline's dispatcher.
func (p *Pipeline) NewPump() *Pump {
	return NewPump(p.d, p.timeouts, p.log)
}

// Run marks the pipeline running and runs the pump.
func (p *Pipeline) Run(ctx context.Context, pump *Pump) (*Result, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	p.state.Store(int32(PipelineStateRunning))
	p.log.Info("pipeline running")
	res, err := pump.Run(ctx)
	if res != nil {
		p.log.WithFields(logrus.Fields{
			"bytes_in":  res.BytesIn,
			"bytes_out": res.BytesOut,
			"settings":  res.SettingsChanges,
			"corrupt":   res.Corrupt,
		}).Info("pipeline finished")
	}
	return res, err
}

// Close tears every component down in reverse open order: back to Idle,
// ports disabled, buffers freed, back to Loaded, handle released. Failures
// are collected and teardown continues. A second Close returns ErrClosed.
func (p *Pipeline) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	p.state.Store(int32(PipelineStateStopped))
	p.d.Drain()

	var result *multierror.Error
	comps := p.reg.Components()
	for i := len(comps) - 1; i >= 0; i-- {
		if err := p.teardown(ctx, comps[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		p.log.WithError(err).Warn("teardown incomplete")
		return err
	}
	p.log.Info("pipeline closed")
	return nil
}

func (p *Pipeline) teardown(ctx context.Context, c *Component) error {
	var result *multierror.Error
	add := func(err error) {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	state, err := c.State()
	if err != nil {
		return fmt.Errorf("omx: teardown %s: %w", c.name, err)
	}
	if state == StateExecuting || state == StatePause {
		add(c.Transition(ctx, StateIdle))
	}
	for _, port := range c.Ports() {
		def, err := c.PortFormat(ctx, port)
		if err != nil {
			add(err)
			continue
		}
		if def.Enabled {
			add(c.SetEnabled(ctx, port, false))
		}
	}
	for _, port := range c.Ports() {
		add(c.FreeAll(ctx, port))
	}
	if state, err = c.State(); err == nil && state != StateLoaded {
		add(c.Transition(ctx, StateLoaded))
	}
	add(p.reg.Close(c))
	c.log.Info("torn down")
	return result.ErrorOrNil()
}
