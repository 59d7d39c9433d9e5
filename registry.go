package omx

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry opens and releases component handles on one core. Every handle it
// opens reports into the same dispatcher.
type Registry struct {
	core     Core
	d        *Dispatcher
	log      *logrus.Entry
	timeouts Timeouts

	mu     sync.Mutex
	nextID int
	open   []*Component
}

// NewRegistry creates a registry on an initialized core.
func NewRegistry(core Core, d *Dispatcher, t Timeouts, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{core: core, d: d, log: log, timeouts: t.withDefaults(), nextID: 1}
}

// Open instantiates a component by name, routes its callbacks into the
// dispatcher and finds its image ports. The component is left in Loaded.
func (r *Registry) Open(ctx context.Context, name string) (*Component, error) {
	if err := ctx.Err(); err != nil {
		return nil, &OpenError{Name: name, Err: err}
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.mu.Unlock()

	c := newComponent(id, name, r.d, r.timeouts, r.log)
	h, err := r.core.GetHandle(name, r.d.Callbacks(id, name, c.returned))
	if err != nil {
		return nil, &OpenError{Name: name, Err: err}
	}
	c.h = h

	state, err := h.GetState()
	if err == nil && state != StateLoaded {
		err = fmt.Errorf("state %s after open, want %s", state, StateLoaded)
	}
	if err == nil {
		err = c.discoverPorts()
	}
	if err != nil {
		if ferr := r.core.FreeHandle(h); ferr != nil {
			c.log.WithError(ferr).Warn("free handle after failed open")
		}
		return nil, &OpenError{Name: name, Err: err}
	}

	r.mu.Lock()
	r.open = append(r.open, c)
	r.mu.Unlock()
	c.log.WithFields(logrus.Fields{"id": id, "in": c.InPort, "out": c.OutPort}).Debug("opened")
	return c, nil
}

// Close releases a handle. The component must be back in Loaded with every
// buffer freed.
func (r *Registry) Close(c *Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	state, err := c.h.GetState()
	if err != nil {
		return fmt.Errorf("omx: close %s: %w", c.name, err)
	}
	if state != StateLoaded {
		return fmt.Errorf("omx: close %s in %s: %w", c.name, state, ErrHandleActive)
	}
	for port, bufs := range c.buffers {
		if len(bufs) > 0 {
			return fmt.Errorf("omx: close %s with %d buffers on port %d: %w", c.name, len(bufs), port, ErrHandleActive)
		}
	}
	if err := r.core.FreeHandle(c.h); err != nil {
		return fmt.Errorf("omx: close %s: %w", c.name, err)
	}
	c.closed = true

	r.mu.Lock()
	for i, o := range r.open {
		if o == c {
			r.open = append(r.open[:i], r.open[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	c.log.Debug("closed")
	return nil
}

// Lookup finds an open component by event id.
func (r *Registry) Lookup(id int) (*Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.open {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// Components returns the open components in open order.
func (r *Registry) Components() []*Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Component(nil), r.open...)
}
