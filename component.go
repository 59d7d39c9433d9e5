package omx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timeouts bound every wait on the platform.
type Timeouts struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	PortAttempts  int           `yaml:"port_attempts"`
	StateAttempts int           `yaml:"state_attempts"`
	Stall         time.Duration `yaml:"stall"`
}

// DefaultTimeouts returns the waits used when nothing is configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PollInterval:  10 * time.Millisecond,
		PortAttempts:  200,
		StateAttempts: 200,
		Stall:         5 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.PollInterval <= 0 {
		t.PollInterval = def.PollInterval
	}
	if t.PortAttempts <= 0 {
		t.PortAttempts = def.PortAttempts
	}
	if t.StateAttempts <= 0 {
		t.StateAttempts = def.StateAttempts
	}
	if t.Stall <= 0 {
		t.Stall = def.Stall
	}
	return t
}

// Component is an open component handle plus the orchestrator's bookkeeping
// for it: discovered ports, allocated buffers and tunnel marks.
type Component struct {
	id       int
	name     string
	h        Handle
	d        *Dispatcher
	timeouts Timeouts
	log      *logrus.Entry

	// InPort and OutPort are the image ports found at open time.
	InPort, OutPort     uint32
	HasInput, HasOutput bool

	mu        sync.Mutex
	buffers   map[uint32][]*Buffer
	tunneled  map[uint32]bool
	portStats map[uint32]*PortStats
	unloading bool
	closed    bool
}

func newComponent(id int, name string, d *Dispatcher, t Timeouts, log *logrus.Entry) *Component {
	return &Component{
		id:        id,
		name:      name,
		d:         d,
		timeouts:  t.withDefaults(),
		log:       log.WithField("component", name),
		buffers:   make(map[uint32][]*Buffer),
		tunneled:  make(map[uint32]bool),
		portStats: make(map[uint32]*PortStats),
	}
}

// ID returns the identifier events are tagged with.
func (c *Component) ID() int { return c.id }

// Name returns the component name.
func (c *Component) Name() string { return c.name }

// Handle returns the platform handle.
func (c *Component) Handle() Handle { return c.h }

// Tunneled reports whether a port is one end of a tunnel.
func (c *Component) Tunneled(port uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tunneled[port]
}

func (c *Component) markTunneled(port uint32) {
	c.mu.Lock()
	c.tunneled[port] = true
	c.mu.Unlock()
}

// discoverPorts records the input and output image ports.
func (c *Component) discoverPorts() error {
	start, count, err := c.h.ImagePorts()
	if err != nil {
		return fmt.Errorf("image ports: %w", err)
	}
	for port := start; port < start+count; port++ {
		def, err := c.h.GetPortDefinition(port)
		if err != nil {
			return fmt.Errorf("port %d: %w", port, err)
		}
		switch def.Dir {
		case DirInput:
			if c.HasInput {
				return fmt.Errorf("ports %d and %d are both inputs", c.InPort, port)
			}
			c.InPort, c.HasInput = port, true
		case DirOutput:
			if c.HasOutput {
				return fmt.Errorf("ports %d and %d are both outputs", c.OutPort, port)
			}
			c.OutPort, c.HasOutput = port, true
		}
	}
	return nil
}

// await polls cond until it holds. It wakes on every poll interval and on
// dispatcher notifications, and gives up after attempts intervals.
func (c *Component) await(ctx context.Context, attempts int, cond func() (bool, error)) (bool, int, error) {
	deadline := time.Now().Add(time.Duration(attempts) * c.timeouts.PollInterval)
	tries := 0
	timer := time.NewTimer(c.timeouts.PollInterval)
	defer timer.Stop()
	for {
		changed := c.d.Changed()
		tries++
		ok, err := cond()
		if err != nil {
			return false, tries, err
		}
		if ok {
			return true, tries, nil
		}
		if err := c.d.waitErr(); err != nil {
			return false, tries, err
		}
		if !time.Now().Before(deadline) {
			return false, tries, nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.timeouts.PollInterval)
		select {
		case <-ctx.Done():
			return false, tries, ctx.Err()
		case <-changed:
		case <-timer.C:
		}
	}
}
