package omx

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventKind classifies a platform notification.
type EventKind int

const (
	EventCommandComplete EventKind = iota
	EventError
	EventPortSettingsChanged
	EventBufferFlag
	EventInputReturned
	EventOutputFilled
	EventOther
)

func (k EventKind) String() string {
	switch k {
	case EventCommandComplete:
		return "command-complete"
	case EventError:
		return "error"
	case EventPortSettingsChanged:
		return "port-settings-changed"
	case EventBufferFlag:
		return "buffer-flag"
	case EventInputReturned:
		return "input-returned"
	case EventOutputFilled:
		return "output-filled"
	default:
		return "other"
	}
}

// Event is a typed platform notification, tagged with the component that
// raised it.
type Event struct {
	Kind      EventKind
	Component int
	Port      uint32

	Command Command   // EventCommandComplete
	State   State     // EventCommandComplete for CommandStateSet
	Code    ErrorCode // EventError
	Flags   BufferFlags
	Buffer  *Buffer // EventInputReturned, EventOutputFilled

	Raw          EventType
	Data1, Data2 uint32
}

func (e Event) String() string {
	switch e.Kind {
	case EventCommandComplete:
		if e.Command == CommandStateSet {
			return fmt.Sprintf("%s %s -> %s", e.Kind, e.Command, e.State)
		}
		return fmt.Sprintf("%s %s port %d", e.Kind, e.Command, e.Port)
	case EventError:
		return fmt.Sprintf("%s %s", e.Kind, e.Code)
	case EventInputReturned, EventOutputFilled:
		if e.Buffer != nil {
			return fmt.Sprintf("%s port %d len %d flags %s", e.Kind, e.Port, e.Buffer.FilledLen, e.Buffer.Flags)
		}
	case EventBufferFlag:
		return fmt.Sprintf("%s port %d flags %s", e.Kind, e.Port, e.Flags)
	}
	return fmt.Sprintf("%s port %d", e.Kind, e.Port)
}

// Dispatcher turns platform callbacks into events. Callbacks only append to
// an unbounded queue so they never block the platform. One consumer drains
// streaming events with Next; waiters on command completion watch Changed.
type Dispatcher struct {
	log *logrus.Entry

	mu       sync.Mutex
	queue    []Event
	signal   chan struct{}
	changed  chan struct{}
	fatal    error
	draining bool
	corrupt  []*StreamCorruptError
	names    map[int]string
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		log:     log,
		signal:  make(chan struct{}, 1),
		changed: make(chan struct{}),
		names:   make(map[int]string),
	}
}

// Callbacks returns the callback triplet for one component. Buffer ownership
// moves back to the app here, before the event is queued.
func (d *Dispatcher) Callbacks(id int, name string, onReturn func(*Buffer)) Callbacks {
	d.mu.Lock()
	d.names[id] = name
	d.mu.Unlock()
	return Callbacks{
		Event: func(ev EventType, data1, data2 uint32) {
			d.Post(translate(id, ev, data1, data2))
		},
		EmptyBufferDone: func(b *Buffer) {
			b.release()
			if onReturn != nil {
				onReturn(b)
			}
			d.Post(Event{Kind: EventInputReturned, Component: id, Port: b.Port, Buffer: b, Flags: b.Flags})
		},
		FillBufferDone: func(b *Buffer) {
			b.release()
			if onReturn != nil {
				onReturn(b)
			}
			d.Post(Event{Kind: EventOutputFilled, Component: id, Port: b.Port, Buffer: b, Flags: b.Flags})
		},
	}
}

func translate(id int, ev EventType, data1, data2 uint32) Event {
	e := Event{Component: id, Raw: ev, Data1: data1, Data2: data2}
	switch ev {
	case EventTypeCmdComplete:
		e.Kind = EventCommandComplete
		e.Command = Command(data1)
		if e.Command == CommandStateSet {
			e.State = State(data2)
		} else {
			e.Port = data2
		}
	case EventTypeError:
		e.Kind = EventError
		e.Code = ErrorCode(data1)
		e.Port = data2
	case EventTypePortSettingsChanged:
		e.Kind = EventPortSettingsChanged
		e.Port = data1
	case EventTypeBufferFlag:
		e.Kind = EventBufferFlag
		e.Port = data1
		e.Flags = BufferFlags(data2)
	default:
		e.Kind = EventOther
		e.Port = data1
	}
	return e
}

// Post records an event. Command completions and errors wake every waiter;
// everything except command completions is queued for Next.
func (d *Dispatcher) Post(e Event) {
	d.mu.Lock()
	name := d.names[e.Component]
	wake := false
	switch e.Kind {
	case EventCommandComplete:
		wake = true
	case EventError:
		wake = true
		if e.Code == ErrorStreamCorrupt {
			d.corrupt = append(d.corrupt, &StreamCorruptError{Component: name, Port: e.Port})
		} else if d.fatal == nil {
			d.fatal = &UnexpectedPlatformError{Component: name, Code: e.Code, Data: e.Port}
		}
	case EventPortSettingsChanged, EventBufferFlag:
		wake = true
	}
	if e.Kind != EventCommandComplete && !d.draining {
		d.queue = append(d.queue, e)
	}
	if wake {
		close(d.changed)
		d.changed = make(chan struct{})
	}
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}

	entry := d.log.WithField("component", name)
	switch {
	case e.Kind == EventError && e.Code == ErrorStreamCorrupt:
		entry.Warnf("event %s", e)
	case e.Kind == EventError:
		entry.Errorf("event %s", e)
	default:
		entry.Debugf("event %s", e)
	}
}

// Next returns the next queued event, blocking until one arrives, ctx is
// done, or a fatal platform error has been latched.
func (d *Dispatcher) Next(ctx context.Context) (Event, error) {
	for {
		d.mu.Lock()
		if d.fatal != nil && !d.draining {
			err := d.fatal
			d.mu.Unlock()
			return Event{}, err
		}
		if len(d.queue) > 0 {
			e := d.queue[0]
			d.queue[0] = Event{}
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return e, nil
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-d.signal:
		}
	}
}

// TryNext returns a queued event without blocking.
func (d *Dispatcher) TryNext() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Event{}, false
	}
	e := d.queue[0]
	d.queue[0] = Event{}
	d.queue = d.queue[1:]
	return e, true
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Changed returns a channel closed at the next command completion, error,
// settings change or buffer flag. Take it before checking the condition
// being waited on.
func (d *Dispatcher) Changed() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed
}

// Err returns the latched fatal error, if any.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}

// waitErr returns the error that should abort a bounded wait.
func (d *Dispatcher) waitErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		return nil
	}
	return d.fatal
}

// Corrupt returns every tolerated corrupt-stream report.
func (d *Dispatcher) Corrupt() []*StreamCorruptError {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*StreamCorruptError(nil), d.corrupt...)
}

// Drain switches the dispatcher to teardown mode: a latched fatal error no
// longer aborts waits, and queued events are discarded.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	d.draining = true
	d.queue = nil
	d.mu.Unlock()
}
