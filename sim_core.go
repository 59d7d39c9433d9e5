package omx

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Component names offered by the Broadcom core and by SimCore.
const (
	ImageDecodeName = "OMX.broadcom.image_decode"
	ImageEncodeName = "OMX.broadcom.image_encode"
	ResizeName      = "OMX.broadcom.resize"
	ImageReadName   = "OMX.broadcom.image_read"
)

// SimCore is a software OpenMAX IL core. Its components follow the IL state
// and port rules and report through callbacks on their own goroutines, so
// pipelines behave as they do on hardware.
type SimCore struct {
	mu          sync.Mutex
	initialized bool
	handles     map[*simComponent]struct{}
	factories   map[string]func(*SimCore, string) *simComponent
}

// NewSimCore creates a simulated core offering image_decode, image_encode,
// resize and image_read.
func NewSimCore() *SimCore {
	return &SimCore{
		handles: make(map[*simComponent]struct{}),
		factories: map[string]func(*SimCore, string) *simComponent{
			ImageDecodeName: newSimDecoder,
			ImageEncodeName: newSimEncoder,
			ResizeName:      newSimResizer,
			ImageReadName:   newSimReader,
		},
	}
}

func (s *SimCore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *SimCore) Deinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) > 0 {
		return fmt.Errorf("omx: deinit with %d open handles: %w", len(s.handles), ErrHandleActive)
	}
	s.initialized = false
	return nil
}

func (s *SimCore) ComponentNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.factories))
	for n := range s.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *SimCore) GetHandle(name string, cb Callbacks) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, checkCode("GetHandle", ErrorNotReady)
	}
	f, ok := s.factories[name]
	if !ok {
		return nil, checkCode("GetHandle", ErrorComponentNotFound)
	}
	c := f(s, name)
	c.cb = cb
	s.handles[c] = struct{}{}
	go c.run()
	return c, nil
}

func (s *SimCore) FreeHandle(h Handle) error {
	c, ok := h.(*simComponent)
	if !ok {
		return checkCode("FreeHandle", ErrorBadParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[c]; !ok {
		return checkCode("FreeHandle", ErrorInvalidComponent)
	}
	if c.state != StateLoaded && c.state != StateInvalid {
		return checkCode("FreeHandle", ErrorIncorrectStateOperation)
	}
	for _, p := range c.ports {
		if len(p.buffers) > 0 {
			return checkCode("FreeHandle", ErrorIncorrectStateOperation)
		}
		if p.peer != nil {
			peerPort := p.peer.ports[p.peerPort]
			peerPort.peer = nil
			p.peer = nil
		}
	}
	delete(s.handles, c)
	close(c.quit)
	return nil
}

func (s *SimCore) SetupTunnel(out Handle, outPort uint32, in Handle, inPort uint32) error {
	a, ok1 := out.(*simComponent)
	b, ok2 := in.(*simComponent)
	if !ok1 || !ok2 {
		return checkCode("SetupTunnel", ErrorBadParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ip := a.ports[outPort], b.ports[inPort]
	if op == nil || ip == nil {
		return checkCode("SetupTunnel", ErrorBadPortIndex)
	}
	if op.def.Dir != DirOutput || ip.def.Dir != DirInput {
		return checkCode("SetupTunnel", ErrorBadParameter)
	}
	if a.state != StateLoaded || b.state != StateLoaded {
		return checkCode("SetupTunnel", ErrorIncorrectStateOperation)
	}
	if !a.canTunnel || !b.canTunnel {
		return checkCode("SetupTunnel", ErrorTunnelingUnsupported)
	}
	op.peer, op.peerPort = b, inPort
	ip.peer, ip.peerPort = a, outPort
	return nil
}

// InjectError makes a simulated component raise an error event, as a
// hardware fault would.
func (s *SimCore) InjectError(h Handle, code ErrorCode, port uint32) error {
	c, ok := h.(*simComponent)
	if !ok {
		return errors.New("omx: not a simulated handle")
	}
	s.mu.Lock()
	c.faults = append(c.faults, simFault{code: code, port: port})
	s.mu.Unlock()
	c.kick()
	return nil
}

// OpenHandles returns the number of handles not yet freed.
func (s *SimCore) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
