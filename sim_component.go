package omx

// simPort is one port of a simulated component. All fields are guarded by
// the owning core's mutex.
type simPort struct {
	def     PortDefinition
	formats []ImagePortFormat
	crop    Crop
	cropOK  bool
	qfactor uint32
	qOK     bool
	slices  bool
	streams *uint32

	buffers []*Buffer // allocated on this port
	queue   []*Buffer // submitted and held by the component

	peer     *simComponent
	peerPort uint32
}

func (p *simPort) tunneled() bool { return p.peer != nil }

func (p *simPort) supports(coding ImageCoding, color ColorFormat) bool {
	for _, f := range p.formats {
		if f.Compression == coding && (coding != CodingUnused || f.Color == color) {
			return true
		}
	}
	return false
}

// resize recomputes stride and buffer size of a raw port after its geometry
// changed.
func (p *simPort) resize() {
	if p.def.Compression != CodingUnused {
		return
	}
	g := p.def.Geometry()
	if least := g.Color.Stride(g.Width); g.Stride < least {
		p.def.Stride = int32(least)
		g.Stride = least
	}
	if g.SliceHeight <= 0 || g.SliceHeight > g.Height {
		p.def.SliceHeight = uint32(g.Height)
		g.SliceHeight = g.Height
	}
	p.def.BufferSize = uint32(g.SliceSize())
}

type simCmd struct {
	cmd  Command
	port uint32
}

type simFault struct {
	code ErrorCode
	port uint32
}

// simCodec is the data path of a simulated component. process runs under
// the core lock while the component executes and returns the callbacks to
// deliver once the lock is released.
type simCodec interface {
	process(c *simComponent) []func()
}

// tunnelReceiver accepts data pushed by an upstream component.
type tunnelReceiver interface {
	receive(c *simComponent, data []byte, flags BufferFlags)
}

type simComponent struct {
	core  *SimCore
	name  string
	cb    Callbacks
	codec simCodec

	state     State
	target    State
	switching bool
	cmds      []simCmd
	faults    []simFault
	events    []func()

	ports     map[uint32]*simPort
	portStart uint32
	portCount uint32
	canTunnel bool

	wake chan struct{}
	quit chan struct{}
}

func newSimComponent(s *SimCore, name string, start uint32, ports ...*simPort) *simComponent {
	c := &simComponent{
		core:      s,
		name:      name,
		state:     StateLoaded,
		ports:     make(map[uint32]*simPort),
		portStart: start,
		portCount: uint32(len(ports)),
		canTunnel: true,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	for i, p := range ports {
		p.def.Port = start + uint32(i)
		p.def.Domain = DomainImage
		p.def.Enabled = true
		for j := range p.formats {
			p.formats[j].Port = p.def.Port
			p.formats[j].Index = uint32(j)
		}
		p.resize()
		c.ports[p.def.Port] = p
	}
	return c
}

func (c *simComponent) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// run delivers callbacks in order on the component's own goroutine.
func (c *simComponent) run() {
	for {
		select {
		case <-c.quit:
			return
		case <-c.wake:
		}
		for {
			c.core.mu.Lock()
			out := c.step()
			c.core.mu.Unlock()
			if len(out) == 0 {
				break
			}
			for _, f := range out {
				f()
			}
		}
	}
}

// step advances the component by one unit of work.
func (c *simComponent) step() []func() {
	out := c.events
	c.events = nil
	for _, f := range c.faults {
		out = append(out, c.event(EventTypeError, uint32(f.code), f.port))
	}
	c.faults = nil
	if len(out) > 0 {
		return out
	}

	if out = c.stepPorts(); len(out) > 0 {
		return out
	}
	if out = c.stepState(); len(out) > 0 {
		return out
	}
	if c.state == StateExecuting && c.codec != nil {
		return c.codec.process(c)
	}
	return nil
}

func (c *simComponent) stepPorts() []func() {
	for i := 0; i < len(c.cmds); i++ {
		cmd := c.cmds[i]
		p := c.ports[cmd.port]
		done := false
		switch cmd.cmd {
		case CommandPortDisable:
			if len(p.queue) > 0 {
				return c.returnQueued(p)
			}
			p.def.Enabled = false
			done = len(p.buffers) == 0
		case CommandPortEnable:
			done = p.tunneled() || c.state == StateLoaded || p.def.Populated
		}
		if done {
			c.cmds = append(c.cmds[:i], c.cmds[i+1:]...)
			if p.tunneled() {
				p.peer.kick()
			}
			return []func(){c.event(EventTypeCmdComplete, uint32(cmd.cmd), cmd.port)}
		}
	}
	return nil
}

func (c *simComponent) stepState() []func() {
	if !c.switching {
		return nil
	}
	switch {
	case c.state == StateLoaded && c.target == StateIdle:
		for _, p := range c.ports {
			if p.def.Enabled && !p.tunneled() && !p.def.Populated {
				return nil
			}
		}
	case c.target == StateIdle:
		for _, p := range c.ports {
			if len(p.queue) > 0 {
				return c.returnQueued(p)
			}
		}
	case c.target == StateLoaded:
		for _, p := range c.ports {
			if len(p.buffers) > 0 {
				return nil
			}
		}
	}
	c.state = c.target
	c.switching = false
	out := []func(){c.event(EventTypeCmdComplete, uint32(CommandStateSet), uint32(c.state))}
	if c.state == StateExecuting {
		// upstream tunnels may be waiting on this component
		for _, p := range c.ports {
			if p.tunneled() && p.def.Dir == DirInput {
				p.peer.kick()
			}
		}
	}
	return out
}

// returnQueued hands every buffer the component holds on p back to the app.
func (c *simComponent) returnQueued(p *simPort) []func() {
	var out []func()
	for _, b := range p.queue {
		if p.def.Dir == DirInput {
			out = append(out, c.emptyDone(b))
		} else {
			b.FilledLen = 0
			out = append(out, c.fillDone(b))
		}
	}
	p.queue = nil
	return out
}

func (c *simComponent) event(ev EventType, d1, d2 uint32) func() {
	cb := c.cb.Event
	return func() {
		if cb != nil {
			cb(ev, d1, d2)
		}
	}
}

func (c *simComponent) emptyDone(b *Buffer) func() {
	cb := c.cb.EmptyBufferDone
	return func() {
		if cb != nil {
			cb(b)
		}
	}
}

func (c *simComponent) fillDone(b *Buffer) func() {
	cb := c.cb.FillBufferDone
	return func() {
		if cb != nil {
			cb(b)
		}
	}
}

// pop takes the oldest submitted buffer of a port.
func (c *simComponent) pop(port uint32) *Buffer {
	p := c.ports[port]
	if len(p.queue) == 0 {
		return nil
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	return b
}

func (c *simComponent) port(dir Direction) (uint32, *simPort) {
	for i := c.portStart; i < c.portStart+c.portCount; i++ {
		if p := c.ports[i]; p.def.Dir == dir {
			return i, p
		}
	}
	return 0, nil
}

// consume returns every submitted input buffer, handing payload and flags to
// take first.
func (c *simComponent) consume(port uint32, take func(payload []byte, flags BufferFlags)) []func() {
	var out []func()
	for b := c.pop(port); b != nil; b = c.pop(port) {
		take(b.Payload(), b.Flags)
		out = append(out, c.emptyDone(b))
	}
	return out
}

// simChunk is pending output: data plus the flags of the buffer that
// carries its last byte.
type simChunk struct {
	data  []byte
	flags BufferFlags
}

// produce fills submitted output buffers from pending chunks. A chunk larger
// than a buffer spans several; an empty chunk still takes one buffer.
func (c *simComponent) produce(port uint32, pending *[]simChunk) []func() {
	var out []func()
	for len(*pending) > 0 {
		b := c.pop(port)
		if b == nil {
			break
		}
		ch := &(*pending)[0]
		n := copy(b.Data, ch.data)
		ch.data = ch.data[n:]
		b.Offset, b.FilledLen, b.Flags = 0, n, 0
		last := len(ch.data) == 0
		if last {
			b.Flags = ch.flags
			*pending = (*pending)[1:]
		}
		out = append(out, c.fillDone(b))
		if last && b.Flags.Has(FlagEOS) {
			out = append(out, c.event(EventTypeBufferFlag, port, uint32(b.Flags)))
		}
	}
	return out
}

// Handle implementation. Every method takes the core lock.

func (c *simComponent) Name() string { return c.name }

func (c *simComponent) SendCommand(cmd Command, param uint32) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	defer c.kick()

	switch cmd {
	case CommandStateSet:
		target := State(param)
		if target == c.state {
			c.events = append(c.events, c.event(EventTypeError, uint32(ErrorSameState), 0))
			return nil
		}
		if !validTransition(c.state, target) {
			c.events = append(c.events, c.event(EventTypeError, uint32(ErrorIncorrectStateTransition), 0))
			return nil
		}
		if target == StateInvalid {
			c.state = StateInvalid
			return nil
		}
		c.target, c.switching = target, true
		return nil

	case CommandPortEnable, CommandPortDisable:
		p, ok := c.ports[param]
		if !ok {
			return checkCode("SendCommand", ErrorBadPortIndex)
		}
		if cmd == CommandPortEnable {
			p.def.Enabled = true
		}
		c.cmds = append(c.cmds, simCmd{cmd: cmd, port: param})
		return nil

	case CommandFlush:
		for i, p := range c.ports {
			if param == 0xFFFFFFFF || param == i {
				c.events = append(c.events, c.returnQueued(p)...)
				c.events = append(c.events, c.event(EventTypeCmdComplete, uint32(CommandFlush), i))
			}
		}
		return nil
	}
	return checkCode("SendCommand", ErrorNotImplemented)
}

func validTransition(from, to State) bool {
	if to == StateInvalid {
		return true
	}
	switch from {
	case StateLoaded:
		return to == StateIdle || to == StateWaitForResources
	case StateIdle:
		return to == StateLoaded || to == StateExecuting || to == StatePause
	case StateExecuting:
		return to == StateIdle || to == StatePause
	case StatePause:
		return to == StateIdle || to == StateExecuting
	case StateWaitForResources:
		return to == StateLoaded || to == StateIdle
	}
	return false
}

func (c *simComponent) GetState() (State, error) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	return c.state, nil
}

func (c *simComponent) GetPortDefinition(port uint32) (PortDefinition, error) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return PortDefinition{}, checkCode("GetParameter", ErrorBadPortIndex)
	}
	return p.def, nil
}

func (c *simComponent) SetPortDefinition(def PortDefinition) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[def.Port]
	if !ok {
		return checkCode("SetParameter", ErrorBadPortIndex)
	}
	if c.state != StateLoaded && p.def.Enabled {
		return checkCode("SetParameter", ErrorIncorrectStateOperation)
	}
	if def.BufferCountActual < p.def.BufferCountMin {
		return checkCode("SetParameter", ErrorBadParameter)
	}
	if !p.supports(def.Compression, def.Color) {
		return checkCode("SetParameter", ErrorUnsupportedSetting)
	}
	p.def.BufferCountActual = def.BufferCountActual
	p.def.Width, p.def.Height = def.Width, def.Height
	p.def.Stride, p.def.SliceHeight = def.Stride, def.SliceHeight
	p.def.Compression, p.def.Color = def.Compression, def.Color
	if def.Compression != CodingUnused && def.BufferSize > p.def.BufferSize {
		p.def.BufferSize = def.BufferSize
	}
	p.resize()
	return nil
}

func (c *simComponent) ImagePorts() (uint32, uint32, error) {
	return c.portStart, c.portCount, nil
}

func (c *simComponent) GetImagePortFormat(port, index uint32) (ImagePortFormat, error) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return ImagePortFormat{}, checkCode("GetParameter", ErrorBadPortIndex)
	}
	if index >= uint32(len(p.formats)) {
		return ImagePortFormat{}, checkCode("GetParameter", ErrorNoMore)
	}
	return p.formats[index], nil
}

func (c *simComponent) SetImagePortFormat(f ImagePortFormat) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[f.Port]
	if !ok {
		return checkCode("SetParameter", ErrorBadPortIndex)
	}
	if c.state != StateLoaded && p.def.Enabled {
		return checkCode("SetParameter", ErrorIncorrectStateOperation)
	}
	if !p.supports(f.Compression, f.Color) {
		return checkCode("SetParameter", ErrorUnsupportedSetting)
	}
	p.def.Compression = f.Compression
	if f.Compression == CodingUnused {
		p.def.Color = f.Color
	}
	p.resize()
	return nil
}

func (c *simComponent) GetInputCrop(port uint32) (Crop, error) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	if !ok || !p.cropOK {
		return Crop{}, checkCode("GetConfig", ErrorUnsupportedIndex)
	}
	return p.crop, nil
}

func (c *simComponent) SetInputCrop(port uint32, crop Crop) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	if !ok || !p.cropOK {
		return checkCode("SetConfig", ErrorUnsupportedIndex)
	}
	if crop.Left < 0 || crop.Top < 0 {
		return checkCode("SetConfig", ErrorBadParameter)
	}
	p.crop = crop
	return nil
}

func (c *simComponent) SetQFactor(port uint32, q uint32) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	if !ok || !p.qOK {
		return checkCode("SetParameter", ErrorUnsupportedIndex)
	}
	if q < 1 || q > 100 {
		return checkCode("SetParameter", ErrorBadParameter)
	}
	p.qfactor = q
	return nil
}

func (c *simComponent) SupportsSlices(port uint32) bool {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	return ok && p.slices
}

func (c *simComponent) NumAvailableStreams(port uint32) (uint32, error) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	if !ok || p.streams == nil {
		return 0, checkCode("GetParameter", ErrorUnsupportedIndex)
	}
	return *p.streams, nil
}

func (c *simComponent) SetContentURI(uri string) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	r, ok := c.codec.(*simReader)
	if !ok {
		return checkCode("SetParameter", ErrorUnsupportedIndex)
	}
	if c.state != StateLoaded {
		return checkCode("SetParameter", ErrorIncorrectStateOperation)
	}
	return r.open(c, uri)
}

func (c *simComponent) AllocateBuffer(port uint32, size int) (*Buffer, error) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return nil, checkCode("AllocateBuffer", ErrorBadPortIndex)
	}
	if p.tunneled() || !p.def.Enabled {
		return nil, checkCode("AllocateBuffer", ErrorIncorrectStateOperation)
	}
	if size < int(p.def.BufferSize) || size <= 0 {
		return nil, checkCode("AllocateBuffer", ErrorBadParameter)
	}
	if len(p.buffers) >= int(p.def.BufferCountActual) {
		return nil, checkCode("AllocateBuffer", ErrorInsufficientResources)
	}
	b := NewBuffer(port, make([]byte, size))
	p.buffers = append(p.buffers, b)
	p.def.Populated = len(p.buffers) == int(p.def.BufferCountActual)
	c.kick()
	return b, nil
}

func (c *simComponent) FreeBuffer(port uint32, b *Buffer) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return checkCode("FreeBuffer", ErrorBadPortIndex)
	}
	for _, q := range p.queue {
		if q == b {
			return checkCode("FreeBuffer", ErrorIncorrectStateOperation)
		}
	}
	unloading := c.switching && c.target == StateLoaded
	if p.def.Enabled && !unloading && c.state != StateLoaded {
		return checkCode("FreeBuffer", ErrorIncorrectStateOperation)
	}
	for i, have := range p.buffers {
		if have == b {
			p.buffers = append(p.buffers[:i], p.buffers[i+1:]...)
			p.def.Populated = false
			c.kick()
			return nil
		}
	}
	return checkCode("FreeBuffer", ErrorBadParameter)
}

func (c *simComponent) EmptyThisBuffer(b *Buffer) error {
	return c.submit(b, DirInput, "EmptyThisBuffer")
}

func (c *simComponent) FillThisBuffer(b *Buffer) error {
	return c.submit(b, DirOutput, "FillThisBuffer")
}

func (c *simComponent) submit(b *Buffer, dir Direction, op string) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	p, ok := c.ports[b.Port]
	if !ok {
		return checkCode(op, ErrorBadPortIndex)
	}
	if p.def.Dir != dir {
		return checkCode(op, ErrorBadParameter)
	}
	if c.state != StateIdle && c.state != StateExecuting && c.state != StatePause {
		return checkCode(op, ErrorIncorrectStateOperation)
	}
	if !p.def.Enabled {
		return checkCode(op, ErrorIncorrectStateOperation)
	}
	known := false
	for _, have := range p.buffers {
		known = known || have == b
	}
	if !known || b.Offset+b.FilledLen > len(b.Data) {
		return checkCode(op, ErrorBadParameter)
	}
	p.queue = append(p.queue, b)
	c.kick()
	return nil
}
