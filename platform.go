package omx

// Core is the OpenMAX IL core: the entry point that loads components and
// connects them. Implementations are the native library binding and the
// software simulation.
type Core interface {
	Init() error
	Deinit() error
	// ComponentNames lists every component the core can instantiate.
	ComponentNames() ([]string, error)
	// GetHandle instantiates a component. Callbacks are invoked on platform
	// goroutines or threads and must not block.
	GetHandle(name string, cb Callbacks) (Handle, error)
	FreeHandle(h Handle) error
	// SetupTunnel connects an output port of out to an input port of in.
	SetupTunnel(out Handle, outPort uint32, in Handle, inPort uint32) error
}

// Handle is one instantiated component.
type Handle interface {
	Name() string
	SendCommand(cmd Command, param uint32) error
	GetState() (State, error)

	GetPortDefinition(port uint32) (PortDefinition, error)
	SetPortDefinition(def PortDefinition) error
	// ImagePorts returns the first image port index and the number of ports.
	ImagePorts() (start, count uint32, err error)
	// GetImagePortFormat returns the index-th supported format of a port, or
	// ErrNoMore past the end of the list.
	GetImagePortFormat(port, index uint32) (ImagePortFormat, error)
	SetImagePortFormat(f ImagePortFormat) error

	GetInputCrop(port uint32) (Crop, error)
	SetInputCrop(port uint32, c Crop) error
	SetQFactor(port uint32, q uint32) error
	SupportsSlices(port uint32) bool
	NumAvailableStreams(port uint32) (uint32, error)
	SetContentURI(uri string) error

	AllocateBuffer(port uint32, size int) (*Buffer, error)
	FreeBuffer(port uint32, b *Buffer) error
	EmptyThisBuffer(b *Buffer) error
	FillThisBuffer(b *Buffer) error
}

// Callbacks receive asynchronous notifications from a component.
type Callbacks struct {
	Event           func(ev EventType, data1, data2 uint32)
	EmptyBufferDone func(b *Buffer)
	FillBufferDone  func(b *Buffer)
}

// PortDefinition mirrors OMX_PARAM_PORTDEFINITIONTYPE for image ports.
type PortDefinition struct {
	Port              uint32
	Dir               Direction
	BufferCountActual uint32
	BufferCountMin    uint32
	BufferSize        uint32
	Enabled           bool
	Populated         bool
	Domain            Domain

	Width             uint32
	Height            uint32
	Stride            int32
	SliceHeight       uint32
	Compression       ImageCoding
	Color             ColorFormat
	BuffersContiguous bool
	BufferAlignment   uint32
}

// Geometry returns the raw image geometry described by the definition.
func (d PortDefinition) Geometry() Geometry {
	return Geometry{
		Width:       int(d.Width),
		Height:      int(d.Height),
		Stride:      int(d.Stride),
		SliceHeight: int(d.SliceHeight),
		Color:       d.Color,
	}
}

// ImagePortFormat is one entry of a port's supported format list.
type ImagePortFormat struct {
	Port        uint32
	Index       uint32
	Compression ImageCoding
	Color       ColorFormat
}

// Crop is a source rectangle (OMX_CONFIG_RECTTYPE).
type Crop struct {
	Left, Top     int32
	Width, Height uint32
}

// Empty returns true if the rectangle selects nothing.
func (c Crop) Empty() bool { return c.Width == 0 || c.Height == 0 }
