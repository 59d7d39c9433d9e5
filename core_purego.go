//go:build linux && !noomx

// OpenMAX IL binding for the Broadcom VideoCore core (libopenmaxil) using purego.

package omx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	omxLibOnce    sync.Once
	omxLibHandle  uintptr
	bcmHostHandle uintptr
	omxLibInitErr error
	omxLibLoaded  bool
	omxLibPath    string
)

// libopenmaxil and libbcm_host function pointers
var (
	omxInit              func() uint32
	omxDeinit            func() uint32
	omxComponentNameEnum func(name uintptr, length uint32, index uint32) uint32
	omxGetHandle         func(handle uintptr, name uintptr, appData uintptr, callbacks uintptr) uint32
	omxFreeHandle        func(handle uintptr) uint32
	omxSetupTunnel       func(out uintptr, outPort uint32, in uintptr, inPort uint32) uint32

	bcmHostInit   func()
	bcmHostDeinit func()
)

// Index values from OMX_Index.h
const (
	omxIndexParamImageInit           = 0x01000003
	omxIndexParamNumAvailableStreams = 0x01000006
	omxIndexParamContentURI          = 0x0100000D
	omxIndexParamPortDefinition      = 0x02000001
	omxIndexParamImagePortFormat     = 0x05000001
	omxIndexParamQFactor             = 0x05000002
	omxIndexConfigCommonInputCrop    = 0x0700000E

	omxMaxStringName = 128
)

// omxVersion is OMX_VERSIONTYPE for IL 1.1.2.
type omxVersion [4]byte

var omxSpecVersion = omxVersion{1, 1, 2, 0}

type omxPortParam struct {
	Size            uint32
	Version         omxVersion
	Ports           uint32
	StartPortNumber uint32
}

// omxImagePortDefinition is the image member of the port definition union.
// The tail pads it to the video member, the largest of the union.
type omxImagePortDefinition struct {
	MIMEType             uintptr
	NativeRender         uintptr
	FrameWidth           uint32
	FrameHeight          uint32
	Stride               int32
	SliceHeight          uint32
	FlagErrorConcealment uint32
	CompressionFormat    uint32
	ColorFormat          uint32
	NativeWindow         uintptr
	_                    [2]uint32
}

type omxPortDefinition struct {
	Size              uint32
	Version           omxVersion
	PortIndex         uint32
	Dir               uint32
	BufferCountActual uint32
	BufferCountMin    uint32
	BufferSize        uint32
	Enabled           uint32
	Populated         uint32
	Domain            uint32
	Image             omxImagePortDefinition
	BuffersContiguous uint32
	BufferAlignment   uint32
}

type omxImagePortFormat struct {
	Size        uint32
	Version     omxVersion
	PortIndex   uint32
	Index       uint32
	Compression uint32
	Color       uint32
}

type omxRect struct {
	Size      uint32
	Version   omxVersion
	PortIndex uint32
	Left      int32
	Top       int32
	Width     uint32
	Height    uint32
}

type omxPortU32 struct {
	Size      uint32
	Version   omxVersion
	PortIndex uint32
	Value     uint32
}

// omxBufferHeader is OMX_BUFFERHEADERTYPE built with OMX_SKIP64BIT.
type omxBufferHeader struct {
	Size                uint32
	Version             omxVersion
	Buffer              uintptr
	AllocLen            uint32
	FilledLen           uint32
	Offset              uint32
	AppPrivate          uintptr
	PlatformPrivate     uintptr
	InputPortPrivate    uintptr
	OutputPortPrivate   uintptr
	MarkTargetComponent uintptr
	MarkData            uintptr
	TickCount           uint32
	TimeStamp           [2]uint32
	Flags               uint32
	OutputPortIndex     uint32
	InputPortIndex      uint32
}

// omxComponentVtable is OMX_COMPONENTTYPE.
type omxComponentVtable struct {
	Size                   uint32
	Version                omxVersion
	ComponentPrivate       uintptr
	ApplicationPrivate     uintptr
	GetComponentVersion    uintptr
	SendCommand            uintptr
	GetParameter           uintptr
	SetParameter           uintptr
	GetConfig              uintptr
	SetConfig              uintptr
	GetExtensionIndex      uintptr
	GetState               uintptr
	ComponentTunnelRequest uintptr
	UseBuffer              uintptr
	AllocateBuffer         uintptr
	FreeBuffer             uintptr
	EmptyThisBuffer        uintptr
	FillThisBuffer         uintptr
	SetCallbacks           uintptr
	ComponentDeInit        uintptr
	UseEGLImage            uintptr
	ComponentRoleEnum      uintptr
}

func loadOMX(libPath string) error {
	omxLibOnce.Do(func() {
		omxLibInitErr = loadOMXLib(libPath)
		if omxLibInitErr == nil {
			omxLibLoaded = true
		}
	})
	return omxLibInitErr
}

func loadOMXLib(libPath string) error {
	// libopenmaxil needs the VideoCore host library loaded globally first.
	for _, path := range getOMXLibPaths("", "libbcm_host.so") {
		if handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL); err == nil {
			bcmHostHandle = handle
			purego.RegisterLibFunc(&bcmHostInit, handle, "bcm_host_init")
			purego.RegisterLibFunc(&bcmHostDeinit, handle, "bcm_host_deinit")
			break
		}
	}

	var lastErr error
	for _, path := range getOMXLibPaths(libPath, "libopenmaxil.so") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := purego.Dlsym(handle, "OMX_Init"); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		omxLibHandle = handle
		omxLibPath = path
		loadOMXSymbols()
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("%w: load libopenmaxil: %v", ErrPlatformUnavailable, lastErr)
	}
	return fmt.Errorf("%w: libopenmaxil not found in any standard location", ErrPlatformUnavailable)
}

func getOMXLibPaths(explicit, libName string) []string {
	var paths []string

	if explicit != "" {
		paths = append(paths, explicit)
	}
	if envPath := os.Getenv("OMX_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths, filepath.Join(moduleRoot, "build", libName))
	}

	// Raspberry Pi firmware userland, then system paths
	paths = append(paths,
		filepath.Join("/opt/vc/lib", libName),
		libName,
		filepath.Join("/usr/local/lib", libName),
		filepath.Join("/usr/lib", libName),
	)
	return paths
}

func loadOMXSymbols() {
	purego.RegisterLibFunc(&omxInit, omxLibHandle, "OMX_Init")
	purego.RegisterLibFunc(&omxDeinit, omxLibHandle, "OMX_Deinit")
	purego.RegisterLibFunc(&omxComponentNameEnum, omxLibHandle, "OMX_ComponentNameEnum")
	purego.RegisterLibFunc(&omxGetHandle, omxLibHandle, "OMX_GetHandle")
	purego.RegisterLibFunc(&omxFreeHandle, omxLibHandle, "OMX_FreeHandle")
	purego.RegisterLibFunc(&omxSetupTunnel, omxLibHandle, "OMX_SetupTunnel")
}

// Callback trampolines are created once; purego callbacks are never freed.
var (
	nativeCallbacksOnce sync.Once
	nativeCallbacks     [3]uintptr // OMX_CALLBACKTYPE
	nativeHandles       sync.Map   // app data id -> *nativeHandle
	nativeNextID        atomic.Uintptr
)

func registerNativeCallbacks() {
	nativeCallbacksOnce.Do(func() {
		nativeCallbacks[0] = purego.NewCallback(nativeEventHandler)
		nativeCallbacks[1] = purego.NewCallback(nativeEmptyBufferDone)
		nativeCallbacks[2] = purego.NewCallback(nativeFillBufferDone)
	})
}

func nativeHandleFor(appData uintptr) *nativeHandle {
	v, ok := nativeHandles.Load(appData)
	if !ok {
		return nil
	}
	return v.(*nativeHandle)
}

func nativeEventHandler(component, appData, event, data1, data2, eventData uintptr) uintptr {
	if h := nativeHandleFor(appData); h != nil && h.cb.Event != nil {
		h.cb.Event(EventType(event), uint32(data1), uint32(data2))
	}
	return 0
}

func nativeEmptyBufferDone(component, appData, header uintptr) uintptr {
	if h := nativeHandleFor(appData); h != nil {
		if b := h.done(header); b != nil && h.cb.EmptyBufferDone != nil {
			h.cb.EmptyBufferDone(b)
		}
	}
	return 0
}

func nativeFillBufferDone(component, appData, header uintptr) uintptr {
	if h := nativeHandleFor(appData); h != nil {
		if b := h.done(header); b != nil && h.cb.FillBufferDone != nil {
			h.cb.FillBufferDone(b)
		}
	}
	return 0
}

// NativeCore is the VideoCore OpenMAX IL core.
type NativeCore struct {
	mu          sync.Mutex
	initialized bool
}

// NewNativeCore loads libopenmaxil. An empty libPath searches OMX_LIB_PATH,
// the executable directory, /opt/vc/lib and the system paths. The first
// successful load is reused for the life of the process.
func NewNativeCore(libPath string) (Core, error) {
	if err := loadOMX(libPath); err != nil {
		return nil, err
	}
	registerNativeCallbacks()
	return &NativeCore{}, nil
}

// Init initializes the host library and the IL core.
func (n *NativeCore) Init() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.initialized {
		return nil
	}
	if bcmHostInit != nil {
		bcmHostInit()
	}
	if err := checkCode("OMX_Init", ErrorCode(omxInit())); err != nil {
		return err
	}
	n.initialized = true
	return nil
}

// Deinit shuts the IL core down.
func (n *NativeCore) Deinit() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized {
		return nil
	}
	n.initialized = false
	err := checkCode("OMX_Deinit", ErrorCode(omxDeinit()))
	if bcmHostDeinit != nil {
		bcmHostDeinit()
	}
	return err
}

// ComponentNames enumerates components until OMX_ErrorNoMore.
func (n *NativeCore) ComponentNames() ([]string, error) {
	buf := make([]byte, omxMaxStringName)
	var names []string
	for i := uint32(0); ; i++ {
		clear(buf)
		err := checkCode("OMX_ComponentNameEnum",
			ErrorCode(omxComponentNameEnum(uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), i)))
		if errors.Is(err, ErrNoMore) {
			return names, nil
		}
		if err != nil {
			return names, err
		}
		names = append(names, goStringFromPtr(uintptr(unsafe.Pointer(&buf[0]))))
	}
}

// GetHandle instantiates a component.
func (n *NativeCore) GetHandle(name string, cb Callbacks) (Handle, error) {
	id := nativeNextID.Add(1)
	h := &nativeHandle{id: id, name: name, cb: cb, buffers: make(map[uintptr]*Buffer)}
	nativeHandles.Store(id, h)

	cname := cString(name)
	var ptr uintptr
	code := omxGetHandle(uintptr(unsafe.Pointer(&ptr)), uintptr(unsafe.Pointer(&cname[0])), id,
		uintptr(unsafe.Pointer(&nativeCallbacks)))
	runtime.KeepAlive(cname)
	if err := checkCode("OMX_GetHandle", ErrorCode(code)); err != nil {
		nativeHandles.Delete(id)
		return nil, err
	}
	h.ptr = ptr
	h.vt = (*omxComponentVtable)(unsafe.Pointer(ptr))
	return h, nil
}

// FreeHandle releases a component.
func (n *NativeCore) FreeHandle(handle Handle) error {
	h, ok := handle.(*nativeHandle)
	if !ok {
		return fmt.Errorf("omx: foreign handle %T", handle)
	}
	if err := checkCode("OMX_FreeHandle", ErrorCode(omxFreeHandle(h.ptr))); err != nil {
		return err
	}
	nativeHandles.Delete(h.id)
	return nil
}

// SetupTunnel connects two component ports.
func (n *NativeCore) SetupTunnel(out Handle, outPort uint32, in Handle, inPort uint32) error {
	o, ok := out.(*nativeHandle)
	if !ok {
		return fmt.Errorf("omx: foreign handle %T", out)
	}
	i, ok := in.(*nativeHandle)
	if !ok {
		return fmt.Errorf("omx: foreign handle %T", in)
	}
	return checkCode("OMX_SetupTunnel", ErrorCode(omxSetupTunnel(o.ptr, outPort, i.ptr, inPort)))
}

// nativeHandle wraps an OMX_HANDLETYPE.
type nativeHandle struct {
	id   uintptr
	name string
	cb   Callbacks
	ptr  uintptr
	vt   *omxComponentVtable

	mu      sync.Mutex
	buffers map[uintptr]*Buffer // header address -> buffer
}

func (h *nativeHandle) Name() string { return h.name }

func (h *nativeHandle) call(op string, fn uintptr, args ...uintptr) error {
	r1, _, _ := purego.SyscallN(fn, append([]uintptr{h.ptr}, args...)...)
	return checkCode(op, ErrorCode(uint32(r1)))
}

func (h *nativeHandle) getParameter(op string, index uint32, p unsafe.Pointer) error {
	err := h.call(op, h.vt.GetParameter, uintptr(index), uintptr(p))
	runtime.KeepAlive(p)
	return err
}

func (h *nativeHandle) setParameter(op string, index uint32, p unsafe.Pointer) error {
	err := h.call(op, h.vt.SetParameter, uintptr(index), uintptr(p))
	runtime.KeepAlive(p)
	return err
}

func (h *nativeHandle) getConfig(op string, index uint32, p unsafe.Pointer) error {
	err := h.call(op, h.vt.GetConfig, uintptr(index), uintptr(p))
	runtime.KeepAlive(p)
	return err
}

func (h *nativeHandle) setConfig(op string, index uint32, p unsafe.Pointer) error {
	err := h.call(op, h.vt.SetConfig, uintptr(index), uintptr(p))
	runtime.KeepAlive(p)
	return err
}

func (h *nativeHandle) SendCommand(cmd Command, param uint32) error {
	return h.call("SendCommand "+cmd.String(), h.vt.SendCommand, uintptr(cmd), uintptr(param), 0)
}

func (h *nativeHandle) GetState() (State, error) {
	st := new(uint32)
	err := h.call("GetState", h.vt.GetState, uintptr(unsafe.Pointer(st)))
	return State(*st), err
}

func (h *nativeHandle) rawPortDefinition(port uint32) (*omxPortDefinition, error) {
	def := &omxPortDefinition{Version: omxSpecVersion, PortIndex: port}
	def.Size = uint32(unsafe.Sizeof(*def))
	if err := h.getParameter("GetParameter PortDefinition", omxIndexParamPortDefinition, unsafe.Pointer(def)); err != nil {
		return nil, err
	}
	return def, nil
}

func (h *nativeHandle) GetPortDefinition(port uint32) (PortDefinition, error) {
	def, err := h.rawPortDefinition(port)
	if err != nil {
		return PortDefinition{}, err
	}
	return PortDefinition{
		Port:              def.PortIndex,
		Dir:               Direction(def.Dir),
		BufferCountActual: def.BufferCountActual,
		BufferCountMin:    def.BufferCountMin,
		BufferSize:        def.BufferSize,
		Enabled:           def.Enabled != 0,
		Populated:         def.Populated != 0,
		Domain:            Domain(def.Domain),
		Width:             def.Image.FrameWidth,
		Height:            def.Image.FrameHeight,
		Stride:            def.Image.Stride,
		SliceHeight:       def.Image.SliceHeight,
		Compression:       ImageCoding(def.Image.CompressionFormat),
		Color:             ColorFormat(def.Image.ColorFormat),
		BuffersContiguous: def.BuffersContiguous != 0,
		BufferAlignment:   def.BufferAlignment,
	}, nil
}

// SetPortDefinition reads the current definition and overlays the writable
// fields, so platform-owned fields keep their values.
func (h *nativeHandle) SetPortDefinition(d PortDefinition) error {
	def, err := h.rawPortDefinition(d.Port)
	if err != nil {
		return err
	}
	def.BufferCountActual = d.BufferCountActual
	def.BufferSize = d.BufferSize
	def.Image.FrameWidth = d.Width
	def.Image.FrameHeight = d.Height
	def.Image.Stride = d.Stride
	def.Image.SliceHeight = d.SliceHeight
	def.Image.CompressionFormat = uint32(d.Compression)
	def.Image.ColorFormat = uint32(d.Color)
	return h.setParameter("SetParameter PortDefinition", omxIndexParamPortDefinition, unsafe.Pointer(def))
}

func (h *nativeHandle) ImagePorts() (uint32, uint32, error) {
	p := &omxPortParam{Version: omxSpecVersion}
	p.Size = uint32(unsafe.Sizeof(*p))
	if err := h.getParameter("GetParameter ImageInit", omxIndexParamImageInit, unsafe.Pointer(p)); err != nil {
		return 0, 0, err
	}
	return p.StartPortNumber, p.Ports, nil
}

func (h *nativeHandle) GetImagePortFormat(port, index uint32) (ImagePortFormat, error) {
	f := &omxImagePortFormat{Version: omxSpecVersion, PortIndex: port, Index: index}
	f.Size = uint32(unsafe.Sizeof(*f))
	if err := h.getParameter("GetParameter ImagePortFormat", omxIndexParamImagePortFormat, unsafe.Pointer(f)); err != nil {
		return ImagePortFormat{}, err
	}
	return ImagePortFormat{Port: port, Index: index, Compression: ImageCoding(f.Compression), Color: ColorFormat(f.Color)}, nil
}

func (h *nativeHandle) SetImagePortFormat(pf ImagePortFormat) error {
	f := &omxImagePortFormat{Version: omxSpecVersion, PortIndex: pf.Port, Index: pf.Index,
		Compression: uint32(pf.Compression), Color: uint32(pf.Color)}
	f.Size = uint32(unsafe.Sizeof(*f))
	return h.setParameter("SetParameter ImagePortFormat", omxIndexParamImagePortFormat, unsafe.Pointer(f))
}

func (h *nativeHandle) GetInputCrop(port uint32) (Crop, error) {
	r := &omxRect{Version: omxSpecVersion, PortIndex: port}
	r.Size = uint32(unsafe.Sizeof(*r))
	if err := h.getConfig("GetConfig CommonInputCrop", omxIndexConfigCommonInputCrop, unsafe.Pointer(r)); err != nil {
		return Crop{}, err
	}
	return Crop{Left: r.Left, Top: r.Top, Width: r.Width, Height: r.Height}, nil
}

func (h *nativeHandle) SetInputCrop(port uint32, c Crop) error {
	r := &omxRect{Version: omxSpecVersion, PortIndex: port, Left: c.Left, Top: c.Top, Width: c.Width, Height: c.Height}
	r.Size = uint32(unsafe.Sizeof(*r))
	return h.setConfig("SetConfig CommonInputCrop", omxIndexConfigCommonInputCrop, unsafe.Pointer(r))
}

func (h *nativeHandle) SetQFactor(port uint32, q uint32) error {
	p := &omxPortU32{Version: omxSpecVersion, PortIndex: port, Value: q}
	p.Size = uint32(unsafe.Sizeof(*p))
	return h.setParameter("SetParameter QFactor", omxIndexParamQFactor, unsafe.Pointer(p))
}

// SupportsSlices reports full-frame buffers only.
// TODO: query OMX_IndexParamBrcmSupportsSlices once its vendor index value is
// read from the firmware headers.
func (h *nativeHandle) SupportsSlices(port uint32) bool { return false }

func (h *nativeHandle) NumAvailableStreams(port uint32) (uint32, error) {
	p := &omxPortU32{Version: omxSpecVersion, PortIndex: port}
	p.Size = uint32(unsafe.Sizeof(*p))
	if err := h.getParameter("GetParameter NumAvailableStreams", omxIndexParamNumAvailableStreams, unsafe.Pointer(p)); err != nil {
		return 0, err
	}
	return p.Value, nil
}

// SetContentURI fills an OMX_PARAM_CONTENTURITYPE: size, version, then the
// NUL-terminated URI.
func (h *nativeHandle) SetContentURI(uri string) error {
	const header = 8
	size := (header + len(uri) + 1 + 3) &^ 3
	buf := make([]uint32, size/4)
	buf[0] = uint32(size)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&buf[1])), 4), omxSpecVersion[:])
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), size)[header:], uri)
	return h.setParameter("SetParameter ContentURI", omxIndexParamContentURI, unsafe.Pointer(&buf[0]))
}

func (h *nativeHandle) AllocateBuffer(port uint32, size int) (*Buffer, error) {
	hdr := new(uintptr)
	if err := h.call("AllocateBuffer", h.vt.AllocateBuffer, uintptr(unsafe.Pointer(hdr)), uintptr(port), 0, uintptr(size)); err != nil {
		return nil, err
	}
	bh := (*omxBufferHeader)(unsafe.Pointer(*hdr))
	b := NewBuffer(port, unsafe.Slice((*byte)(unsafe.Pointer(bh.Buffer)), bh.AllocLen))
	b.SetPlatformHeader(*hdr, h)

	h.mu.Lock()
	h.buffers[*hdr] = b
	h.mu.Unlock()
	return b, nil
}

func (h *nativeHandle) FreeBuffer(port uint32, b *Buffer) error {
	hdr, _ := b.PlatformHeader()
	if err := h.call("FreeBuffer", h.vt.FreeBuffer, uintptr(port), hdr); err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.buffers, hdr)
	h.mu.Unlock()
	b.SetPlatformHeader(0, nil)
	return nil
}

// prepare copies the Go-side payload bookkeeping into the header.
func (h *nativeHandle) prepare(b *Buffer) uintptr {
	hdr, _ := b.PlatformHeader()
	bh := (*omxBufferHeader)(unsafe.Pointer(hdr))
	bh.FilledLen = uint32(b.FilledLen)
	bh.Offset = uint32(b.Offset)
	bh.Flags = uint32(b.Flags)
	return hdr
}

// done copies the header bookkeeping back after a completion callback.
func (h *nativeHandle) done(hdr uintptr) *Buffer {
	h.mu.Lock()
	b := h.buffers[hdr]
	h.mu.Unlock()
	if b == nil {
		return nil
	}
	bh := (*omxBufferHeader)(unsafe.Pointer(hdr))
	b.FilledLen = int(bh.FilledLen)
	b.Offset = int(bh.Offset)
	b.Flags = BufferFlags(bh.Flags)
	return b
}

func (h *nativeHandle) EmptyThisBuffer(b *Buffer) error {
	return h.call("EmptyThisBuffer", h.vt.EmptyThisBuffer, h.prepare(b))
}

func (h *nativeHandle) FillThisBuffer(b *Buffer) error {
	return h.call("FillThisBuffer", h.vt.FillThisBuffer, h.prepare(b))
}

func cString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

func nativeAvailable() bool { return loadOMX("") == nil }
