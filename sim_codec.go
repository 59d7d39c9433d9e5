package omx

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/mrjoshuak/go-jpeg2000"
)

const (
	simCompressedBufferSize = 81920
	simDefaultQuality       = 75
)

var simRawFormats = []ColorFormat{
	ColorYUV420PackedPlanar,
	Color32bitABGR8888,
	Color32bitARGB8888,
	Color24bitBGR888,
	Color24bitRGB888,
	Color16bitRGB565,
}

func rawFormats(colors ...ColorFormat) []ImagePortFormat {
	out := make([]ImagePortFormat, len(colors))
	for i, c := range colors {
		out[i] = ImagePortFormat{Compression: CodingUnused, Color: c}
	}
	return out
}

func codedFormats(codings ...ImageCoding) []ImagePortFormat {
	out := make([]ImagePortFormat, len(codings))
	for i, c := range codings {
		out[i] = ImagePortFormat{Compression: c, Color: ColorUnused}
	}
	return out
}

func compressedPort(dir Direction, count uint32, codings ...ImageCoding) *simPort {
	return &simPort{
		def: PortDefinition{
			Dir:               dir,
			BufferCountActual: count,
			BufferCountMin:    1,
			BufferSize:        simCompressedBufferSize,
			Compression:       codings[0],
			BufferAlignment:   16,
		},
		formats: codedFormats(codings...),
	}
}

func rawPort(dir Direction, colors ...ColorFormat) *simPort {
	return &simPort{
		def: PortDefinition{
			Dir:               dir,
			BufferCountActual: 1,
			BufferCountMin:    1,
			Compression:       CodingUnused,
			Color:             colors[0],
			BufferAlignment:   16,
		},
		formats: rawFormats(colors...),
		slices:  true,
	}
}

// decodeImage decodes a complete compressed stream.
func decodeImage(data []byte, coding ImageCoding) (image.Image, error) {
	r := bytes.NewReader(data)
	switch coding {
	case CodingJPEG:
		return jpeg.Decode(r)
	case CodingPNG:
		return png.Decode(r)
	case CodingGIF:
		return gif.Decode(r)
	case CodingJPEG2K:
		return jpeg2000.Decode(r)
	}
	img, _, err := image.Decode(r)
	return img, err
}

// probeImage reads the dimensions from the start of a stream.
func probeImage(data []byte, coding ImageCoding) (w, h int, err error) {
	r := bytes.NewReader(data)
	if coding == CodingJPEG2K {
		md, err := jpeg2000.DecodeMetadata(r)
		if err != nil {
			return 0, 0, err
		}
		return md.Width, md.Height, nil
	}
	var cfg image.Config
	switch coding {
	case CodingJPEG:
		cfg, err = jpeg.DecodeConfig(r)
	case CodingPNG:
		cfg, err = png.DecodeConfig(r)
	case CodingGIF:
		cfg, err = gif.DecodeConfig(r)
	default:
		cfg, _, err = image.DecodeConfig(r)
	}
	return cfg.Width, cfg.Height, err
}

func codingOf(format string) ImageCoding {
	switch format {
	case "jpeg":
		return CodingJPEG
	case "png":
		return CodingPNG
	case "gif":
		return CodingGIF
	case "jp2", "j2k":
		return CodingJPEG2K
	}
	return CodingAutoDetect
}

// simDecoder models image_decode: a compressed stream in on 320, one raw
// image out on 321. The output port is configured once the stream header has
// been parsed.
type simDecoder struct {
	stream     bytes.Buffer
	streams    uint32
	eos        bool
	configured bool
	finished   bool
	img        image.Image
	pending    []simChunk
	started    bool
}

func newSimDecoder(s *SimCore, name string) *simComponent {
	d := &simDecoder{}
	in := compressedPort(DirInput, 3, CodingJPEG, CodingJPEG2K, CodingPNG, CodingGIF)
	in.def.BufferCountMin = 2
	out := rawPort(DirOutput, ColorYUV420PackedPlanar, Color32bitABGR8888, Color24bitBGR888, Color16bitRGB565)
	out.slices = false
	out.streams = &d.streams
	c := newSimComponent(s, name, 320, in, out)
	c.codec = d
	return c
}

func (d *simDecoder) process(c *simComponent) []func() {
	in := c.ports[320]
	out := c.consume(320, func(payload []byte, flags BufferFlags) {
		if d.eos {
			return
		}
		d.stream.Write(payload)
		d.eos = flags.Has(FlagEOS)
	})

	coding := in.def.Compression
	if !d.configured && d.stream.Len() > 0 {
		if w, h, err := probeImage(d.stream.Bytes(), coding); err == nil && w > 0 && h > 0 {
			out = append(out, d.configure(c, w, h, coding)...)
		}
	}

	if d.eos && !d.finished && d.img == nil {
		if d.stream.Len() == 0 {
			d.finished = true
			return append(out, d.endOfStream(c)...)
		}
		img, err := decodeImage(d.stream.Bytes(), coding)
		if err != nil {
			d.finished = true
			out = append(out, c.event(EventTypeError, uint32(ErrorStreamCorrupt), 320))
			return append(out, d.endOfStream(c)...)
		}
		if !d.configured {
			out = append(out, d.configure(c, img.Bounds().Dx(), img.Bounds().Dy(), coding)...)
		}
		d.img = img
	}

	if d.img != nil && !d.finished {
		out = append(out, d.emit(c)...)
	}
	return out
}

// configure publishes the output geometry and announces it.
func (d *simDecoder) configure(c *simComponent, w, h int, coding ImageCoding) []func() {
	d.configured = true
	d.streams = 1
	p := c.ports[321]
	color := Color32bitABGR8888
	if coding == CodingJPEG {
		color = ColorYUV420PackedPlanar
	}
	p.def.Width, p.def.Height = uint32(w), uint32(h)
	p.def.Stride, p.def.SliceHeight = 0, 0
	p.def.Color = color
	p.def.BufferCountActual, p.def.BufferCountMin = 1, 1
	p.resize()

	if !p.tunneled() {
		return []func(){c.event(EventTypePortSettingsChanged, 321, 0)}
	}
	peer := p.peer.ports[p.peerPort]
	peer.def.Width, peer.def.Height = p.def.Width, p.def.Height
	peer.def.Stride, peer.def.SliceHeight = 0, 0
	peer.def.Color = p.def.Color
	peer.resize()
	return []func(){p.peer.event(EventTypePortSettingsChanged, p.peerPort, 0)}
}

// endOfStream reports the end of a stream that produced no image. Through a
// tunnel the flag surfaces on the downstream output.
func (d *simDecoder) endOfStream(c *simComponent) []func() {
	p := c.ports[321]
	if !p.tunneled() {
		return []func(){c.event(EventTypeBufferFlag, 321, uint32(FlagEOS))}
	}
	port, _ := p.peer.port(DirOutput)
	return []func(){p.peer.event(EventTypeBufferFlag, port, uint32(FlagEOS))}
}

func (d *simDecoder) emit(c *simComponent) []func() {
	p := c.ports[321]
	if !p.def.Enabled {
		return nil
	}
	if p.tunneled() {
		peer := p.peer
		if !peer.ports[p.peerPort].def.Enabled || peer.state != StateExecuting {
			return nil
		}
		frame, err := EncodeRaw(d.img, p.def.Geometry())
		d.finished = true
		if err != nil {
			return []func(){c.event(EventTypeError, uint32(ErrorStreamCorrupt), 321)}
		}
		if r, ok := peer.codec.(tunnelReceiver); ok {
			r.receive(peer, frame, FlagEOS|FlagEndOfFrame)
			peer.kick()
		}
		return nil
	}

	if !d.started {
		if len(p.queue) == 0 {
			return nil
		}
		d.started = true
		frame, err := EncodeRaw(d.img, p.def.Geometry())
		if err != nil {
			d.finished = true
			return []func(){
				c.event(EventTypeError, uint32(ErrorStreamCorrupt), 321),
				c.event(EventTypeBufferFlag, 321, uint32(FlagEOS)),
			}
		}
		d.pending = []simChunk{{data: frame, flags: FlagEOS | FlagEndOfFrame}}
	}
	out := c.produce(321, &d.pending)
	if len(d.pending) == 0 {
		d.finished = true
	}
	return out
}

// simResizer models resize: raw image in on 60, scaled raw image out on 61.
type simResizer struct {
	in      bytes.Buffer
	eos     bool
	eosSent bool
	pending []simChunk
}

func newSimResizer(s *SimCore, name string) *simComponent {
	in := rawPort(DirInput, simRawFormats...)
	in.cropOK = true
	out := rawPort(DirOutput, simRawFormats...)
	c := newSimComponent(s, name, 60, in, out)
	c.codec = &simResizer{}
	return c
}

func (r *simResizer) receive(c *simComponent, data []byte, flags BufferFlags) {
	r.in.Write(data)
	r.eos = r.eos || flags.Has(FlagEOS)
}

func (r *simResizer) process(c *simComponent) []func() {
	out := c.consume(60, func(payload []byte, flags BufferFlags) {
		r.receive(c, payload, flags)
	})

	inPort, outPort := c.ports[60], c.ports[61]
	g := inPort.def.Geometry()
	need := g.FrameSize()
	for need > 0 && r.in.Len() >= need {
		frame := r.in.Next(need)
		dst := outPort.def.Geometry()
		scaled, err := NewScaler(g, dst, inPort.crop, ScaleModeStretch).Scale(frame)
		if err != nil {
			out = append(out, c.event(EventTypeError, uint32(ErrorStreamCorrupt), 60))
			continue
		}
		flags := FlagEndOfFrame
		if r.eos && r.in.Len() == 0 {
			flags |= FlagEOS
			r.eosSent = true
		}
		r.pending = append(r.pending, simChunk{data: scaled, flags: flags})
	}
	if r.eos && !r.eosSent {
		if r.in.Len() > 0 {
			r.in.Reset()
			out = append(out, c.event(EventTypeError, uint32(ErrorStreamCorrupt), 60))
		}
		r.eosSent = true
		r.pending = append(r.pending, simChunk{flags: FlagEOS})
	}

	if outPort.def.Enabled {
		out = append(out, c.produce(61, &r.pending)...)
	}
	return out
}

// simEncoder models image_encode: raw image in on 340, JPEG out on 341.
type simEncoder struct {
	in      bytes.Buffer
	eos     bool
	eosSent bool
	pending []simChunk
}

func newSimEncoder(s *SimCore, name string) *simComponent {
	in := rawPort(DirInput, simRawFormats...)
	in.def.BufferCountActual = 3
	out := compressedPort(DirOutput, 1, CodingJPEG, CodingJPEG2K)
	out.qOK = true
	out.qfactor = simDefaultQuality
	c := newSimComponent(s, name, 340, in, out)
	c.codec = &simEncoder{}
	return c
}

func (e *simEncoder) process(c *simComponent) []func() {
	out := c.consume(340, func(payload []byte, flags BufferFlags) {
		e.in.Write(payload)
		e.eos = e.eos || flags.Has(FlagEOS)
	})

	inPort, outPort := c.ports[340], c.ports[341]
	g := inPort.def.Geometry()
	need := g.FrameSize()
	for need > 0 && e.in.Len() >= need {
		frame := e.in.Next(need)
		data, err := e.encode(frame, g, outPort)
		if err != nil {
			out = append(out, c.event(EventTypeError, uint32(ErrorStreamCorrupt), 340))
			continue
		}
		flags := FlagEndOfFrame
		if e.eos && e.in.Len() == 0 {
			flags |= FlagEOS
			e.eosSent = true
		}
		e.pending = append(e.pending, simChunk{data: data, flags: flags})
	}
	if e.eos && !e.eosSent {
		if e.in.Len() > 0 {
			e.in.Reset()
			out = append(out, c.event(EventTypeError, uint32(ErrorStreamCorrupt), 340))
		}
		e.eosSent = true
		e.pending = append(e.pending, simChunk{flags: FlagEOS})
	}

	if outPort.def.Enabled {
		out = append(out, c.produce(341, &e.pending)...)
	}
	return out
}

func (e *simEncoder) encode(frame []byte, g Geometry, out *simPort) ([]byte, error) {
	img, err := DecodeRaw(frame, g)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	switch out.def.Compression {
	case CodingJPEG2K:
		o := jpeg2000.DefaultOptions()
		o.Quality = int(out.qfactor)
		err = jpeg2000.Encode(&buf, img, o)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: int(out.qfactor)})
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", out.def.Compression, err)
	}
	return buf.Bytes(), nil
}

// simReader models image_read: the file named by the content URI is read
// out of port 310 unchanged.
type simReader struct {
	data    []byte
	loaded  bool
	pending []simChunk
	queued  bool
}

func newSimReader(s *SimCore, name string) *simComponent {
	out := compressedPort(DirOutput, 3, CodingAutoDetect, CodingJPEG, CodingJPEG2K, CodingPNG, CodingGIF)
	c := newSimComponent(s, name, 310, out)
	c.canTunnel = false
	c.codec = &simReader{}
	return c
}

func (r *simReader) open(c *simComponent, uri string) error {
	data, err := os.ReadFile(uri)
	if err != nil {
		return checkCode("SetParameter", ErrorBadParameter)
	}
	r.data, r.loaded = data, true
	p := c.ports[310]
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		p.def.Width, p.def.Height = uint32(cfg.Width), uint32(cfg.Height)
		p.def.Compression = codingOf(format)
	}
	return nil
}

func (r *simReader) process(c *simComponent) []func() {
	if !r.queued {
		r.queued = true
		r.pending = []simChunk{{data: r.data, flags: FlagEOS | FlagEndOfFrame}}
		if !r.loaded {
			r.pending[0].flags = FlagEOS
		}
	}
	if !c.ports[310].def.Enabled {
		return nil
	}
	return c.produce(310, &r.pending)
}
