package omx

import (
	"fmt"
	"image"
	"image/color"
)

// DecodeRaw interprets data laid out as g as an image. The returned image
// may share memory with data.
func DecodeRaw(data []byte, g Geometry) (image.Image, error) {
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("omx: raw image %s has no area", g)
	}
	if len(data) < g.FrameSize() {
		return nil, fmt.Errorf("omx: raw image %s needs %d bytes, have %d", g, g.FrameSize(), len(data))
	}
	stride := g.Stride
	if stride <= 0 {
		stride = g.Color.Stride(g.Width)
	}
	w, h := g.Width, g.Height
	rect := image.Rect(0, 0, w, h)

	switch g.Color {
	case ColorYUV420Planar, ColorYUV420PackedPlanar:
		off, st := g.planes()
		cH := (h + 1) / 2
		return &image.YCbCr{
			Y:              data[off[0] : off[0]+st[0]*h],
			Cb:             data[off[1] : off[1]+st[1]*cH],
			Cr:             data[off[2] : off[2]+st[2]*cH],
			YStride:        st[0],
			CStride:        st[1],
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil

	case ColorMonochrome, ColorL8:
		return &image.Gray{Pix: data[:stride*h], Stride: stride, Rect: rect}, nil

	case Color32bitABGR8888:
		// R, G, B, A in memory
		return &image.NRGBA{Pix: data[:stride*h], Stride: stride, Rect: rect}, nil
	}

	order, ok := byteOrder(g.Color)
	if !ok {
		return nil, fmt.Errorf("omx: raw %s: %w", g.Color, ErrUnsupported)
	}
	img := image.NewNRGBA(rect)
	bpp := g.Color.BytesPerPixel()
	for y := 0; y < h; y++ {
		row := data[y*stride:]
		for x := 0; x < w; x++ {
			px := row[x*bpp : x*bpp+bpp]
			img.SetNRGBA(x, y, order.get(px))
		}
	}
	return img, nil
}

// EncodeRaw lays img out as g. Zero width or height take the image bounds.
func EncodeRaw(img image.Image, g Geometry) ([]byte, error) {
	b := img.Bounds()
	if g.Width <= 0 {
		g.Width = b.Dx()
	}
	if g.Height <= 0 {
		g.Height = b.Dy()
	}
	w, h := min(g.Width, b.Dx()), min(g.Height, b.Dy())
	stride := g.Stride
	if stride <= 0 {
		stride = g.Color.Stride(g.Width)
	}
	out := make([]byte, g.FrameSize())

	switch g.Color {
	case ColorYUV420Planar, ColorYUV420PackedPlanar:
		off, st := g.planes()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, gg, bb := rgb8(img.At(b.Min.X+x, b.Min.Y+y))
				yy, cb, cr := color.RGBToYCbCr(r, gg, bb)
				out[off[0]+y*st[0]+x] = yy
				if x%2 == 0 && y%2 == 0 {
					i := (y/2)*st[1] + x/2
					out[off[1]+i] = cb
					out[off[2]+i] = cr
				}
			}
		}
		return out, nil

	case ColorMonochrome, ColorL8:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[y*stride+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			}
		}
		return out, nil
	}

	order, ok := byteOrder(g.Color)
	if !ok {
		return nil, fmt.Errorf("omx: raw %s: %w", g.Color, ErrUnsupported)
	}
	bpp := g.Color.BytesPerPixel()
	for y := 0; y < h; y++ {
		row := out[y*stride:]
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			order.put(row[x*bpp:x*bpp+bpp], c)
		}
	}
	return out, nil
}

func rgb8(c color.Color) (r, g, b uint8) {
	rr, gg, bb, _ := c.RGBA()
	return uint8(rr >> 8), uint8(gg >> 8), uint8(bb >> 8)
}

// pixelOrder maps the bytes of one packed pixel. Index -1 means the channel
// is absent.
type pixelOrder struct {
	r, g, b, a int
	rgb565     bool
}

func (o pixelOrder) get(px []byte) color.NRGBA {
	if o.rgb565 {
		v := uint16(px[0]) | uint16(px[1])<<8
		r5, g6, b5 := uint8(v>>11), uint8(v>>5)&0x3f, uint8(v)&0x1f
		c := color.NRGBA{R: r5<<3 | r5>>2, G: g6<<2 | g6>>4, B: b5<<3 | b5>>2, A: 0xff}
		if o.r != 0 {
			c.R, c.B = c.B, c.R
		}
		return c
	}
	c := color.NRGBA{R: px[o.r], G: px[o.g], B: px[o.b], A: 0xff}
	if o.a >= 0 {
		c.A = px[o.a]
	}
	return c
}

func (o pixelOrder) put(px []byte, c color.NRGBA) {
	if o.rgb565 {
		r, b := c.R, c.B
		if o.r != 0 {
			r, b = b, r
		}
		v := uint16(r>>3)<<11 | uint16(c.G>>2)<<5 | uint16(b>>3)
		px[0], px[1] = byte(v), byte(v>>8)
		return
	}
	px[o.r], px[o.g], px[o.b] = c.R, c.G, c.B
	if o.a >= 0 {
		px[o.a] = c.A
	}
}

// byteOrder returns the in-memory channel order of a packed format. Format
// names list channels from the most significant bits, so on a little-endian
// buffer they appear reversed.
func byteOrder(c ColorFormat) (pixelOrder, bool) {
	switch c {
	case Color32bitABGR8888:
		return pixelOrder{r: 0, g: 1, b: 2, a: 3}, true
	case Color32bitARGB8888:
		return pixelOrder{b: 0, g: 1, r: 2, a: 3}, true
	case Color32bitBGRA8888:
		return pixelOrder{a: 0, r: 1, g: 2, b: 3}, true
	case Color24bitBGR888:
		return pixelOrder{r: 0, g: 1, b: 2, a: -1}, true
	case Color24bitRGB888:
		return pixelOrder{b: 0, g: 1, r: 2, a: -1}, true
	case Color16bitRGB565:
		return pixelOrder{rgb565: true, a: -1}, true
	case Color16bitBGR565:
		return pixelOrder{rgb565: true, r: 1, a: -1}, true
	default:
		return pixelOrder{}, false
	}
}

// RawSupported reports whether DecodeRaw and EncodeRaw handle a format.
func RawSupported(c ColorFormat) bool {
	switch c {
	case ColorYUV420Planar, ColorYUV420PackedPlanar, ColorMonochrome, ColorL8:
		return true
	}
	_, ok := byteOrder(c)
	return ok
}
