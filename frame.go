// Raw image formats and the geometry derived from them.
package omx

import "fmt"

// ColorFormat is an uncompressed pixel layout (OMX_COLOR_FORMATTYPE).
type ColorFormat uint32

const (
	ColorUnused                 ColorFormat = 0
	ColorMonochrome             ColorFormat = 1
	Color8bitRGB332             ColorFormat = 2
	Color12bitRGB444            ColorFormat = 3
	Color16bitARGB4444          ColorFormat = 4
	Color16bitARGB1555          ColorFormat = 5
	Color16bitRGB565            ColorFormat = 6
	Color16bitBGR565            ColorFormat = 7
	Color24bitRGB888            ColorFormat = 11
	Color24bitBGR888            ColorFormat = 12
	Color32bitBGRA8888          ColorFormat = 15
	Color32bitARGB8888          ColorFormat = 16
	ColorYUV420Planar           ColorFormat = 19
	ColorYUV420PackedPlanar     ColorFormat = 20
	ColorYUV420SemiPlanar       ColorFormat = 21
	ColorYUV422Planar           ColorFormat = 22
	ColorYUV422PackedPlanar     ColorFormat = 23
	ColorYCbYCr                 ColorFormat = 25
	ColorYCrYCb                 ColorFormat = 26
	ColorCbYCrY                 ColorFormat = 27
	ColorCrYCbY                 ColorFormat = 28
	ColorYUV444Interleaved      ColorFormat = 29
	ColorL8                     ColorFormat = 35
	ColorYUV420PackedSemiPlanar ColorFormat = 39
	Color32bitABGR8888          ColorFormat = 0x7F000001 // Broadcom extension
	Color8bitPalette            ColorFormat = 0x7F000002 // Broadcom extension
	ColorYUVUV128               ColorFormat = 0x7F000003 // Broadcom extension
	ColorBRCMEGL                ColorFormat = 0x7F000005 // Broadcom extension
	ColorBRCMOpaque             ColorFormat = 0x7F000006 // Broadcom extension
)

func (c ColorFormat) String() string {
	switch c {
	case ColorUnused:
		return "Unused"
	case ColorMonochrome:
		return "Monochrome"
	case Color8bitRGB332:
		return "8bitRGB332"
	case Color12bitRGB444:
		return "12bitRGB444"
	case Color16bitARGB4444:
		return "16bitARGB4444"
	case Color16bitARGB1555:
		return "16bitARGB1555"
	case Color16bitRGB565:
		return "16bitRGB565"
	case Color16bitBGR565:
		return "16bitBGR565"
	case Color24bitRGB888:
		return "24bitRGB888"
	case Color24bitBGR888:
		return "24bitBGR888"
	case Color32bitBGRA8888:
		return "32bitBGRA8888"
	case Color32bitARGB8888:
		return "32bitARGB8888"
	case ColorYUV420Planar:
		return "YUV420Planar"
	case ColorYUV420PackedPlanar:
		return "YUV420PackedPlanar"
	case ColorYUV420SemiPlanar:
		return "YUV420SemiPlanar"
	case ColorYUV422Planar:
		return "YUV422Planar"
	case ColorYUV422PackedPlanar:
		return "YUV422PackedPlanar"
	case ColorYCbYCr:
		return "YCbYCr"
	case ColorYCrYCb:
		return "YCrYCb"
	case ColorCbYCrY:
		return "CbYCrY"
	case ColorCrYCbY:
		return "CrYCbY"
	case ColorYUV444Interleaved:
		return "YUV444Interleaved"
	case ColorL8:
		return "L8"
	case ColorYUV420PackedSemiPlanar:
		return "YUV420PackedSemiPlanar"
	case Color32bitABGR8888:
		return "32bitABGR8888"
	case Color8bitPalette:
		return "8bitPalette"
	case ColorYUVUV128:
		return "YUVUV128"
	case ColorBRCMEGL:
		return "BRCMEGL"
	case ColorBRCMOpaque:
		return "BRCMOpaque"
	default:
		return fmt.Sprintf("ColorFormat(0x%08x)", uint32(c))
	}
}

// ParseColorFormat resolves a configuration name such as "32bitABGR8888".
func ParseColorFormat(name string) (ColorFormat, error) {
	for _, c := range []ColorFormat{
		ColorMonochrome, ColorL8, Color16bitRGB565, Color16bitBGR565,
		Color24bitRGB888, Color24bitBGR888, Color32bitBGRA8888, Color32bitARGB8888,
		Color32bitABGR8888, ColorYUV420Planar, ColorYUV420PackedPlanar,
		ColorYUV420SemiPlanar, ColorYUV420PackedSemiPlanar, ColorYUV422PackedPlanar,
		ColorYCbYCr, ColorCbYCrY,
	} {
		if c.String() == name {
			return c, nil
		}
	}
	return ColorUnused, fmt.Errorf("unknown color format %q", name)
}

// Planar returns true for formats whose chroma lives in separate planes.
func (c ColorFormat) Planar() bool {
	switch c {
	case ColorYUV420Planar, ColorYUV420PackedPlanar, ColorYUV420SemiPlanar,
		ColorYUV420PackedSemiPlanar, ColorYUV422Planar, ColorYUV422PackedPlanar:
		return true
	default:
		return false
	}
}

// BytesPerPixel returns the size of one pixel of a packed format, or of the
// luma sample for planar formats. Zero means the layout is opaque.
func (c ColorFormat) BytesPerPixel() int {
	switch c {
	case ColorMonochrome, ColorL8, Color8bitRGB332, Color8bitPalette:
		return 1
	case Color12bitRGB444, Color16bitARGB4444, Color16bitARGB1555,
		Color16bitRGB565, Color16bitBGR565, ColorYCbYCr, ColorYCrYCb,
		ColorCbYCrY, ColorCrYCbY:
		return 2
	case Color24bitRGB888, Color24bitBGR888, ColorYUV444Interleaved:
		return 3
	case Color32bitBGRA8888, Color32bitARGB8888, Color32bitABGR8888:
		return 4
	case ColorYUV420Planar, ColorYUV420PackedPlanar, ColorYUV420SemiPlanar,
		ColorYUV420PackedSemiPlanar, ColorYUV422Planar, ColorYUV422PackedPlanar:
		return 1
	default:
		return 0
	}
}

// Stride returns the minimum line length in bytes for width pixels. Planar
// strides are rounded up to an even number so chroma rows stay whole.
func (c ColorFormat) Stride(width int) int {
	if c.Planar() {
		return (width + 1) &^ 1
	}
	return width * c.BytesPerPixel()
}

// FrameSize returns the number of bytes for a full width x height image with
// the given stride (0 selects the minimum stride).
func (c ColorFormat) FrameSize(width, height, stride int) int {
	if stride <= 0 {
		stride = c.Stride(width)
	}
	switch c {
	case ColorYUV420Planar, ColorYUV420PackedPlanar, ColorYUV420SemiPlanar,
		ColorYUV420PackedSemiPlanar:
		return stride*height + 2*((stride/2)*((height+1)/2))
	case ColorYUV422Planar, ColorYUV422PackedPlanar:
		return stride * height * 2
	default:
		return stride * height
	}
}

// planes returns the offset and stride of the Y, U and V planes of a 4:2:0
// planar image.
func (g Geometry) planes() (offsets [3]int, strides [3]int) {
	stride := g.Stride
	if stride <= 0 {
		stride = g.Color.Stride(g.Width)
	}
	cStride := stride / 2
	cSize := cStride * ((g.Height + 1) / 2)
	offsets = [3]int{0, stride * g.Height, stride*g.Height + cSize}
	strides = [3]int{stride, cStride, cStride}
	return offsets, strides
}

// Geometry describes a raw image as negotiated on a port.
type Geometry struct {
	Width       int
	Height      int
	Stride      int
	SliceHeight int
	Color       ColorFormat
}

// Channels returns the number of bytes per pixel of the packed layout.
func (g Geometry) Channels() int { return g.Color.BytesPerPixel() }

// FrameSize returns the byte size of the whole image.
func (g Geometry) FrameSize() int { return g.Color.FrameSize(g.Width, g.Height, g.Stride) }

// SliceSize returns the byte size of one slice, or of the whole frame when
// the port is not sliced.
func (g Geometry) SliceSize() int {
	if g.SliceHeight <= 0 || g.SliceHeight >= g.Height {
		return g.FrameSize()
	}
	return g.Color.FrameSize(g.Width, g.SliceHeight, g.Stride)
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d stride=%d slice=%d %s", g.Width, g.Height, g.Stride, g.SliceHeight, g.Color)
}
