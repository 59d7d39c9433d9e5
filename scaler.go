package omx

import (
	"fmt"
	"image"
)

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch ScaleMode = iota
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio.
	ScaleModeFit
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeStretch:
		return "stretch"
	case ScaleModeFit:
		return "fit"
	case ScaleModeFill:
		return "fill"
	default:
		return "unknown"
	}
}

// ParseScaleMode resolves a configuration name.
func ParseScaleMode(s string) (ScaleMode, error) {
	switch s {
	case "", "stretch":
		return ScaleModeStretch, nil
	case "fit":
		return ScaleModeFit, nil
	case "fill":
		return ScaleModeFill, nil
	default:
		return ScaleModeStretch, fmt.Errorf("unknown scale mode %q", s)
	}
}

// Scaler resizes raw images from one geometry to another.
type Scaler struct {
	src, dst Geometry
	crop     Crop
	mode     ScaleMode
}

// NewScaler creates a scaler. A non-empty crop selects the source region;
// otherwise the region follows mode.
func NewScaler(src, dst Geometry, crop Crop, mode ScaleMode) *Scaler {
	return &Scaler{src: src, dst: dst, crop: crop, mode: mode}
}

// Scale resizes one full source image.
func (s *Scaler) Scale(data []byte) ([]byte, error) {
	x, y, w, h := s.sourceRegion()
	if w <= 0 || h <= 0 || s.dst.Width <= 0 || s.dst.Height <= 0 {
		return nil, fmt.Errorf("omx: scale %s -> %s: empty region", s.src, s.dst)
	}

	if s.src.Color == s.dst.Color && (s.src.Color == ColorYUV420PackedPlanar || s.src.Color == ColorYUV420Planar) {
		if len(data) < s.src.FrameSize() {
			return nil, fmt.Errorf("omx: scale: short frame %d < %d", len(data), s.src.FrameSize())
		}
		out := make([]byte, s.dst.FrameSize())
		so, ss := s.src.planes()
		do, ds := s.dst.planes()

		// Y plane
		scalePlane(data[so[0]:], ss[0], 1, x, y, w, h,
			out[do[0]:], ds[0], s.dst.Width, s.dst.Height)

		// U and V planes (half resolution)
		for i := 1; i < 3; i++ {
			scalePlane(data[so[i]:], ss[i], 1, x/2, y/2, (w+1)/2, (h+1)/2,
				out[do[i]:], ds[i], (s.dst.Width+1)/2, (s.dst.Height+1)/2)
		}
		return out, nil
	}

	img, err := DecodeRaw(data, s.src)
	if err != nil {
		return nil, err
	}
	src := toNRGBA(img)
	dst := image.NewNRGBA(image.Rect(0, 0, s.dst.Width, s.dst.Height))
	scalePlane(src.Pix, src.Stride, 4, x, y, w, h, dst.Pix, dst.Stride, s.dst.Width, s.dst.Height)
	return EncodeRaw(dst, s.dst)
}

// sourceRegion determines what region of the source to use.
func (s *Scaler) sourceRegion() (x, y, w, h int) {
	srcW, srcH := s.src.Width, s.src.Height
	if !s.crop.Empty() {
		x, y = int(s.crop.Left), int(s.crop.Top)
		w, h = int(s.crop.Width), int(s.crop.Height)
		if x < 0 {
			x = 0
		}
		if y < 0 {
			y = 0
		}
		w = min(w, srcW-x)
		h = min(h, srcH-y)
		return x, y, w, h
	}

	switch s.mode {
	case ScaleModeFill:
		// Crop source to match target aspect ratio
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(s.dst.Width) / float64(s.dst.Height)

		if srcAspect > dstAspect {
			// Source is wider, crop horizontally
			newW := int(float64(srcH) * dstAspect)
			return (srcW - newW) / 2, 0, newW, srcH
		} else if srcAspect < dstAspect {
			// Source is taller, crop vertically
			newH := int(float64(srcW) / dstAspect)
			return 0, (srcH - newH) / 2, srcW, newH
		}
		return 0, 0, srcW, srcH

	default:
		return 0, 0, srcW, srcH
	}
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// scalePlane scales interleaved samples of bpp bytes per pixel using
// bilinear interpolation.
func scalePlane(src []byte, srcStride, bpp, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	// Fixed-point scaling factors (16.16)
	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		srcYFrac := srcYFP & 0xFFFF

		y0 := (srcYFP >> 16) + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			srcXFrac := srcXFP & 0xFFFF

			x0 := (srcXFP >> 16) + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			for c := 0; c < bpp; c++ {
				p00 := int(src[y0*srcStride+x0*bpp+c])
				p10 := int(src[y0*srcStride+x1*bpp+c])
				p01 := int(src[y1*srcStride+x0*bpp+c])
				p11 := int(src[y1*srcStride+x1*bpp+c])

				top := (p00*(0x10000-srcXFrac) + p10*srcXFrac) >> 16
				bottom := (p01*(0x10000-srcXFrac) + p11*srcXFrac) >> 16

				dst[y*dstStride+x*bpp+c] = byte((top*(0x10000-srcYFrac) + bottom*srcYFrac) >> 16)
			}
		}
	}
}

// CalculateScaledSize returns the output dimensions when scaling with a given mode.
// This is useful for determining letterbox dimensions in ScaleModeFit.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	switch mode {
	case ScaleModeFit:
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(maxW) / float64(maxH)

		if srcAspect > dstAspect {
			// Source is wider, fit to width
			w = maxW
			h = int(float64(maxW) / srcAspect)
		} else {
			// Source is taller, fit to height
			h = maxH
			w = int(float64(maxH) * srcAspect)
		}
		// Ensure even dimensions for 4:2:0 chroma
		w = (w + 1) &^ 1
		h = (h + 1) &^ 1
		return w, h

	default:
		return maxW, maxH
	}
}
