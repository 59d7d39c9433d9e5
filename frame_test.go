package omx

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestColorFormat_String(t *testing.T) {
	tests := []struct {
		format ColorFormat
		want   string
	}{
		{Color24bitBGR888, "24bitBGR888"},
		{Color32bitABGR8888, "32bitABGR8888"},
		{ColorYUV420PackedPlanar, "YUV420PackedPlanar"},
		{Color16bitRGB565, "16bitRGB565"},
		{ColorFormat(0x7E000000), "ColorFormat(0x7e000000)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("ColorFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseColorFormat(t *testing.T) {
	for _, c := range []ColorFormat{Color24bitBGR888, Color32bitABGR8888, ColorYUV420PackedPlanar, ColorL8} {
		got, err := ParseColorFormat(c.String())
		if err != nil {
			t.Fatalf("ParseColorFormat(%q): %v", c, err)
		}
		if got != c {
			t.Errorf("ParseColorFormat(%q) = %v", c, got)
		}
	}
	if _, err := ParseColorFormat("bogus"); err == nil {
		t.Error("Expected error for unknown color format")
	}
}

func TestColorFormat_FrameSize(t *testing.T) {
	tests := []struct {
		name          string
		color         ColorFormat
		width, height int
		stride        int
		want          int
	}{
		{"BGR888", Color24bitBGR888, 640, 480, 0, 640 * 480 * 3},
		{"ABGR padded stride", Color32bitABGR8888, 100, 10, 512, 5120},
		{"RGB565", Color16bitRGB565, 320, 240, 0, 320 * 240 * 2},
		{"YUV420 even", ColorYUV420PackedPlanar, 640, 480, 0, 460800},
		{"YUV420 odd", ColorYUV420PackedPlanar, 101, 51, 0, 102*51 + 2*51*26},
		{"L8", ColorL8, 7, 3, 0, 21},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.color.FrameSize(tt.width, tt.height, tt.stride); got != tt.want {
				t.Errorf("FrameSize = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGeometry_SliceSize(t *testing.T) {
	g := Geometry{Width: 64, Height: 48, SliceHeight: 16, Color: Color24bitBGR888}
	if got, want := g.SliceSize(), 64*16*3; got != want {
		t.Errorf("SliceSize = %d, want %d", got, want)
	}

	g.SliceHeight = 0
	if got := g.SliceSize(); got != g.FrameSize() {
		t.Errorf("SliceSize unsliced = %d, want frame size %d", got, g.FrameSize())
	}

	g.SliceHeight = 100
	if got := g.SliceSize(); got != g.FrameSize() {
		t.Errorf("SliceSize taller than frame = %d, want %d", got, g.FrameSize())
	}
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 255 / w), uint8(y * 255 / h), 0x40, 0xff})
		}
	}
	return img
}

func TestRaw_RoundTripPacked(t *testing.T) {
	img := testImage(33, 17)
	for _, c := range []ColorFormat{Color24bitBGR888, Color24bitRGB888, Color32bitABGR8888, Color32bitARGB8888} {
		t.Run(c.String(), func(t *testing.T) {
			g := Geometry{Width: 33, Height: 17, Color: c}
			data, err := EncodeRaw(img, g)
			if err != nil {
				t.Fatalf("EncodeRaw: %v", err)
			}
			if len(data) != g.FrameSize() {
				t.Fatalf("EncodeRaw produced %d bytes, want %d", len(data), g.FrameSize())
			}
			back, err := DecodeRaw(data, g)
			if err != nil {
				t.Fatalf("DecodeRaw: %v", err)
			}
			again, err := EncodeRaw(back, g)
			if err != nil {
				t.Fatalf("EncodeRaw: %v", err)
			}
			if !bytes.Equal(data, again) {
				t.Error("Raw round trip changed pixel data")
			}
		})
	}
}

func TestRaw_BGR888ByteOrder(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 0xff})

	data, err := EncodeRaw(img, Geometry{Width: 1, Height: 1, Color: Color24bitBGR888})
	if err != nil {
		t.Fatalf("EncodeRaw: %v", err)
	}
	// BGR from the most significant byte: R comes first in memory
	if !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("BGR888 bytes = %v, want [1 2 3]", data)
	}
}

func TestRaw_YUV420(t *testing.T) {
	g := Geometry{Width: 16, Height: 8, Color: ColorYUV420PackedPlanar}
	data, err := EncodeRaw(testImage(16, 8), g)
	if err != nil {
		t.Fatalf("EncodeRaw: %v", err)
	}
	img, err := DecodeRaw(data, g)
	if err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	if _, ok := img.(*image.YCbCr); !ok {
		t.Errorf("DecodeRaw returned %T, want *image.YCbCr", img)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Errorf("Bounds = %v", img.Bounds())
	}
}

func TestRaw_ShortData(t *testing.T) {
	g := Geometry{Width: 4, Height: 4, Color: Color24bitBGR888}
	if _, err := DecodeRaw(make([]byte, 10), g); err == nil {
		t.Error("Expected error for short raw data")
	}
	if _, err := DecodeRaw(nil, Geometry{Color: Color24bitBGR888}); err == nil {
		t.Error("Expected error for empty geometry")
	}
}
