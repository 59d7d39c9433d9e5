package omx

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
)

// ReaderSource feeds an io.Reader into an input port. It peeks one byte
// ahead so the last chunk can be flagged end-of-stream when it is submitted.
type ReaderSource struct {
	r      *bufio.Reader
	closer io.Closer
}

// NewReaderSource wraps r.
func NewReaderSource(r io.Reader) *ReaderSource {
	s := &ReaderSource{r: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenFileSource opens a file as a source.
func OpenFileSource(path string) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return NewReaderSource(f), nil
}

func (s *ReaderSource) Read(p []byte) (int, error) { return s.r.Read(p) }

// Exhausted reports whether the underlying reader has no bytes left.
func (s *ReaderSource) Exhausted() (bool, error) {
	_, err := s.r.Peek(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// Close closes the underlying reader if it is a Closer.
func (s *ReaderSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternGradient     PatternType = iota // R = x, G = y, B = x+y, all mod 256
	PatternColorBars                       // Eight vertical bars
	PatternCheckerboard                    // Checkerboard pattern
	PatternSolidColor                      // Solid color
)

func (p PatternType) String() string {
	switch p {
	case PatternGradient:
		return "Gradient"
	case PatternColorBars:
		return "ColorBars"
	case PatternCheckerboard:
		return "Checkerboard"
	case PatternSolidColor:
		return "SolidColor"
	default:
		return "Unknown"
	}
}

// PatternConfig configures a pattern source.
type PatternConfig struct {
	Width   int         // Image width (default: 640)
	Height  int         // Image height (default: 480)
	Stride  int         // Line length in bytes, 0 for the minimum
	Color   ColorFormat // Raw layout (default: 24bitBGR888)
	Pattern PatternType

	// For SolidColor pattern
	SolidR, SolidG, SolidB uint8

	// For Checkerboard pattern
	CheckerSize int // Size of each checker square (default: 32)
}

// PatternSource is a raw image generated in memory.
type PatternSource struct {
	*ReaderSource
	geometry Geometry
	data     []byte
}

// NewPatternSource renders the pattern in the configured raw format.
func NewPatternSource(config PatternConfig) (*PatternSource, error) {
	if config.Width <= 0 {
		config.Width = 640
	}
	if config.Height <= 0 {
		config.Height = 480
	}
	if config.Color == ColorUnused {
		config.Color = Color24bitBGR888
	}
	if config.CheckerSize <= 0 {
		config.CheckerSize = 32
	}

	img := image.NewNRGBA(image.Rect(0, 0, config.Width, config.Height))
	switch config.Pattern {
	case PatternColorBars:
		generateColorBars(img)
	case PatternCheckerboard:
		generateCheckerboard(img, config.CheckerSize)
	case PatternSolidColor:
		generateSolid(img, color.NRGBA{config.SolidR, config.SolidG, config.SolidB, 0xff})
	default:
		generateGradient(img)
	}

	g := Geometry{Width: config.Width, Height: config.Height, Stride: config.Stride, Color: config.Color}
	data, err := EncodeRaw(img, g)
	if err != nil {
		return nil, err
	}
	return &PatternSource{
		ReaderSource: NewReaderSource(bytes.NewReader(data)),
		geometry:     g,
		data:         data,
	}, nil
}

// Geometry returns the layout of the generated image.
func (s *PatternSource) Geometry() Geometry { return s.geometry }

// Bytes returns the whole generated image.
func (s *PatternSource) Bytes() []byte { return s.data }

func generateGradient(img *image.NRGBA) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), uint8((x + y) % 256), 255})
		}
	}
}

func generateColorBars(img *image.NRGBA) {
	bars := [8]color.NRGBA{
		{255, 255, 255, 255}, // White
		{255, 255, 0, 255},   // Yellow
		{0, 255, 255, 255},   // Cyan
		{0, 255, 0, 255},     // Green
		{255, 0, 255, 255},   // Magenta
		{255, 0, 0, 255},     // Red
		{0, 0, 255, 255},     // Blue
		{0, 0, 0, 255},       // Black
	}
	b := img.Bounds()
	barWidth := max(b.Dx()/len(bars), 1)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			img.SetNRGBA(x, y, bars[min(x/barWidth, len(bars)-1)])
		}
	}
}

func generateCheckerboard(img *image.NRGBA, size int) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := uint8(16)
			if ((x/size)+(y/size))%2 == 0 {
				v = 235
			}
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}
}

func generateSolid(img *image.NRGBA, c color.NRGBA) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

// FileSink writes drained output to a file.
type FileSink struct {
	f *os.File
	w *bufio.Writer
}

// CreateFileSink creates or truncates path.
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	return &FileSink{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Write(p []byte) (int, error) { return s.w.Write(p) }

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// BufferSink collects drained output in memory.
type BufferSink struct {
	bytes.Buffer
	Frames int
}

// EndFrame counts completed images.
func (s *BufferSink) EndFrame() error {
	s.Frames++
	return nil
}

// Close does nothing.
func (s *BufferSink) Close() error { return nil }
