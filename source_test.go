package omx

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestReaderSource_Exhausted(t *testing.T) {
	src := NewReaderSource(bytes.NewReader([]byte("abcd")))
	if done, err := src.Exhausted(); err != nil || done {
		t.Fatalf("Exhausted before read = %v, %v", done, err)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(src, buf); err != nil {
		t.Fatal(err)
	}
	if done, _ := src.Exhausted(); done {
		t.Error("Exhausted with one byte left")
	}
	if _, err := io.ReadFull(src, buf[:1]); err != nil {
		t.Fatal(err)
	}
	if done, err := src.Exhausted(); err != nil || !done {
		t.Errorf("Exhausted after last byte = %v, %v", done, err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPatternSource(t *testing.T) {
	tests := []struct {
		name   string
		config PatternConfig
		want   Geometry
	}{
		{"defaults", PatternConfig{}, Geometry{Width: 640, Height: 480, Color: Color24bitBGR888}},
		{"yuv", PatternConfig{Width: 32, Height: 16, Color: ColorYUV420PackedPlanar, Pattern: PatternCheckerboard},
			Geometry{Width: 32, Height: 16, Color: ColorYUV420PackedPlanar}},
		{"padded", PatternConfig{Width: 10, Height: 4, Stride: 64, Color: Color32bitARGB8888, Pattern: PatternColorBars},
			Geometry{Width: 10, Height: 4, Stride: 64, Color: Color32bitARGB8888}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewPatternSource(tt.config)
			if err != nil {
				t.Fatalf("NewPatternSource: %v", err)
			}
			if src.Geometry() != tt.want {
				t.Errorf("Geometry = %s, want %s", src.Geometry(), tt.want)
			}
			data, err := io.ReadAll(src)
			if err != nil {
				t.Fatal(err)
			}
			if len(data) != tt.want.FrameSize() || !bytes.Equal(data, src.Bytes()) {
				t.Errorf("read %d bytes, want %d", len(data), tt.want.FrameSize())
			}
		})
	}
}

func TestPatternSource_Solid(t *testing.T) {
	src, err := NewPatternSource(PatternConfig{Width: 4, Height: 2, Color: Color24bitRGB888,
		Pattern: PatternSolidColor, SolidR: 10, SolidG: 20, SolidB: 30})
	if err != nil {
		t.Fatal(err)
	}
	img, err := DecodeRaw(src.Bytes(), src.Geometry())
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := img.At(3, 1).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
		t.Errorf("pixel = %d,%d,%d, want 10,20,30", r>>8, g>>8, b>>8)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.data")
	sink, err := CreateFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("file = %q", got)
	}

	src, err := OpenFileSource(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	back, _ := io.ReadAll(src)
	if string(back) != "hello world" {
		t.Errorf("source read %q", back)
	}
	if _, err := OpenFileSource(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("OpenFileSource on a missing file succeeded")
	}
}
