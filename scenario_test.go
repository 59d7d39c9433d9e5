package omx

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecode_EmptyInput(t *testing.T) {
	core := newTestCore(t)
	sink := &BufferSink{}

	s := &Decode{Options: testOptions(core)}
	res, err := s.Run(testContext(t), NewReaderSource(bytes.NewReader(nil)), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BytesOut != 0 || sink.Len() != 0 {
		t.Errorf("BytesOut = %d, sink has %d bytes, want nothing", res.BytesOut, sink.Len())
	}
	if res.SettingsChanges != 0 {
		t.Errorf("SettingsChanges = %d, want 0", res.SettingsChanges)
	}
	if res.InputSubmissions != 1 || res.BytesIn != 0 {
		t.Errorf("InputSubmissions = %d BytesIn = %d, want one empty submission", res.InputSubmissions, res.BytesIn)
	}
	if !res.FinalFlags.Has(FlagEOS) {
		t.Errorf("FinalFlags = %s, want EOS", res.FinalFlags)
	}
}

func TestDecode_JPEG(t *testing.T) {
	tests := []struct {
		name  string
		color ColorFormat
		want  Geometry
	}{
		{"native", ColorUnused, Geometry{Width: 100, Height: 80, Color: ColorYUV420PackedPlanar}},
		{"abgr", Color32bitABGR8888, Geometry{Width: 100, Height: 80, Color: Color32bitABGR8888}},
		{"bgr", Color24bitBGR888, Geometry{Width: 100, Height: 80, Color: Color24bitBGR888}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newTestCore(t)
			data := jpegBytes(t, 100, 80)
			sink := &BufferSink{}

			s := &Decode{Options: testOptions(core), Color: tt.color}
			res, err := s.Run(testContext(t), NewReaderSource(bytes.NewReader(data)), sink)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.SettingsChanges != 1 {
				t.Errorf("SettingsChanges = %d, want 1", res.SettingsChanges)
			}
			if res.BytesIn != int64(len(data)) || res.InputSubmissions != 1 {
				t.Errorf("BytesIn = %d in %d submissions, want %d in 1", res.BytesIn, res.InputSubmissions, len(data))
			}
			if want := int64(tt.want.FrameSize()); res.BytesOut != want || int64(sink.Len()) != want {
				t.Errorf("BytesOut = %d, sink %d, want %d", res.BytesOut, sink.Len(), want)
			}
			if res.Output.Width != tt.want.Width || res.Output.Height != tt.want.Height || res.Output.Color != tt.want.Color {
				t.Errorf("Output = %s, want %s", res.Output, tt.want)
			}
			if !res.FinalFlags.Has(FlagEOS) || sink.Frames != 1 {
				t.Errorf("FinalFlags = %s, frames %d", res.FinalFlags, sink.Frames)
			}
			if res.Corrupt {
				t.Error("Corrupt set on a valid stream")
			}
		})
	}
}

func TestDecode_CorruptStream(t *testing.T) {
	core := newTestCore(t)
	sink := &BufferSink{}

	s := &Decode{Options: testOptions(core)}
	res, err := s.Run(testContext(t), NewReaderSource(bytes.NewReader([]byte("not an image at all"))), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Corrupt {
		t.Error("Corrupt not reported")
	}
	if res.BytesOut != 0 {
		t.Errorf("BytesOut = %d, want 0", res.BytesOut)
	}
}

func TestDecode_UnsupportedCoding(t *testing.T) {
	core := newTestCore(t)

	s := &Decode{Options: testOptions(core), Coding: CodingTIFF}
	_, err := s.Run(testContext(t), NewReaderSource(bytes.NewReader(jpegBytes(t, 8, 8))), &BufferSink{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Run = %v, want ErrUnsupported", err)
	}
}

func TestDecodeResize(t *testing.T) {
	core := newRecordingCore(t)
	sink := &BufferSink{}

	s := &DecodeResize{Options: testOptions(core), Output: Geometry{Width: 50, Height: 40}}
	res, err := s.Run(testContext(t), NewReaderSource(bytes.NewReader(jpegBytes(t, 100, 80))), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SettingsChanges != 1 {
		t.Errorf("SettingsChanges = %d, want 1", res.SettingsChanges)
	}
	if res.BytesOut != 50*40*4 {
		t.Errorf("BytesOut = %d, want %d", res.BytesOut, 50*40*4)
	}
	if res.Output.Width != 50 || res.Output.Height != 40 || res.Output.Color != Color32bitABGR8888 {
		t.Errorf("Output = %s", res.Output)
	}
	if sink.Frames != 1 || !res.FinalFlags.Has(FlagEOS) {
		t.Errorf("frames %d, FinalFlags %s", sink.Frames, res.FinalFlags)
	}

	// the decoder reports the new geometry on the resizer input, which is
	// then enabled at the decoded size
	var settings []string
	enabledAt := -1
	settingsAt := -1
	for i, op := range core.Ops() {
		switch {
		case strings.HasPrefix(op, "settings "):
			settings = append(settings, op)
			settingsAt = i
		case strings.HasPrefix(op, "enable "+ResizeName+" 60 "):
			if op != "enable "+ResizeName+" 60 100x80" {
				t.Errorf("resize input enabled as %q, want 100x80", op)
			}
			enabledAt = i
		}
	}
	if len(settings) != 1 || settings[0] != "settings "+ResizeName+" 60" {
		t.Errorf("settings events = %q, want one on %s port 60", settings, ResizeName)
	}
	if enabledAt < 0 || enabledAt < settingsAt {
		t.Errorf("resize input enabled at op %d, settings changed at op %d", enabledAt, settingsAt)
	}
}

func TestDecodeResize_EmptyInput(t *testing.T) {
	core := newTestCore(t)

	s := &DecodeResize{Options: testOptions(core), Output: Geometry{Width: 50, Height: 40}}
	res, err := s.Run(testContext(t), NewReaderSource(bytes.NewReader(nil)), &BufferSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BytesOut != 0 || res.SettingsChanges != 0 || !res.FinalFlags.Has(FlagEOS) {
		t.Errorf("result = %+v", res)
	}
}

func TestDecodeResize_NeedsSize(t *testing.T) {
	s := &DecodeResize{Options: testOptions(NewSimCore())}
	if _, err := s.Run(context.Background(), NewReaderSource(bytes.NewReader(nil)), &BufferSink{}); err == nil {
		t.Error("Run without an output size succeeded")
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	core := newTestCore(t)
	ctx := testContext(t)
	in := Geometry{Width: 64, Height: 48, Color: Color24bitBGR888}

	src, err := NewPatternSource(PatternConfig{Width: in.Width, Height: in.Height, Color: in.Color, Pattern: PatternColorBars})
	if err != nil {
		t.Fatal(err)
	}
	encoded := &BufferSink{}
	enc := &Encode{Options: testOptions(core), Input: in, Quality: 90}
	res, err := enc.Run(ctx, src, encoded)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// three 16-line slices
	if res.InputSubmissions != 3 || res.BytesIn != int64(in.FrameSize()) {
		t.Errorf("InputSubmissions = %d BytesIn = %d", res.InputSubmissions, res.BytesIn)
	}
	if !res.FinalFlags.Has(FlagEndOfFrame) || encoded.Frames != 1 {
		t.Errorf("FinalFlags = %s frames %d", res.FinalFlags, encoded.Frames)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(encoded.Bytes()))
	if err != nil {
		t.Fatalf("encoded output is not a JPEG: %v", err)
	}
	if cfg.Width != in.Width || cfg.Height != in.Height {
		t.Errorf("encoded size = %dx%d", cfg.Width, cfg.Height)
	}

	decoded := &BufferSink{}
	dec := &Decode{Options: testOptions(core), Color: Color32bitABGR8888}
	res, err = dec.Run(ctx, NewReaderSource(bytes.NewReader(encoded.Bytes())), decoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if want := in.Width * in.Height * 4; decoded.Len() != want || res.Output.Channels() != 4 {
		t.Errorf("decoded %d bytes with %d channels, want %d", decoded.Len(), res.Output.Channels(), want)
	}
}

func TestEncode_SingleBuffer(t *testing.T) {
	core := newTestCore(t)
	// one slice holds the whole image
	in := Geometry{Width: 64, Height: DefaultSliceHeight, Color: Color24bitBGR888}
	src, err := NewPatternSource(PatternConfig{Width: in.Width, Height: in.Height, Color: in.Color})
	if err != nil {
		t.Fatal(err)
	}

	res, err := (&Encode{Options: testOptions(core), Input: in}).Run(testContext(t), src, &BufferSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.InputSubmissions != 1 || res.BytesIn != int64(in.FrameSize()) {
		t.Errorf("InputSubmissions = %d BytesIn = %d, want 1 and %d", res.InputSubmissions, res.BytesIn, in.FrameSize())
	}
}

func TestResize(t *testing.T) {
	in := Geometry{Width: 64, Height: 48, Color: Color24bitBGR888}
	tests := []struct {
		name string
		out  Geometry
		mode ScaleMode
		want Geometry
	}{
		{"identity", Geometry{}, ScaleModeStretch, in},
		{"stretch", Geometry{Width: 32, Height: 32}, ScaleModeStretch, Geometry{Width: 32, Height: 32, Color: in.Color}},
		{"fit", Geometry{Width: 32, Height: 32}, ScaleModeFit, Geometry{Width: 32, Height: 24, Color: in.Color}},
		{"fill", Geometry{Width: 32, Height: 32}, ScaleModeFill, Geometry{Width: 32, Height: 32, Color: in.Color}},
		{"abgr", Geometry{Width: 32, Height: 24, Color: Color32bitABGR8888}, ScaleModeStretch,
			Geometry{Width: 32, Height: 24, Color: Color32bitABGR8888}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newTestCore(t)
			frame := gradientFrame(t, in)
			sink := &BufferSink{}

			s := &Resize{Options: testOptions(core), Input: in, Output: tt.out, Mode: tt.mode}
			res, err := s.Run(testContext(t), NewReaderSource(bytes.NewReader(frame)), sink)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if want := tt.want.FrameSize(); sink.Len() != want {
				t.Errorf("output %d bytes, want %d", sink.Len(), want)
			}
			if res.Output.Width != tt.want.Width || res.Output.Height != tt.want.Height {
				t.Errorf("Output = %s, want %s", res.Output, tt.want)
			}
			if sink.Frames != 1 {
				t.Errorf("frames = %d, want 1", sink.Frames)
			}
			if tt.name == "identity" && !bytes.Equal(sink.Bytes(), frame) {
				t.Error("identity resize changed the image")
			}
		})
	}
}

func TestResize_UnsupportedFormat(t *testing.T) {
	core := newRecordingCore(t)
	in := Geometry{Width: 64, Height: 48, Color: Color32bitBGRA8888}

	s := &Resize{Options: testOptions(core), Input: in}
	_, err := s.Run(testContext(t), NewReaderSource(bytes.NewReader(make([]byte, in.FrameSize()))), &BufferSink{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Run = %v, want ErrUnsupported", err)
	}
	if n := core.Allocs(); n != 0 {
		t.Errorf("%d buffers allocated before the format was rejected", n)
	}
}

func TestRead(t *testing.T) {
	core := newTestCore(t)
	data := jpegBytes(t, 40, 30)
	path := filepath.Join(t.TempDir(), "in.jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &BufferSink{}
	res, err := (&Read{Options: testOptions(core), URI: path}).Run(testContext(t), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), data) {
		t.Errorf("read %d bytes, want the %d byte file", sink.Len(), len(data))
	}
	if !res.FinalFlags.Has(FlagEOS) {
		t.Errorf("FinalFlags = %s", res.FinalFlags)
	}
}

func TestRead_MissingFile(t *testing.T) {
	core := newTestCore(t)
	path := filepath.Join(t.TempDir(), "missing.jpg")
	if _, err := (&Read{Options: testOptions(core), URI: path}).Run(testContext(t), &BufferSink{}); err == nil {
		t.Error("Run on a missing file succeeded")
	}
}

func TestPipeline_CloseTwice(t *testing.T) {
	core := newTestCore(t)
	ctx := testContext(t)
	p, err := NewPipeline(PipelineConfig{Core: core, Timeouts: testTimeouts(), Log: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID() == "" {
		t.Error("pipeline has no id")
	}
	dec, err := p.Open(ctx, ImageDecodeName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Allocate(ctx, dec.InPort); err != nil {
		t.Fatal(err)
	}

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.State() != PipelineStateStopped {
		t.Errorf("State = %s", p.State())
	}
	if err := p.Close(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if _, err := p.Open(ctx, ResizeName); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
	if st := dec.Stats(dec.InPort); st.Outstanding() != 0 {
		t.Errorf("%d buffers outstanding", st.Outstanding())
	}
}

func TestPipeline_InjectedError(t *testing.T) {
	core := newTestCore(t)
	ctx := testContext(t)
	p := newTestPipeline(t, core)

	dec, err := p.Open(ctx, ImageDecodeName)
	if err != nil {
		t.Fatal(err)
	}
	if err := dec.DisableAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := dec.Transition(ctx, StateIdle); err != nil {
		t.Fatal(err)
	}
	if err := core.InjectError(dec.Handle(), ErrorHardware, 0); err != nil {
		t.Fatal(err)
	}

	pump := p.NewPump()
	pump.DrainOutput(dec, dec.OutPort, &BufferSink{}, false)
	_, err = p.Run(ctx, pump)
	var ue *UnexpectedPlatformError
	if !errors.As(err, &ue) {
		t.Fatalf("Run = %v, want UnexpectedPlatformError", err)
	}
	if ue.Code != ErrorHardware || ue.Component != ImageDecodeName {
		t.Errorf("error = %+v", ue)
	}
	if err := p.Close(ctx); err != nil {
		t.Errorf("Close after fatal error: %v", err)
	}
}

func TestPipeline_Stall(t *testing.T) {
	core := newTestCore(t)
	ctx := testContext(t)
	to := testTimeouts()
	to.Stall = 50 * time.Millisecond
	p, err := NewPipeline(PipelineConfig{Core: core, Timeouts: to, Log: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	rsz, err := p.Open(ctx, ResizeName)
	if err != nil {
		t.Fatal(err)
	}
	pump := p.NewPump()
	pump.DrainOutput(rsz, rsz.OutPort, &BufferSink{}, true)
	if _, err := p.Run(ctx, pump); !errors.Is(err, ErrStalled) {
		t.Errorf("Run = %v, want ErrStalled", err)
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	core := newTestCore(t)
	p := newTestPipeline(t, core)
	ctx, cancel := context.WithCancel(context.Background())

	rsz, err := p.Open(ctx, ResizeName)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	pump := p.NewPump()
	pump.DrainOutput(rsz, rsz.OutPort, &BufferSink{}, true)
	if _, err := p.Run(ctx, pump); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestPump_NoOutput(t *testing.T) {
	pump := NewPump(newTestDispatcher(), testTimeouts(), nil)
	if _, err := pump.Run(context.Background()); err == nil {
		t.Error("Run without an output succeeded")
	}
}
