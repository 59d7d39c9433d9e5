package omx

import (
	"bytes"
	"context"
	"image/jpeg"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testTimeouts() Timeouts {
	return Timeouts{PollInterval: 2 * time.Millisecond, PortAttempts: 500, StateAttempts: 500, Stall: 5 * time.Second}
}

// newTestCore returns an initialized simulated core that must have no open
// handles when the test ends.
func newTestCore(t *testing.T) *SimCore {
	t.Helper()
	core := NewSimCore()
	if err := core.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		if n := core.OpenHandles(); n != 0 {
			t.Errorf("%d handles left open", n)
		}
		if err := core.Deinit(); err != nil {
			t.Errorf("Deinit: %v", err)
		}
	})
	return core
}

func testOptions(core Core) Options {
	return Options{Core: core, Timeouts: testTimeouts(), Log: testLogger()}
}

func newTestPipeline(t *testing.T, core Core) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineConfig{Core: core, Timeouts: testTimeouts(), Log: testLogger()})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func jpegBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

// recordingCore wraps a SimCore and records what the orchestrator asks of
// its components: settings-changed events, the port definition at every
// PortEnable and the number of buffer allocations. With dropEnable set,
// PortEnable commands are accepted but never carried out.
type recordingCore struct {
	*SimCore
	dropEnable bool

	mu     sync.Mutex
	ops    []string
	allocs int
}

func newRecordingCore(t *testing.T) *recordingCore {
	return &recordingCore{SimCore: newTestCore(t)}
}

func (rc *recordingCore) record(format string, args ...any) {
	rc.mu.Lock()
	rc.ops = append(rc.ops, fmt.Sprintf(format, args...))
	rc.mu.Unlock()
}

// Ops returns the recorded operations in order, e.g.
// "settings OMX.broadcom.resize 60" or "enable OMX.broadcom.resize 60 100x80".
func (rc *recordingCore) Ops() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.ops...)
}

func (rc *recordingCore) Allocs() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.allocs
}

func (rc *recordingCore) GetHandle(name string, cb Callbacks) (Handle, error) {
	event := cb.Event
	cb.Event = func(ev EventType, data1, data2 uint32) {
		if ev == EventTypePortSettingsChanged {
			rc.record("settings %s %d", name, data1)
		}
		event(ev, data1, data2)
	}
	h, err := rc.SimCore.GetHandle(name, cb)
	if err != nil {
		return nil, err
	}
	return &recordingHandle{Handle: h, core: rc}, nil
}

func (rc *recordingCore) FreeHandle(h Handle) error {
	return rc.SimCore.FreeHandle(unwrapHandle(h))
}

func (rc *recordingCore) SetupTunnel(out Handle, outPort uint32, in Handle, inPort uint32) error {
	return rc.SimCore.SetupTunnel(unwrapHandle(out), outPort, unwrapHandle(in), inPort)
}

func unwrapHandle(h Handle) Handle {
	if rh, ok := h.(*recordingHandle); ok {
		return rh.Handle
	}
	return h
}

type recordingHandle struct {
	Handle
	core *recordingCore
}

func (h *recordingHandle) SendCommand(cmd Command, param uint32) error {
	if cmd == CommandPortEnable {
		def, err := h.GetPortDefinition(param)
		if err != nil {
			return err
		}
		h.core.record("enable %s %d %dx%d", h.Name(), param, def.Width, def.Height)
		if h.core.dropEnable {
			return nil
		}
	}
	return h.Handle.SendCommand(cmd, param)
}

func (h *recordingHandle) AllocateBuffer(port uint32, size int) (*Buffer, error) {
	h.core.mu.Lock()
	h.core.allocs++
	h.core.mu.Unlock()
	return h.Handle.AllocateBuffer(port, size)
}
