package omx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"auto", BackendAuto, false},
		{"native", BackendNative, false},
		{"SIM", BackendSim, false},
		{"", BackendAuto, true},
		{"mmal", BackendAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestBackend(t *testing.T) {
	if !BackendNative.Hardware() || BackendSim.Hardware() {
		t.Error("Hardware mismatch")
	}
	if !BackendSim.Available() || !BackendAuto.Available() {
		t.Error("sim and auto must always be available")
	}
	if s := Backend(42).String(); s != "unknown" {
		t.Errorf("String = %q", s)
	}
	if Backend(42).Available() {
		t.Error("unknown backend available")
	}
}

func TestNewCore(t *testing.T) {
	core, b, err := NewCore(BackendSim, "")
	if err != nil || b != BackendSim {
		t.Fatalf("NewCore(sim) = %v, %s, %v", core, b, err)
	}
	if _, ok := core.(*SimCore); !ok {
		t.Errorf("NewCore(sim) returned %T", core)
	}

	core, b, err = NewCore(BackendAuto, "")
	if err != nil {
		t.Fatalf("NewCore(auto): %v", err)
	}
	if b == BackendAuto {
		t.Error("auto was not resolved")
	}
	if b == BackendSim {
		if _, ok := core.(*SimCore); !ok {
			t.Errorf("auto fell back to %T", core)
		}
	}

	if _, _, err := NewCore(Backend(42), ""); err == nil {
		t.Error("NewCore with an unknown backend succeeded")
	}
}

func TestSimCore_Lifecycle(t *testing.T) {
	core := NewSimCore()
	if _, err := core.GetHandle(ResizeName, Callbacks{}); err == nil {
		t.Fatal("GetHandle before Init succeeded")
	}
	if err := core.Init(); err != nil {
		t.Fatal(err)
	}
	names, err := core.ComponentNames()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{ImageDecodeName, ImageEncodeName, ImageReadName, ResizeName}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("ComponentNames = %v, want %v", names, want)
	}

	h, err := core.GetHandle(ResizeName, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if err := core.Deinit(); err == nil {
		t.Error("Deinit with an open handle succeeded")
	}
	if err := core.FreeHandle(h); err != nil {
		t.Fatal(err)
	}
	if err := core.FreeHandle(h); err == nil {
		t.Error("second FreeHandle succeeded")
	}
	if err := core.Deinit(); err != nil {
		t.Errorf("Deinit: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("debug", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.WithField("component", ResizeName).Debug("opened")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if entry["component"] != ResizeName || entry["level"] != "debug" || entry["msg"] != "opened" {
		t.Errorf("entry = %v", entry)
	}

	if _, err := NewLogger("loud", "text", nil); err == nil {
		t.Error("bad level accepted")
	}
	if _, err := NewLogger("info", "xml", nil); err == nil {
		t.Error("bad format accepted")
	}
}
