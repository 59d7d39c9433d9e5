package omx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(logrus.NewEntry(testLogger()))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name         string
		ev           EventType
		data1, data2 uint32
		want         Event
	}{
		{"state set", EventTypeCmdComplete, uint32(CommandStateSet), uint32(StateIdle),
			Event{Kind: EventCommandComplete, Command: CommandStateSet, State: StateIdle}},
		{"port disable", EventTypeCmdComplete, uint32(CommandPortDisable), 321,
			Event{Kind: EventCommandComplete, Command: CommandPortDisable, Port: 321}},
		{"error", EventTypeError, uint32(ErrorStreamCorrupt), 320,
			Event{Kind: EventError, Code: ErrorStreamCorrupt, Port: 320}},
		{"settings", EventTypePortSettingsChanged, 321, 0,
			Event{Kind: EventPortSettingsChanged, Port: 321}},
		{"eos", EventTypeBufferFlag, 61, uint32(FlagEOS),
			Event{Kind: EventBufferFlag, Port: 61, Flags: FlagEOS}},
		{"other", EventTypeMark, 7, 0, Event{Kind: EventOther, Port: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(3, tt.ev, tt.data1, tt.data2)
			tt.want.Component, tt.want.Raw, tt.want.Data1, tt.want.Data2 = 3, tt.ev, tt.data1, tt.data2
			if got != tt.want {
				t.Errorf("translate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDispatcher_Order(t *testing.T) {
	d := newTestDispatcher()
	cb := d.Callbacks(1, "test", nil)

	cb.Event(EventTypePortSettingsChanged, 321, 0)
	cb.Event(EventTypeCmdComplete, uint32(CommandPortEnable), 321)
	cb.Event(EventTypeBufferFlag, 321, uint32(FlagEOS))

	if d.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2 (command completions are not queued)", d.Pending())
	}
	ctx := context.Background()
	first, err := d.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, err := d.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.Kind != EventPortSettingsChanged || second.Kind != EventBufferFlag {
		t.Errorf("Order = %s, %s", first.Kind, second.Kind)
	}
	if _, ok := d.TryNext(); ok {
		t.Error("Queue should be empty")
	}
}

func TestDispatcher_BufferReturnReleasesOwnership(t *testing.T) {
	d := newTestDispatcher()
	returned := 0
	cb := d.Callbacks(1, "test", func(*Buffer) { returned++ })

	b := NewBuffer(320, make([]byte, 16))
	if err := b.claim(); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := b.Write([]byte("x")); !errors.Is(err, ErrBufferInFlight) {
		t.Errorf("Write on platform-owned buffer: %v, want ErrBufferInFlight", err)
	}

	cb.EmptyBufferDone(b)
	if b.Owner() != OwnerApp {
		t.Errorf("Owner = %s, want app", b.Owner())
	}
	if returned != 1 {
		t.Errorf("onReturn called %d times", returned)
	}
	ev, ok := d.TryNext()
	if !ok || ev.Kind != EventInputReturned || ev.Buffer != b || ev.Port != 320 {
		t.Errorf("Event = %+v", ev)
	}
}

func TestDispatcher_FatalError(t *testing.T) {
	d := newTestDispatcher()
	cb := d.Callbacks(2, "OMX.broadcom.resize", nil)
	cb.Event(EventTypeError, uint32(ErrorHardware), 61)

	_, err := d.Next(context.Background())
	var pe *UnexpectedPlatformError
	if !errors.As(err, &pe) {
		t.Fatalf("Next error = %v, want UnexpectedPlatformError", err)
	}
	if pe.Code != ErrorHardware || pe.Component != "OMX.broadcom.resize" {
		t.Errorf("Error = %+v", pe)
	}
	if d.Err() == nil {
		t.Error("Err should latch the fatal error")
	}

	d.Drain()
	if err := d.waitErr(); err != nil {
		t.Errorf("waitErr after Drain = %v", err)
	}
}

func TestDispatcher_StreamCorruptTolerated(t *testing.T) {
	d := newTestDispatcher()
	cb := d.Callbacks(1, "OMX.broadcom.image_decode", nil)
	cb.Event(EventTypeError, uint32(ErrorStreamCorrupt), 320)

	ev, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventError || ev.Code != ErrorStreamCorrupt {
		t.Errorf("Event = %s", ev)
	}
	if d.Err() != nil {
		t.Errorf("StreamCorrupt latched %v", d.Err())
	}
	if c := d.Corrupt(); len(c) != 1 || c[0].Port != 320 {
		t.Errorf("Corrupt = %v", c)
	}
}

func TestDispatcher_ChangedWakes(t *testing.T) {
	d := newTestDispatcher()
	changed := d.Changed()
	cb := d.Callbacks(1, "test", nil)

	go cb.Event(EventTypeCmdComplete, uint32(CommandStateSet), uint32(StateIdle))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("Changed not closed by command completion")
	}
}

func TestDispatcher_NextCancelled(t *testing.T) {
	d := newTestDispatcher()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := d.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next = %v, want deadline exceeded", err)
	}
}

func TestDispatcher_DrainDiscards(t *testing.T) {
	d := newTestDispatcher()
	cb := d.Callbacks(1, "test", nil)
	cb.Event(EventTypeBufferFlag, 1, uint32(FlagEOS))
	d.Drain()
	cb.Event(EventTypeBufferFlag, 1, uint32(FlagEOS))
	if d.Pending() != 0 {
		t.Errorf("Pending after Drain = %d", d.Pending())
	}
}
