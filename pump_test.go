package omx

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestPump_SettingsChangedOnce(t *testing.T) {
	core := newTestCore(t)
	ctx := testContext(t)
	log, hook := test.NewNullLogger()
	p, err := NewPipeline(PipelineConfig{Core: core, Timeouts: testTimeouts(), Log: log})
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
	calls := 0
	pump.OnSettingsChanged(rsz, rsz.OutPort, func(ctx context.Context, ev Event) error {
		calls++
		return nil
	})

	d := p.Dispatcher()
	for i := 0; i < 3; i++ {
		d.Post(Event{Kind: EventPortSettingsChanged, Component: rsz.ID(), Port: rsz.OutPort})
	}
	d.Post(Event{Kind: EventBufferFlag, Component: rsz.ID(), Port: rsz.OutPort, Flags: FlagEOS})

	res, err := p.Run(ctx, pump)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 || res.SettingsChanges != 1 {
		t.Errorf("handler ran %d times, SettingsChanges = %d, want 1 and 1", calls, res.SettingsChanges)
	}
	if !res.FinalFlags.Has(FlagEOS) || pump.State() != Done {
		t.Errorf("FinalFlags %s, state %s", res.FinalFlags, pump.State())
	}

	ignored := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "settings changed again, ignored" {
			ignored++
		}
	}
	if ignored != 2 {
		t.Errorf("logged %d ignored repeats, want 2", ignored)
	}
}
