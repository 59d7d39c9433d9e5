package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/thesyncim/omx"
)

func TestLogResult(t *testing.T) {
	tests := []struct {
		name    string
		corrupt bool
		level   logrus.Level
		message string
	}{
		{"complete", false, logrus.InfoLevel, "done"},
		{"corrupt", true, logrus.WarnLevel, "output incomplete: stream corrupt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, hook := test.NewNullLogger()
			logResult(logrus.NewEntry(log), &omx.Result{BytesOut: 10, Corrupt: tt.corrupt})

			e := hook.LastEntry()
			if len(hook.AllEntries()) != 1 || e == nil {
				t.Fatalf("got %d entries, want 1", len(hook.AllEntries()))
			}
			if e.Level != tt.level || e.Message != tt.message {
				t.Errorf("entry = %s %q, want %s %q", e.Level, e.Message, tt.level, tt.message)
			}
			if e.Data["corrupt"] != tt.corrupt || e.Data["bytes_out"] != int64(10) {
				t.Errorf("fields = %v", e.Data)
			}
		})
	}
}
