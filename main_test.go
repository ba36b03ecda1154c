package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"dmv-notifier/pkg/notifier"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantErr bool
		debug   bool
	}{
		{level: "info", format: "json"},
		{level: "debug", format: "text", debug: true},
		{level: "WARN", format: ""},
		{level: "verbose", format: "json", wantErr: true},
		{level: "info", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&buf, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			logger.Debug("Verbose line")
			if got := strings.Contains(buf.String(), "Verbose line"); got != tt.debug {
				t.Errorf("debug output = %v, want %v", got, tt.debug)
			}
		})
	}
}

func TestRenderSnapshot(t *testing.T) {
	checked := time.Date(2025, 6, 1, 16, 30, 0, 0, time.UTC)
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	renderSnapshot(&buf, []notifier.SnapshotEntry{
		{CategoryKey: "fees", Location: "Cary", HasSlots: 3, LastChecked: checked},
		{CategoryKey: "permits", Location: "Cary", HasSlots: 2, LastChecked: checked},
	}, loc)

	out := buf.String()
	for _, want := range []string{"Cary", "fees", "2025-06-01 12:30", "TOTAL", "5"} {
		if !strings.Contains(strings.ToUpper(out), strings.ToUpper(want)) {
			t.Errorf("snapshot table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSubscriptions(t *testing.T) {
	sent := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderSubscriptions(&buf, []*notifier.Subscription{
		{UserID: "u1", Categories: []string{"fees", "permits"}, Locations: []string{"Cary"}, CreatedAt: sent},
		{UserID: "u2", Categories: []string{"fees"}, Locations: []string{"Apex"}, CreatedAt: sent, LastNotificationSent: &sent},
	}, time.UTC)

	out := buf.String()
	for _, want := range []string{"u1", "fees, permits", "never", "u2", "2025-06-02 09:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("subscriptions table missing %q:\n%s", want, out)
		}
	}
}
