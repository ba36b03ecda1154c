package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dmv-notifier/pkg/notifier"
)

type fakeReader struct {
	entries []notifier.SnapshotEntry
	err     error
}

func (f *fakeReader) ReadSnapshot(context.Context) ([]notifier.SnapshotEntry, error) {
	return f.entries, f.err
}

func (f *fakeReader) ReadLocationsWithSlots(context.Context) ([]notifier.SnapshotEntry, error) {
	var out []notifier.SnapshotEntry
	for _, e := range f.entries {
		if e.HasSlots > 0 {
			out = append(out, e)
		}
	}
	return out, f.err
}

func newTestServer(t *testing.T, reader SnapshotReader) *httptest.Server {
	t.Helper()
	s := New(&Config{
		Store:      reader,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Categories: []notifier.Category{{Name: "Fees", Key: "fees"}},
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeReader{})
	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", got["status"])
	}
}

func TestAvailability(t *testing.T) {
	checked := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestServer(t, &fakeReader{entries: []notifier.SnapshotEntry{
		{CategoryKey: "fees", Location: "Cary", HasSlots: 3, LastChecked: checked},
		{CategoryKey: "permits", Location: "Cary", HasSlots: 0, LastChecked: checked},
	}})

	tests := []struct {
		path string
		want int
	}{
		{"/availability", 2},
		{"/availability/with-slots", 1},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, ts.URL+tt.path)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var items []availabilityItem
			if tt.path == "/availability" {
				if err := json.Unmarshal(body, &items); err != nil {
					t.Fatalf("decode: %v", err)
				}
			} else {
				var wrapped struct {
					Count     int                `json:"count"`
					Locations []availabilityItem `json:"locations"`
				}
				if err := json.Unmarshal(body, &wrapped); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if wrapped.Count != len(wrapped.Locations) {
					t.Errorf("count = %d, locations = %d", wrapped.Count, len(wrapped.Locations))
				}
				items = wrapped.Locations
			}
			if len(items) != tt.want {
				t.Fatalf("got %d items, want %d", len(items), tt.want)
			}
			if items[0].Category != "fees" || items[0].SlotsCount != 3 || items[0].LastChecked != "2025-06-01T12:00:00Z" {
				t.Errorf("first item = %+v", items[0])
			}
		})
	}
}

func TestAvailabilityStoreError(t *testing.T) {
	ts := newTestServer(t, &fakeReader{err: errors.New("database is locked")})
	resp, _ := get(t, ts.URL+"/availability")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCategoriesAndMetrics(t *testing.T) {
	ts := newTestServer(t, &fakeReader{})

	resp, body := get(t, ts.URL+"/categories")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"key":"fees"`) {
		t.Errorf("categories: status %d body %s", resp.StatusCode, body)
	}

	resp, _ = get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}

	resp, err := http.Post(ts.URL+"/availability", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}
