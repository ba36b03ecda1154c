package screenshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dmv-notifier/browser"
	"dmv-notifier/browser/browsertest"
	"dmv-notifier/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPage(t *testing.T) (*browsertest.Site, browser.Page) {
	t.Helper()
	catalog, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	site := browsertest.New(catalog)
	return site, site.Page()
}

func TestName(t *testing.T) {
	got := Name(time.Date(2025, 6, 1, 14, 5, 9, 123_000_000, time.UTC))
	if want := "screenshot_2025-06-01_14-05-09.123.png"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
	if !isScreenshot(got) {
		t.Errorf("isScreenshot(%q) = false", got)
	}
}

func TestCaptureWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "screenshots")
	site, page := testPage(t)
	r := NewRecorder(NewDir(dir), true, time.Second, discard())
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	where := r.Capture(context.Background(), page)
	if want := filepath.Join(dir, "screenshot_2025-06-01_12-00-00.000.png"); where != want {
		t.Fatalf("Capture() = %q, want %q", where, want)
	}
	data, err := os.ReadFile(where)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("capture is not a png: %q", data)
	}
	if site.Screenshots() != 1 {
		t.Errorf("site screenshots = %d, want 1", site.Screenshots())
	}
}

func TestCaptureDisabled(t *testing.T) {
	dir := t.TempDir()
	site, page := testPage(t)
	r := NewRecorder(NewDir(dir), false, time.Second, discard())

	if where := r.Capture(context.Background(), page); where != "" {
		t.Errorf("Capture() = %q, want empty", where)
	}
	if site.Screenshots() != 0 {
		t.Errorf("site screenshots = %d, want 0", site.Screenshots())
	}
}

type failingSink struct{}

func (failingSink) Put(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func (failingSink) Prune(context.Context, time.Time) (int, error) { return 0, nil }

func TestCaptureSwallowsErrors(t *testing.T) {
	_, page := testPage(t)
	r := NewRecorder(failingSink{}, true, time.Second, discard())
	if where := r.Capture(context.Background(), page); where != "" {
		t.Errorf("Capture() = %q, want empty", where)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = NewRecorder(NewDir(t.TempDir()), true, time.Second, discard())
	if where := r.Capture(ctx, page); where != "" {
		t.Errorf("Capture() with canceled ctx = %q, want empty", where)
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)

	files := map[string]time.Duration{
		Name(now.Add(-200 * time.Hour)): 200 * time.Hour,
		Name(now.Add(-time.Hour)):       time.Hour,
		"notes.txt":                     500 * time.Hour,
	}
	for name, age := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		mtime := now.Add(-age)
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRecorder(NewDir(dir), true, time.Second, discard())
	r.now = func() time.Time { return now }

	n, err := r.Prune(context.Background(), 168*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d, want 1", n)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("%d files left, want 2", len(entries))
	}

	if n, err := r.Prune(context.Background(), 0); err != nil || n != 0 {
		t.Errorf("Prune(0) = %d, %v; want 0, nil", n, err)
	}
}

func TestPruneMissingDir(t *testing.T) {
	d := NewDir(filepath.Join(t.TempDir(), "never-created"))
	if n, err := d.Prune(context.Background(), time.Now()); err != nil || n != 0 {
		t.Errorf("Prune() = %d, %v; want 0, nil", n, err)
	}
}
