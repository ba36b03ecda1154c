// Package screenshot stores diagnostic page captures in a local directory
// or a Cloud Storage bucket.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dmv-notifier/browser"
	"dmv-notifier/metrics"
)

const (
	filePrefix = "screenshot_"
	fileSuffix = ".png"
	nameLayout = "2006-01-02_15-04-05.000"
)

// Name returns the file name for a capture taken at t.
func Name(t time.Time) string {
	return filePrefix + t.Format(nameLayout) + fileSuffix
}

func isScreenshot(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

// Sink stores captures.
type Sink interface {
	// Put stores data under name and returns where it went.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Prune removes captures created before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Recorder takes screenshots of failing pages. Failures are logged and
// never returned: a missing diagnostic must not disturb a scan.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
	enabled bool
}

// NewRecorder creates a recorder. When enabled is false Capture does nothing.
func NewRecorder(sink Sink, enabled bool, timeout time.Duration, logger *slog.Logger) *Recorder {
	return &Recorder{
		sink:    sink,
		logger:  logger,
		now:     time.Now,
		timeout: timeout,
		enabled: enabled,
	}
}

// Capture screenshots page and returns the stored location, or "" on failure.
func (r *Recorder) Capture(ctx context.Context, page browser.Page) string {
	if !r.enabled || r.sink == nil {
		return ""
	}
	if page == nil {
		r.logger.Warn("Cannot take screenshot: no page")
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := page.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("Failed to take screenshot", "error", err)
		metrics.ScreenshotsTotal.WithLabelValues("failed").Inc()
		return ""
	}
	where, err := r.sink.Put(ctx, Name(r.now()), data)
	if err != nil {
		r.logger.Warn("Failed to store screenshot", "error", err)
		metrics.ScreenshotsTotal.WithLabelValues("failed").Inc()
		return ""
	}

	r.logger.Warn("Screenshot saved", "path", where, "bytes", len(data))
	metrics.ScreenshotsTotal.WithLabelValues("saved").Inc()
	return where
}

// Prune deletes captures older than olderThan. A non-positive age keeps everything.
func (r *Recorder) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if r.sink == nil || olderThan <= 0 {
		return 0, nil
	}
	n, err := r.sink.Prune(ctx, r.now().Add(-olderThan))
	if err != nil {
		return n, fmt.Errorf("prune screenshots: %w", err)
	}
	if n > 0 {
		r.logger.Info("Pruned old screenshots", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}

// Dir is a Sink writing into a local directory.
type Dir struct {
	path string
}

// NewDir creates a directory sink. The directory is created on first use.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

func (d *Dir) Put(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	p := filepath.Join(d.path, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return p, nil
}

func (d *Dir) Prune(_ context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read screenshot dir: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isScreenshot(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(d.path, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
