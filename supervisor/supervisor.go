// Package supervisor owns the browser lifecycle: it launches a browser,
// runs a bounded number of scan cycles on it and then recycles it.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dmv-notifier/browser"
	"dmv-notifier/config"
	"dmv-notifier/metrics"

	"github.com/google/uuid"
)

// Scanner runs one full pass over every category.
type Scanner interface {
	ScanAllCategories(ctx context.Context, page browser.Page) error
}

// Purger removes expired subscriptions.
type Purger interface {
	PurgeSubscriptionsOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

// Pruner removes old diagnostics.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// Supervisor restarts the browser after every MaxCyclesBeforeRestart cycles
// or after the first failed cycle, forever.
type Supervisor struct {
	cfg      *config.Config
	launcher browser.Launcher
	scanner  Scanner
	purger   Purger
	pruner   Pruner
	logger   *slog.Logger
}

// New creates a supervisor. pruner may be nil.
func New(cfg *config.Config, launcher browser.Launcher, scanner Scanner, purger Purger, pruner Pruner, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		scanner:  scanner,
		purger:   purger,
		pruner:   pruner,
		logger:   logger,
	}
}

// Run loops until ctx is canceled and then returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("Monitor started", "max_cycles", s.cfg.MaxCyclesBeforeRestart, "categories", len(s.cfg.Categories), "locations", len(s.cfg.Locations))
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Monitor stopping", "reason", err)
			return err
		}

		reason := s.RunSession(ctx)
		metrics.BrowserSessionsTotal.WithLabelValues(reason).Inc()

		if err := sleep(ctx, s.cfg.RelaunchDelay); err != nil {
			s.logger.Info("Monitor stopping", "reason", err)
			return err
		}
	}
}

// Session end reasons reported by RunSession.
const (
	ReasonRecycled     = "recycled"
	ReasonFailed       = "failed"
	ReasonLaunchFailed = "launch_failed"
	ReasonCanceled     = "canceled"
)

// RunSession launches one browser, runs its cycles and closes it. It
// returns why the session ended.
func (s *Supervisor) RunSession(ctx context.Context) string {
	b, err := s.launcher.Launch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ReasonCanceled
		}
		s.logger.Error("Critical browser error", "error", err)
		return ReasonLaunchFailed
	}
	s.logger.Info("Browser started")
	defer func() {
		if err := b.Close(); err != nil {
			s.logger.Warn("Failed to close browser", "error", err)
		}
	}()

	if s.pruner != nil {
		if _, err := s.pruner.Prune(ctx, s.cfg.ScreenshotRetention); err != nil {
			s.logger.Warn("Failed to prune screenshots", "error", err)
		}
	}

	maxCycles := s.cfg.MaxCyclesBeforeRestart
	for n := 1; n <= maxCycles; n++ {
		err := s.runCycle(ctx, b, n)
		pauseErr := sleep(ctx, s.cfg.CyclePause)

		if ctx.Err() != nil {
			return ReasonCanceled
		}
		if err != nil {
			metrics.CyclesTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Cycle failed, restarting browser", "cycle", n, "error", err)
			return ReasonFailed
		}
		metrics.CyclesTotal.WithLabelValues("ok").Inc()
		if pauseErr != nil {
			return ReasonCanceled
		}
	}

	s.logger.Info("Cycle budget spent, restarting browser", "cycles", maxCycles)
	return ReasonRecycled
}

func (s *Supervisor) runCycle(ctx context.Context, b browser.Browser, n int) error {
	logger := s.logger.With("cycle_id", uuid.NewString())
	start := time.Now()

	geo := s.cfg.Geolocation
	bctx, err := b.NewContext(ctx, browser.ContextOptions{
		Latitude:  geo.Latitude,
		Longitude: geo.Longitude,
		Accuracy:  geo.Accuracy,
	})
	if err != nil {
		return fmt.Errorf("create browser context: %w", err)
	}
	defer func() {
		if err := bctx.Close(); err != nil {
			logger.Warn("Failed to close browser context", "error", err)
		}
	}()

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	removed, err := s.purger.PurgeSubscriptionsOlderThan(ctx, s.cfg.SubscriptionMaxAge)
	if err != nil {
		logger.Warn("Failed to purge old subscriptions", "error", err)
	} else if removed > 0 {
		metrics.SubscriptionsPurgedTotal.Add(float64(removed))
	}

	logger.Info("Cycle started", "cycle", n, "max_cycles", s.cfg.MaxCyclesBeforeRestart)
	if err := s.scanner.ScanAllCategories(ctx, page); err != nil {
		return fmt.Errorf("scan categories: %w", err)
	}
	logger.Info("Cycle finished", "cycle", n, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
