// Package poll walks the appointment site category by category and location
// by location, notifying subscribers and recording snapshots as it goes.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dmv-notifier/browser"
	"dmv-notifier/metrics"
	"dmv-notifier/navigator"
	"dmv-notifier/pkg/notifier"
)

// Extractor reads slot records off an open location calendar.
type Extractor interface {
	ExtractSlots(ctx context.Context, page browser.Page, categoryKey, location string) ([]notifier.SlotRecord, error)
}

// Notifier sends notifications for slots found at one location.
type Notifier interface {
	Notify(ctx context.Context, category, location string, records []notifier.SlotRecord) (int, error)
}

// SnapshotStore persists per-location slot counts.
type SnapshotStore interface {
	WriteSnapshot(ctx context.Context, categoryKey string, locations []string, summaries []notifier.LocationSlotSummary) error
}

// Scanner drives category and location scans over one page.
type Scanner struct {
	nav       *navigator.Navigator
	extractor Extractor
	notifier  Notifier
	store     SnapshotStore
	logger    *slog.Logger
}

// New creates a scanner.
func New(nav *navigator.Navigator, extractor Extractor, n Notifier, store SnapshotStore, logger *slog.Logger) *Scanner {
	return &Scanner{
		nav:       nav,
		extractor: extractor,
		notifier:  n,
		store:     store,
		logger:    logger,
	}
}

// ScanAllCategories opens the site and scans every configured category.
//
// A failed category is captured and skipped after re-entering category
// selection from the entry page. If that recovery fails the error is
// returned and the browser session should be discarded.
func (s *Scanner) ScanAllCategories(ctx context.Context, page browser.Page) error {
	cfg := s.nav.Config()
	start := time.Now()

	if err := s.enterCategorySelection(ctx, page); err != nil {
		return fmt.Errorf("open category selection: %w", err)
	}
	s.logger.Info("Opened category selection")

	for _, category := range cfg.Categories {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.logger.Info("Processing category", "category", category.Name)
		err := s.scanCategory(ctx, page, category)
		if err == nil {
			metrics.CategoryScansTotal.WithLabelValues("ok").Inc()
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.CategoryScansTotal.WithLabelValues("recovered").Inc()
		s.logger.Warn("Error processing category", "category", category.Name, "kind", navigator.KindOf(err).String(), "error", err)
		if !navigator.IsNavigationBroken(err) {
			s.nav.Screenshot(ctx, page)
		}

		if err := s.enterCategorySelection(ctx, page); err != nil {
			s.logger.Warn("Failed to re-enter category selection", "category", category.Name, "error", err)
			return fmt.Errorf("recover after category %s: %w", category.Name, err)
		}
		s.logger.Info("Re-entered category selection", "category", category.Name)
	}

	s.logger.Info("All categories scanned", "categories", len(cfg.Categories), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Scanner) enterCategorySelection(ctx context.Context, page browser.Page) error {
	cfg := s.nav.Config()
	if err := s.nav.OpenEntryPoint(ctx, page); err != nil {
		return err
	}
	return s.nav.ClickAndConfirm(ctx, page,
		browser.Selector(cfg.Selectors.MakeAppointment),
		navigator.Anchor(cfg.Anchors.Categories))
}

func (s *Scanner) scanCategory(ctx context.Context, page browser.Page, category notifier.Category) error {
	cfg := s.nav.Config()

	if err := s.nav.ClickAndConfirm(ctx, page, browser.Text(category.Name), navigator.Anchor(cfg.Anchors.Locations)); err != nil {
		return fmt.Errorf("enter category: %w", err)
	}
	s.logger.Info("Entered category", "category", category.Name)

	if err := s.ScanLocations(ctx, page, category); err != nil {
		return err
	}

	if err := s.nav.GoBackAndConfirm(ctx, page, navigator.Anchor(cfg.Anchors.Categories)); err != nil {
		return fmt.Errorf("return to category selection: %w", err)
	}
	return nil
}

// ScanLocations visits every configured location rendered on the current
// location list, in configuration order. Each location is notified as soon
// as its slots are known. After the last location the category snapshot is
// written for every configured location, so absent ones read zero.
//
// Failures inside a location count as zero slots. Only a failure to get back
// to the location list aborts the category; the snapshot then covers the
// locations visited so far.
func (s *Scanner) ScanLocations(ctx context.Context, page browser.Page, category notifier.Category) error {
	cfg := s.nav.Config()
	backTo := navigator.Anchor(cfg.Anchors.Locations)

	visited := make(map[string]bool)
	var order []string
	var summaries []notifier.LocationSlotSummary

	for _, location := range cfg.Locations {
		if visited[location] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		panel := browser.TextWithin(cfg.Selectors.LocationPanel, location)
		_, present, err := page.Lookup(ctx, panel)
		if err != nil {
			return fmt.Errorf("look up location %s: %w", location, err)
		}
		if !present {
			continue
		}
		visited[location] = true
		order = append(order, location)

		s.logger.Info("Entering location", "category", category.Name, "location", location)
		records, err := s.scanLocation(ctx, page, category, location, panel)
		if err != nil {
			return err
		}

		count := notifier.CountSlots(records)
		summaries = append(summaries, notifier.LocationSlotSummary{Location: location, SlotCount: count})
		metrics.AvailableSlots.WithLabelValues(category.Key, location).Set(float64(count))

		if _, err := s.notifier.Notify(ctx, category.Name, location, records); err != nil {
			s.logger.Warn("Notification dispatch failed", "category", category.Name, "location", location, "error", err)
		}

		if err := s.nav.GoBackAndConfirm(ctx, page, backTo); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.writeSnapshot(ctx, category, order, summaries)
			return fmt.Errorf("leave location %s: %w", location, err)
		}
		s.logger.Debug("Exited calendar", "location", location)
	}

	if len(summaries) == 0 {
		s.logger.Info("No active locations", "category", category.Name)
	}
	s.writeSnapshot(ctx, category, cfg.Locations, summaries)
	return nil
}

// scanLocation opens one location's calendar and extracts its slots. Only
// context errors are returned; everything else degrades to no slots.
func (s *Scanner) scanLocation(ctx context.Context, page browser.Page, category notifier.Category, location string, panel browser.Target) ([]notifier.SlotRecord, error) {
	cfg := s.nav.Config()

	err := s.nav.ClickAndConfirm(ctx, page, panel, navigator.Anchor(cfg.Anchors.Calendar))
	var records []notifier.SlotRecord
	if err == nil {
		records, err = s.extractor.ExtractSlots(ctx, page, category.Key, location)
	}

	switch {
	case err == nil:
		if len(records) > 0 {
			metrics.LocationsScannedTotal.WithLabelValues("slots").Inc()
		} else {
			metrics.LocationsScannedTotal.WithLabelValues("empty").Inc()
		}
		return records, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case navigator.IsSiteError(err):
		metrics.LocationsScannedTotal.WithLabelValues("site_error").Inc()
		s.logger.Warn("Site error at location, counting no slots", "category", category.Name, "location", location, "error", err)
		return nil, nil
	default:
		metrics.LocationsScannedTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("Error checking slots", "category", category.Name, "location", location, "error", err)
		if !navigator.IsNavigationBroken(err) {
			s.nav.Screenshot(ctx, page)
		}
		return nil, nil
	}
}

func (s *Scanner) writeSnapshot(ctx context.Context, category notifier.Category, locations []string, summaries []notifier.LocationSlotSummary) {
	if err := s.store.WriteSnapshot(ctx, category.Key, locations, summaries); err != nil {
		s.logger.Warn("Error saving slots info", "category", category.Key, "error", err)
		return
	}
	s.logger.Info("Saved slots info", "category", category.Key, "locations", len(locations), "with_results", len(summaries))
}
