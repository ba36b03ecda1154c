package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"dmv-notifier/browser"
	"dmv-notifier/navigator"
	"dmv-notifier/pkg/notifier"
)

// Extractor walks the calendar of one location and collects bookable times.
type Extractor struct {
	nav    *navigator.Navigator
	logger *slog.Logger
	now    func() time.Time
}

// NewExtractor creates an extractor.
func NewExtractor(nav *navigator.Navigator, logger *slog.Logger) *Extractor {
	return &Extractor{nav: nav, logger: logger, now: time.Now}
}

// ExtractSlots reads the current month and, when the site allows it, the
// next one. The page must already show the location's calendar. Records
// come back in calendar order; days without valid times are left out.
func (x *Extractor) ExtractSlots(ctx context.Context, page browser.Page, categoryKey, location string) ([]notifier.SlotRecord, error) {
	cfg := x.nav.Config()

	if err := x.nav.WaitForIndicator(ctx, page); err != nil {
		return nil, err
	}

	first, err := x.readCalendar(ctx, page)
	if err != nil {
		return nil, err
	}

	records, err := x.extractMonth(ctx, page, first, categoryKey, location)
	if err != nil {
		return nil, err
	}

	if first.NextEnabled {
		x.logger.Info("Switching to next month", "location", location)
		if err := x.nav.ClickAndConfirm(ctx, page, browser.Selector(cfg.Selectors.NextMonth), browser.Target{}); err != nil {
			return nil, fmt.Errorf("open next month: %w", err)
		}
		if err := x.nav.WaitForIndicator(ctx, page); err != nil {
			return nil, err
		}
		next, err := x.readCalendar(ctx, page)
		if err != nil {
			return nil, err
		}
		more, err := x.extractMonth(ctx, page, next, categoryKey, location)
		if err != nil {
			return nil, err
		}
		records = append(records, more...)
	}

	x.logger.Info("Free slots found", "location", location, "category", categoryKey, "count", notifier.CountSlots(records))
	return records, nil
}

func (x *Extractor) readCalendar(ctx context.Context, page browser.Page) (Calendar, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return Calendar{}, fmt.Errorf("read calendar: %w", err)
	}
	cal, err := ParseCalendar(html, x.nav.Config().Selectors)
	if err != nil {
		return Calendar{}, err
	}
	if !cal.HeaderOK() {
		now := x.now().In(x.nav.Config().Location())
		x.logger.Warn("Failed to read calendar header, using current month",
			"month", cal.Month, "year", cal.Year, "fallback", now.Format("January 2006"))
		cal.Month = now.Month().String()
		cal.Year = strconv.Itoa(now.Year())
	}
	return cal, nil
}

func (x *Extractor) extractMonth(ctx context.Context, page browser.Page, cal Calendar, categoryKey, location string) ([]notifier.SlotRecord, error) {
	cfg := x.nav.Config()
	daySelector := cfg.Selectors.ActiveDays()

	cells, err := page.LookupAll(ctx, daySelector)
	if err != nil {
		return nil, fmt.Errorf("find active days: %w", err)
	}
	total := len(cells)
	x.logger.Info("Processing calendar", "month", cal.Month, "year", cal.Year, "active_days", total)

	var records []notifier.SlotRecord
	for idx := 0; idx < total; idx++ {
		// Re-resolve every iteration; the datepicker may re-render after a click.
		cells, err := page.LookupAll(ctx, daySelector)
		if err != nil {
			return nil, fmt.Errorf("find active days: %w", err)
		}
		if idx >= len(cells) {
			x.logger.Warn("Active day disappeared", "index", idx, "remaining", len(cells))
			break
		}
		cell := cells[idx]

		text, err := cell.Text(ctx)
		if err != nil {
			return nil, fmt.Errorf("read day cell: %w", err)
		}
		day, err := DayNumber(text)
		if err != nil {
			return nil, err
		}

		x.logger.Debug("Clicking on day", "day", day)
		if err := x.nav.ClickAndConfirm(ctx, page, browser.Handle(cell), browser.Target{}); err != nil {
			return nil, fmt.Errorf("select day %d: %w", day, err)
		}
		if err := x.nav.WaitForIndicator(ctx, page); err != nil {
			return nil, err
		}

		html, err := page.HTML(ctx)
		if err != nil {
			return nil, fmt.Errorf("read time options: %w", err)
		}
		times, err := ParseTimeOptions(html, cfg.Selectors.TimeSelect, cfg.TimePlaceholders)
		if err != nil {
			return nil, err
		}
		if len(times) == 0 {
			continue
		}

		records = append(records, notifier.SlotRecord{
			CategoryKey: categoryKey,
			Location:    location,
			DateLabel:   DateLabel(cal.Month, day, cal.Year),
			Times:       times,
		})
		x.logger.Debug("Time slots found", "day", day, "count", len(times))
	}
	return records, nil
}
