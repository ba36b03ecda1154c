package scraper

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"dmv-notifier/browser"
	"dmv-notifier/browser/browsertest"
	"dmv-notifier/config"
	"dmv-notifier/navigator"
)

const calendarFixture = `<html><body>
<h2>Choose a Date</h2>
<div class="ui-datepicker-inline ui-datepicker ui-widget ui-widget-content">
  <div class="ui-datepicker-header">
    <a class="ui-datepicker-prev ui-corner-all ui-state-disabled" title="Prev"><span>Prev</span></a>
    <a class="ui-datepicker-next ui-corner-all" data-handler="next" title="Next"><span>Next</span></a>
    <div class="ui-datepicker-title">
      <span class="ui-datepicker-month">June</span>&nbsp;<span class="ui-datepicker-year">2025</span>
    </div>
  </div>
  <table class="ui-datepicker-calendar"><tbody>
    <tr>
      <td class="ui-datepicker-unselectable ui-state-disabled"><span class="ui-state-default">2</span></td>
      <td data-handler="selectDay" data-event="click"><a class="ui-state-default" href="#"> 3 </a></td>
      <td data-handler="selectDay" data-event="click"><a class="ui-state-default" href="#">17</a></td>
    </tr>
  </tbody></table>
</div>
<select id="time"><option value="">-</option><option>8:00 AM</option><option> 9:15 AM </option><option></option></select>
<select id="other"><option>ignored</option></select>
</body></html>`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	catalog, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	s := config.DefaultSettings()
	s.ClickRetryDelay = time.Millisecond
	s.ClickRetryJitter = time.Millisecond
	cfg, err := config.New(catalog, s)
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	return cfg
}

func TestParseCalendar(t *testing.T) {
	cfg := testConfig(t)

	cal, err := ParseCalendar(calendarFixture, cfg.Selectors)
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	if cal.Month != "June" || cal.Year != "2025" {
		t.Errorf("Header = %q %q, want June 2025", cal.Month, cal.Year)
	}
	if !reflect.DeepEqual(cal.ActiveDays, []int{3, 17}) {
		t.Errorf("ActiveDays = %v, want [3 17]", cal.ActiveDays)
	}
	if !cal.NextEnabled {
		t.Error("Expected next month to be enabled")
	}
}

func TestParseCalendarDisabledNextAndMissingHeader(t *testing.T) {
	cfg := testConfig(t)
	html := `<div class="ui-datepicker-inline ui-datepicker ui-widget ui-widget-content">
<a class="ui-datepicker-next ui-corner-all ui-state-disabled">Next</a>
<table><tr><td class="ui-state-disabled"><span>4</span></td></tr></table></div>`

	cal, err := ParseCalendar(html, cfg.Selectors)
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	if cal.NextEnabled {
		t.Error("Disabled next control must not count as enabled")
	}
	if cal.HeaderOK() {
		t.Errorf("Expected unreadable header, got %q %q", cal.Month, cal.Year)
	}
	if len(cal.ActiveDays) != 0 {
		t.Errorf("Expected no active days, got %v", cal.ActiveDays)
	}
}

func TestParseCalendarIgnoresDaysOutsideCalendar(t *testing.T) {
	cfg := testConfig(t)
	html := `<table><tr><td data-handler="selectDay"><a>9</a></td></tr></table>`

	cal, err := ParseCalendar(html, cfg.Selectors)
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	if len(cal.ActiveDays) != 0 {
		t.Errorf("Day cells outside the calendar container should be ignored, got %v", cal.ActiveDays)
	}
}

func TestParseTimeOptions(t *testing.T) {
	cfg := testConfig(t)

	times, err := ParseTimeOptions(calendarFixture, cfg.Selectors.TimeSelect, cfg.TimePlaceholders)
	if err != nil {
		t.Fatalf("ParseTimeOptions: %v", err)
	}
	want := []string{"8:00 AM", "9:15 AM"}
	if !reflect.DeepEqual(times, want) {
		t.Errorf("ParseTimeOptions() = %v, want %v", times, want)
	}
}

func TestDayNumber(t *testing.T) {
	tests := []struct {
		text    string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{" 31\n", 31, false},
		{"0", 0, true},
		{"32", 0, true},
		{"Mon", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := DayNumber(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DayNumber(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DayNumber(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

type noShots struct{}

func (noShots) Capture(context.Context, browser.Page) string { return "" }

// openCalendar drives the simulated site to the calendar of location.
func openCalendar(t *testing.T, cfg *config.Config, site *browsertest.Site, nav *navigator.Navigator, category, location string) browser.Page {
	t.Helper()
	ctx := context.Background()
	page := site.Page()
	if err := nav.OpenEntryPoint(ctx, page); err != nil {
		t.Fatalf("OpenEntryPoint: %v", err)
	}
	steps := []struct{ target, expected browser.Target }{
		{browser.Selector(cfg.Selectors.MakeAppointment), browser.Text(cfg.Anchors.Categories)},
		{browser.Text(category), browser.Text(cfg.Anchors.Locations)},
		{browser.TextWithin(cfg.Selectors.LocationPanel, location), browser.Text(cfg.Anchors.Calendar)},
	}
	for _, s := range steps {
		if err := nav.ClickAndConfirm(ctx, page, s.target, s.expected); err != nil {
			t.Fatalf("ClickAndConfirm(%s): %v", s.target, err)
		}
	}
	return page
}

func newExtractor(t *testing.T) (*Extractor, *config.Config, *browsertest.Site, *navigator.Navigator) {
	t.Helper()
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	nav := navigator.New(cfg, noShots{}, logger)
	return NewExtractor(nav, logger), cfg, browsertest.New(cfg.Catalog), nav
}

func TestExtractSlotsTwoMonthHorizon(t *testing.T) {
	x, cfg, site, nav := newExtractor(t)
	category := cfg.Categories[0]

	site.SetOffices(category.Name, "Cary")
	site.SetCalendar(category.Name, "Cary",
		browsertest.Month{Name: "June", Year: 2025, Days: []browsertest.Day{
			{Number: 3, Times: []string{"9:00 AM", "10:00 AM"}},
			{Number: 4}, // every slot taken
			{Number: 5, Times: []string{"1:30 PM"}},
		}},
		browsertest.Month{Name: "July", Year: 2025, Days: []browsertest.Day{
			{Number: 1, Times: []string{"8:00 AM"}},
		}},
		browsertest.Month{Name: "August", Year: 2025, Days: []browsertest.Day{
			{Number: 2, Times: []string{"8:00 AM"}},
		}},
	)

	page := openCalendar(t, cfg, site, nav, category.Name, "Cary")
	records, err := x.ExtractSlots(context.Background(), page, category.Key, "Cary")
	if err != nil {
		t.Fatalf("ExtractSlots: %v", err)
	}

	var labels []string
	for _, r := range records {
		labels = append(labels, r.DateLabel)
		if r.CategoryKey != category.Key || r.Location != "Cary" {
			t.Errorf("Record %q has category %q location %q", r.DateLabel, r.CategoryKey, r.Location)
		}
	}
	want := []string{"June 3, 2025", "June 5, 2025", "July 1, 2025"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("Date labels = %v, want %v", labels, want)
	}
	if !reflect.DeepEqual(records[0].Times, []string{"9:00 AM", "10:00 AM"}) {
		t.Errorf("June 3 times = %v", records[0].Times)
	}

	nextClicks := 0
	for _, label := range site.ClickLog() {
		if label == browsertest.LabelNextMonth {
			nextClicks++
		}
	}
	if nextClicks != 1 {
		t.Errorf("Expected exactly one next-month click, got %d", nextClicks)
	}
}

func TestExtractSlotsHeaderFallback(t *testing.T) {
	x, cfg, site, nav := newExtractor(t)
	category := cfg.Categories[0]
	x.now = func() time.Time { return time.Date(2025, time.March, 1, 2, 0, 0, 0, time.UTC) }

	site.SetOffices(category.Name, "Cary")
	site.SetCalendar(category.Name, "Cary", browsertest.Month{Days: []browsertest.Day{
		{Number: 12, Times: []string{"11:00 AM"}},
	}})

	page := openCalendar(t, cfg, site, nav, category.Name, "Cary")
	records, err := x.ExtractSlots(context.Background(), page, category.Key, "Cary")
	if err != nil {
		t.Fatalf("ExtractSlots: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	// 02:00 UTC on March 1 is still February in New York.
	if records[0].DateLabel != "February 12, 2025" {
		t.Errorf("DateLabel = %q, want February 12, 2025", records[0].DateLabel)
	}
}

func TestExtractSlotsNoActiveDays(t *testing.T) {
	x, cfg, site, nav := newExtractor(t)
	category := cfg.Categories[0]

	site.SetOffices(category.Name, "Cary")
	site.SetCalendar(category.Name, "Cary", browsertest.Month{Name: "June", Year: 2025})

	page := openCalendar(t, cfg, site, nav, category.Name, "Cary")
	records, err := x.ExtractSlots(context.Background(), page, category.Key, "Cary")
	if err != nil {
		t.Fatalf("ExtractSlots: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %v", records)
	}
}
