package navigator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"dmv-notifier/browser"
	"dmv-notifier/browser/browsertest"
	"dmv-notifier/config"
)

type countingShots struct {
	captures int
}

func (c *countingShots) Capture(ctx context.Context, page browser.Page) string {
	c.captures++
	if _, err := page.Screenshot(ctx); err != nil {
		return ""
	}
	return "shot.png"
}

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

func newNavigator(t *testing.T) (*Navigator, *browsertest.Site, *countingShots) {
	t.Helper()
	cfg := testConfig(t)
	shots := &countingShots{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, shots, logger), browsertest.New(cfg.Catalog), shots
}

func TestClickAndConfirmSkipsClickWhenExpectedVisible(t *testing.T) {
	nav, site, shots := newNavigator(t)
	page := site.Page()
	ctx := context.Background()

	if err := nav.OpenEntryPoint(ctx, page); err != nil {
		t.Fatalf("OpenEntryPoint: %v", err)
	}

	err := nav.ClickAndConfirm(ctx, page,
		browser.Selector(nav.cfg.Selectors.MakeAppointment),
		browser.Text(nav.cfg.Anchors.Main))
	if err != nil {
		t.Fatalf("ClickAndConfirm: %v", err)
	}
	if site.Clicks() != 0 {
		t.Errorf("Expected no clicks, got %d", site.Clicks())
	}
	if shots.captures != 0 {
		t.Errorf("Expected no screenshots, got %d", shots.captures)
	}
}

func TestClickAndConfirmReachesExpectedState(t *testing.T) {
	nav, site, _ := newNavigator(t)
	page := site.Page()
	ctx := context.Background()

	if err := nav.OpenEntryPoint(ctx, page); err != nil {
		t.Fatalf("OpenEntryPoint: %v", err)
	}
	err := nav.ClickAndConfirm(ctx, page,
		browser.Selector(nav.cfg.Selectors.MakeAppointment),
		browser.Text(nav.cfg.Anchors.Categories))
	if err != nil {
		t.Fatalf("ClickAndConfirm: %v", err)
	}
	if site.State() != browsertest.StateCategories {
		t.Errorf("Expected categories page, got %s", site.State())
	}
	if site.Clicks() != 1 {
		t.Errorf("Expected 1 click, got %d", site.Clicks())
	}
}

func TestClickAndConfirmRetriesTransientFailures(t *testing.T) {
	nav, site, shots := newNavigator(t)
	page := site.Page()
	ctx := context.Background()

	failures := 2
	site.OnClick = func(label string) error {
		if label == browsertest.LabelMakeAppointment && failures > 0 {
			failures--
			return errors.New("element intercepted")
		}
		return nil
	}

	if err := nav.OpenEntryPoint(ctx, page); err != nil {
		t.Fatalf("OpenEntryPoint: %v", err)
	}
	err := nav.ClickAndConfirm(ctx, page,
		browser.Selector(nav.cfg.Selectors.MakeAppointment),
		browser.Text(nav.cfg.Anchors.Categories))
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if shots.captures != 0 {
		t.Errorf("Expected no screenshots, got %d", shots.captures)
	}
}

func TestClickAndConfirmExhaustedAttempts(t *testing.T) {
	nav, site, shots := newNavigator(t)
	page := site.Page()
	ctx := context.Background()

	// The click lands but the page never changes.
	site.StaleClicks = map[string]bool{browsertest.LabelMakeAppointment: true}

	if err := nav.OpenEntryPoint(ctx, page); err != nil {
		t.Fatalf("OpenEntryPoint: %v", err)
	}
	err := nav.ClickAndConfirm(ctx, page,
		browser.Selector(nav.cfg.Selectors.MakeAppointment),
		browser.Text(nav.cfg.Anchors.Categories))
	if !IsNavigationBroken(err) {
		t.Fatalf("Expected navigation broken error, got %v", err)
	}
	if IsSiteError(err) {
		t.Error("Navigation broken error must not be a site error")
	}
	if site.Clicks() != nav.cfg.MaxClickAttempts {
		t.Errorf("Expected %d clicks, got %d", nav.cfg.MaxClickAttempts, site.Clicks())
	}
	if shots.captures != 1 {
		t.Errorf("Expected exactly 1 screenshot, got %d", shots.captures)
	}
	if site.Screenshots() != 1 {
		t.Errorf("Expected page to be captured once, got %d", site.Screenshots())
	}
}

func TestClickAndConfirmSiteError(t *testing.T) {
	nav, site, shots := newNavigator(t)
	page := site.Page()
	ctx := context.Background()

	category := nav.cfg.Categories[0].Name
	site.SetOffices(category, "Cary")
	site.FailLocation(category, "Cary")

	if err := nav.OpenEntryPoint(ctx, page); err != nil {
		t.Fatalf("OpenEntryPoint: %v", err)
	}
	steps := []struct {
		target, expected browser.Target
	}{
		{browser.Selector(nav.cfg.Selectors.MakeAppointment), browser.Text(nav.cfg.Anchors.Categories)},
		{browser.Text(category), browser.Text(nav.cfg.Anchors.Locations)},
	}
	for _, s := range steps {
		if err := nav.ClickAndConfirm(ctx, page, s.target, s.expected); err != nil {
			t.Fatalf("ClickAndConfirm(%s): %v", s.target, err)
		}
	}

	err := nav.ClickAndConfirm(ctx, page,
		browser.TextWithin(nav.cfg.Selectors.LocationPanel, "Cary"),
		browser.Text(nav.cfg.Anchors.Calendar))
	if !IsSiteError(err) {
		t.Fatalf("Expected site error, got %v", err)
	}
	if got := site.Clicks(); got != 3 {
		t.Errorf("Expected the failing click to run once (3 clicks total), got %d", got)
	}
	if shots.captures != 0 {
		t.Errorf("Site errors should not be captured here, got %d screenshots", shots.captures)
	}
}

func TestClickAndConfirmCanceledContext(t *testing.T) {
	nav, site, shots := newNavigator(t)
	page := site.Page()

	ctx, cancel := context.WithCancel(context.Background())
	if err := nav.OpenEntryPoint(ctx, page); err != nil {
		t.Fatalf("OpenEntryPoint: %v", err)
	}
	cancel()

	err := nav.ClickAndConfirm(ctx, page,
		browser.Selector(nav.cfg.Selectors.MakeAppointment),
		browser.Text(nav.cfg.Anchors.Categories))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if KindOf(err) != KindUnknown {
		t.Errorf("Cancellation must not be classified, got %s", KindOf(err))
	}
	if shots.captures != 0 {
		t.Errorf("Expected no screenshots, got %d", shots.captures)
	}
}

func TestGoBackAndConfirm(t *testing.T) {
	nav, site, shots := newNavigator(t)
	page := site.Page()
	ctx := context.Background()

	if err := nav.OpenEntryPoint(ctx, page); err != nil {
		t.Fatalf("OpenEntryPoint: %v", err)
	}
	if err := nav.ClickAndConfirm(ctx, page,
		browser.Selector(nav.cfg.Selectors.MakeAppointment),
		browser.Text(nav.cfg.Anchors.Categories)); err != nil {
		t.Fatalf("ClickAndConfirm: %v", err)
	}

	if err := nav.GoBackAndConfirm(ctx, page, browser.Text(nav.cfg.Anchors.Main)); err != nil {
		t.Fatalf("GoBackAndConfirm: %v", err)
	}
	if site.State() != browsertest.StateMain {
		t.Errorf("Expected main page, got %s", site.State())
	}

	if shots.captures != 0 {
		t.Errorf("Expected no screenshots, got %d", shots.captures)
	}

	site.BackBroken = true
	err := nav.GoBackAndConfirm(ctx, page, browser.Text(nav.cfg.Anchors.Categories))
	if !IsNavigationBroken(err) {
		t.Errorf("Expected navigation broken, got %v", err)
	}
	if shots.captures != 1 {
		t.Errorf("Expected exactly 1 screenshot, got %d", shots.captures)
	}
}

func TestOpenEntryPointFailure(t *testing.T) {
	nav, site, shots := newNavigator(t)
	site.NavigateErr = errors.New("net::ERR_CONNECTION_RESET")

	err := nav.OpenEntryPoint(context.Background(), site.Page())
	if !IsNavigationBroken(err) {
		t.Fatalf("Expected navigation broken, got %v", err)
	}
	if shots.captures != 1 {
		t.Errorf("Expected exactly 1 screenshot, got %d", shots.captures)
	}
}

func TestWaitForIndicator(t *testing.T) {
	nav, site, shots := newNavigator(t)
	page := site.Page()
	ctx := context.Background()

	if err := nav.WaitForIndicator(ctx, page); err != nil {
		t.Errorf("Absent indicator should not fail: %v", err)
	}

	site.StuckIndicator = true
	if err := nav.WaitForIndicator(ctx, page); !IsNavigationBroken(err) {
		t.Errorf("Stuck indicator should break navigation, got %v", err)
	}
	if shots.captures != 1 {
		t.Errorf("Expected exactly 1 screenshot, got %d", shots.captures)
	}
}

func TestHasErrorBanner(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"banner text", `<html><body><div class="error"><p>Unfortunately, we have encountered an error.</p></div></body></html>`, true},
		{"banner split by markup", `<p>Unfortunately, we have <b>encountered an error</b></p>`, true},
		{"normal page", `<html><body><h1>Select a Location</h1></body></html>`, false},
		{"empty", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HasErrorBanner(tt.html, "Unfortunately, we have encountered an error")
			if got != tt.want {
				t.Errorf("HasErrorBanner() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := broken("click #cmdMakeAppt", errors.New("timeout"))
	wrapped := errors.Join(errors.New("category fees"), base)
	if KindOf(wrapped) != KindNavigationBroken {
		t.Errorf("KindOf(wrapped) = %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain errors should be unknown")
	}
}
