// Package navigator implements the page primitives every scan step is built
// from: waiting out the loading indicator, clicking with confirmation and
// retries, going back, and opening the entry page.
package navigator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dmv-notifier/browser"
	"dmv-notifier/config"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// Screenshotter records a diagnostic screenshot of a page. It never fails;
// the returned name is empty when nothing was stored.
type Screenshotter interface {
	Capture(ctx context.Context, page browser.Page) string
}

// Navigator drives a single page through the site.
type Navigator struct {
	cfg    *config.Config
	shots  Screenshotter
	logger *slog.Logger
}

// New creates a navigator.
func New(cfg *config.Config, shots Screenshotter, logger *slog.Logger) *Navigator {
	return &Navigator{cfg: cfg, shots: shots, logger: logger}
}

// Config returns the configuration the navigator was built with.
func (n *Navigator) Config() *config.Config { return n.cfg }

// Screenshot records a diagnostic screenshot of page.
func (n *Navigator) Screenshot(ctx context.Context, page browser.Page) string {
	return n.shots.Capture(ctx, page)
}

// Anchor targets a page anchor: selectors for '#', '.' and '[' prefixed
// values, exact text otherwise.
func Anchor(s string) browser.Target { return browser.Parse(s) }

// WaitForIndicator waits out the site's loading indicator. If it does not
// show up within the appear timeout the page is assumed to have updated
// synchronously. Once it has shown up it must go away within the disappear
// timeout.
func (n *Navigator) WaitForIndicator(ctx context.Context, page browser.Page) error {
	indicator := browser.Selector(n.cfg.Selectors.LoadingIndicator)

	appearCtx, cancel := context.WithTimeout(ctx, n.cfg.IndicatorAppearTimeout)
	_, err := page.WaitVisible(appearCtx, indicator)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.logger.Debug("Loading indicator did not appear")
		return nil
	}

	hideCtx, cancel := context.WithTimeout(ctx, n.cfg.IndicatorDisappearTimeout)
	defer cancel()
	if err := page.WaitHidden(hideCtx, indicator); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return n.fail(ctx, page, "wait for loading indicator", err)
	}
	n.logger.Debug("Loading indicator disappeared")
	return nil
}

// ClickAndConfirm clicks target and waits for expected to become visible.
// A zero expected target skips confirmation. If expected is already visible
// nothing is clicked.
//
// A failed attempt that left the site's error page on screen returns a
// KindSiteError immediately. Otherwise the click is retried; after the last
// attempt a KindNavigationBroken is returned.
func (n *Navigator) ClickAndConfirm(ctx context.Context, page browser.Page, target, expected browser.Target) error {
	op := "click " + target.String()

	var siteErr, lastErr error
	err := retry.Do(
		func() error {
			err := n.clickOnce(ctx, page, target, expected)
			if err == nil {
				return nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			if n.ErrorBannerShown(ctx, page) {
				n.logger.Warn("Site error page detected", "target", target.String(), "error", err)
				siteErr = err
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(uint(n.cfg.MaxClickAttempts)),
		retry.Delay(n.cfg.ClickRetryDelay),
		retry.MaxJitter(n.cfg.ClickRetryJitter),
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.Info("Retrying click after error", "target", target.String(), "attempt", attempt, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if siteErr != nil {
		return &Error{Kind: KindSiteError, Op: op, Err: siteErr}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}

	n.logger.Warn("Click attempts exhausted", "target", target.String(), "attempts", n.cfg.MaxClickAttempts, "error", lastErr)
	return n.fail(ctx, page, op, lastErr)
}

func (n *Navigator) clickOnce(ctx context.Context, page browser.Page, target, expected browser.Target) error {
	if !expected.IsZero() {
		preCtx, cancel := context.WithTimeout(ctx, n.cfg.PreCheckTimeout)
		visible, err := browser.IsVisible(preCtx, page, expected)
		cancel()
		if err != nil {
			return fmt.Errorf("check %s: %w", expected, err)
		}
		if visible {
			n.logger.Debug("Expected state already reached", "expected", expected.String())
			return nil
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, n.cfg.ClickTimeout)
	el, err := page.WaitVisible(waitCtx, target)
	cancel()
	if err != nil {
		return fmt.Errorf("wait for %s: %w", target, err)
	}

	clickCtx, cancel := context.WithTimeout(ctx, n.cfg.ClickActionTimeout)
	err = el.Click(clickCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("click: %w", err)
	}

	if expected.IsZero() {
		return nil
	}
	confirmCtx, cancel := context.WithTimeout(ctx, n.cfg.ExpectedStateTimeout)
	defer cancel()
	if _, err := page.WaitVisible(confirmCtx, expected); err != nil {
		return fmt.Errorf("wait for %s: %w", expected, err)
	}
	return nil
}

// GoBackAndConfirm navigates back in history and waits for expected.
func (n *Navigator) GoBackAndConfirm(ctx context.Context, page browser.Page, expected browser.Target) error {
	backCtx, cancel := context.WithTimeout(ctx, n.cfg.BackTimeout)
	defer cancel()

	if err := page.NavigateBack(backCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return n.fail(ctx, page, "navigate back", err)
	}
	if _, err := page.WaitVisible(backCtx, expected); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return n.fail(ctx, page, "navigate back to "+expected.String(), err)
	}
	return nil
}

// OpenEntryPoint loads the site's landing page.
func (n *Navigator) OpenEntryPoint(ctx context.Context, page browser.Page) error {
	navCtx, cancel := context.WithTimeout(ctx, n.cfg.NavigationTimeout)
	err := page.Navigate(navCtx, n.cfg.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return n.fail(ctx, page, "open "+n.cfg.URL, err)
	}

	landCtx, cancel := context.WithTimeout(ctx, n.cfg.LandingTimeout)
	defer cancel()
	if _, err := page.WaitVisible(landCtx, browser.Text(n.cfg.Anchors.Main)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return n.fail(ctx, page, "wait for landing page", err)
	}
	n.logger.Info("Entry page opened", "url", n.cfg.URL)
	return nil
}

// fail captures the page and returns a KindNavigationBroken error. Every
// broken navigation reported by Navigator has exactly one screenshot.
func (n *Navigator) fail(ctx context.Context, page browser.Page, op string, err error) error {
	n.shots.Capture(ctx, page)
	return broken(op, err)
}

// ErrorBannerShown reports whether the site's error page is rendered.
// Failure to read the page counts as no banner.
func (n *Navigator) ErrorBannerShown(ctx context.Context, page browser.Page) bool {
	html, err := page.HTML(ctx)
	if err != nil {
		return false
	}
	return HasErrorBanner(html, n.cfg.Anchors.ErrorBanner)
}

// HasErrorBanner reports whether the rendered text of html contains banner.
func HasErrorBanner(html, banner string) bool {
	if banner == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Contains(html, banner)
	}
	return strings.Contains(doc.Text(), banner)
}
