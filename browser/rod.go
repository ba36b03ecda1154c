package browser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodLauncher launches Chrome through the DevTools protocol.
type RodLauncher struct {
	logger   *slog.Logger
	bin      string
	headless bool
}

// NewRodLauncher creates a launcher. An empty bin lets rod locate or download Chrome.
func NewRodLauncher(bin string, headless bool, logger *slog.Logger) *RodLauncher {
	return &RodLauncher{bin: bin, headless: headless, logger: logger}
}

// Launch starts a browser process and connects to it. The process lives
// until Close is called or ctx is canceled.
func (r *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	l := launcher.New().Context(ctx).Headless(r.headless)
	if r.bin != "" {
		l = l.Bin(r.bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	r.logger.Info("Browser started", "control_url", controlURL, "headless", r.headless)
	return &rodBrowser{browser: b, launcher: l}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (b *rodBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	err = proto.BrowserGrantPermissions{
		Permissions:      []proto.BrowserPermissionType{proto.BrowserPermissionTypeGeolocation},
		BrowserContextID: incognito.BrowserContextID,
	}.Call(incognito)
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("grant geolocation: %w", err)
	}

	return &rodContext{browser: incognito, opts: opts}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

type rodContext struct {
	browser *rod.Browser
	opts    ContextOptions
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	lat, lng, acc := c.opts.Latitude, c.opts.Longitude, c.opts.Accuracy
	err = proto.EmulationSetGeolocationOverride{
		Latitude:  &lat,
		Longitude: &lng,
		Accuracy:  &acc,
	}.Call(page)
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("set geolocation: %w", err)
	}

	// Rod pages inherit the context of the browser they were created from;
	// detach so per-call deadlines come only from the ctx passed to each method.
	return &rodPage{page: page.Context(context.Background())}, nil
}

// Close disposes the incognito context and every page in it.
func (c *rodContext) Close() error {
	return c.browser.Close()
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) NavigateBack(ctx context.Context) error {
	return p.page.Context(ctx).NavigateBack()
}

func (p *rodPage) WaitVisible(ctx context.Context, t Target) (Element, error) {
	el, err := p.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	if err := el.Context(ctx).WaitVisible(); err != nil {
		return nil, err
	}
	return &rodElement{el: el}, nil
}

func (p *rodPage) WaitHidden(ctx context.Context, t Target) error {
	el, ok, err := p.lookup(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return el.Context(ctx).WaitInvisible()
}

func (p *rodPage) Lookup(ctx context.Context, t Target) (Element, bool, error) {
	el, ok, err := p.lookup(ctx, t)
	if err != nil || !ok {
		return nil, false, err
	}
	return &rodElement{el: el}, true, nil
}

func (p *rodPage) LookupAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// resolve waits for the target to exist.
func (p *rodPage) resolve(ctx context.Context, t Target) (*rod.Element, error) {
	pg := p.page.Context(ctx)
	switch t.Kind {
	case BySelector:
		return pg.Element(t.Selector)
	case ByText:
		return pg.ElementR(scope(t), textPattern(t))
	case ByHandle:
		return unwrap(t.Handle)
	default:
		return nil, fmt.Errorf("unresolvable target %s", t)
	}
}

// lookup checks for the target without waiting.
func (p *rodPage) lookup(ctx context.Context, t Target) (*rod.Element, bool, error) {
	pg := p.page.Context(ctx)
	switch t.Kind {
	case BySelector:
		ok, el, err := pg.Has(t.Selector)
		return el, ok, err
	case ByText:
		ok, el, err := pg.HasR(scope(t), textPattern(t))
		return el, ok, err
	case ByHandle:
		el, err := unwrap(t.Handle)
		return el, err == nil, err
	default:
		return nil, false, fmt.Errorf("unresolvable target %s", t)
	}
}

func scope(t Target) string {
	if t.Selector == "" {
		return "*"
	}
	return t.Selector
}

// textPattern builds the JS regex rod matches against element text.
func textPattern(t Target) string {
	quoted := regexp.QuoteMeta(t.Text)
	if t.Contains {
		return "/" + quoted + "/"
	}
	return `/^\s*` + quoted + `\s*$/`
}

func unwrap(el Element) (*rod.Element, error) {
	re, ok := el.(*rodElement)
	if !ok || re == nil {
		return nil, fmt.Errorf("element handle %T does not belong to this page", el)
	}
	return re.el, nil
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}
