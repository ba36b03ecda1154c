// Package browser defines the remote-controlled browser the monitor drives.
//
// Navigation code depends only on the interfaces here; rod.go provides the
// Chrome DevTools implementation and browsertest an in-memory one.
package browser

import (
	"context"
	"strings"
)

// Kind selects how a Target is resolved on the page.
type Kind int

const (
	KindNone Kind = iota
	BySelector
	ByText
	ByHandle
)

// Target identifies an element: by CSS selector, by visible text, or by an
// element handle resolved earlier.
type Target struct {
	Handle   Element
	Selector string // CSS selector; for ByText it scopes the search
	Text     string
	Kind     Kind
	Contains bool // ByText: substring match instead of exact
}

// Selector targets the first element matching a CSS selector.
func Selector(sel string) Target { return Target{Kind: BySelector, Selector: sel} }

// Text targets the first element whose trimmed visible text equals text.
func Text(text string) Target { return Target{Kind: ByText, Text: text} }

// TextWithin targets the first element matching sel whose text contains text.
func TextWithin(sel, text string) Target {
	return Target{Kind: ByText, Selector: sel, Text: text, Contains: true}
}

// Handle targets an already resolved element.
func Handle(el Element) Target { return Target{Kind: ByHandle, Handle: el} }

// Parse treats strings starting with '#', '.' or '[' as selectors and
// anything else as exact text.
func Parse(s string) Target {
	if strings.HasPrefix(s, "#") || strings.HasPrefix(s, ".") || strings.HasPrefix(s, "[") {
		return Selector(s)
	}
	return Text(s)
}

// IsZero reports whether the target is unset.
func (t Target) IsZero() bool { return t.Kind == KindNone }

func (t Target) String() string {
	switch t.Kind {
	case BySelector:
		return t.Selector
	case ByText:
		if t.Selector != "" {
			return t.Selector + " ~ " + t.Text
		}
		return "text=" + t.Text
	case ByHandle:
		return "<element>"
	default:
		return "<none>"
	}
}

// Element is a resolved node on the page.
type Element interface {
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
}

// Page is a single browser tab. Every method honours ctx for its deadline.
type Page interface {
	Navigate(ctx context.Context, url string) error
	NavigateBack(ctx context.Context) error
	// WaitVisible waits until the target exists and is visible.
	WaitVisible(ctx context.Context, t Target) (Element, error)
	// WaitHidden waits until the target is absent or invisible.
	WaitHidden(ctx context.Context, t Target) error
	// Lookup returns the target if it is on the page right now, without waiting.
	Lookup(ctx context.Context, t Target) (Element, bool, error)
	// LookupAll returns every element currently matching selector.
	LookupAll(ctx context.Context, selector string) ([]Element, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// ContextOptions configure an isolated browsing context.
type ContextOptions struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Context is an isolated browsing context (separate cookies and storage).
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Browser is one launched browser instance.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// Launcher starts browser instances.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// IsVisible reports whether the target is present and visible right now.
func IsVisible(ctx context.Context, p Page, t Target) (bool, error) {
	el, ok, err := p.Lookup(ctx, t)
	if err != nil || !ok {
		return false, err
	}
	return el.Visible(ctx)
}
