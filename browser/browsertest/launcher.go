package browsertest

import (
	"context"
	"sync"

	"dmv-notifier/browser"
)

// Launcher hands out browsers backed by one Site.
type Launcher struct {
	Site *Site
	// LaunchErr, when set, is returned for the first FailLaunches launches.
	LaunchErr    error
	FailLaunches int
	// OnLaunch runs after every successful launch.
	OnLaunch func(n int)

	mu             sync.Mutex
	launches       int
	contexts       int
	closedContexts int
	closedBrowsers int
	lastOptions    browser.ContextOptions
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.launches++
	n := l.launches
	fail := l.LaunchErr != nil && n <= l.FailLaunches
	l.mu.Unlock()

	if fail {
		return nil, l.LaunchErr
	}
	if l.OnLaunch != nil {
		l.OnLaunch(n)
	}
	return &fakeBrowser{l: l}, nil
}

// Launches counts Launch calls, failed ones included.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Contexts counts browsing contexts created.
func (l *Launcher) Contexts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contexts
}

// ClosedContexts counts browsing contexts closed.
func (l *Launcher) ClosedContexts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closedContexts
}

// ClosedBrowsers counts browsers closed.
func (l *Launcher) ClosedBrowsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closedBrowsers
}

// LastOptions returns the options of the most recent context.
func (l *Launcher) LastOptions() browser.ContextOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastOptions
}

type fakeBrowser struct {
	l *Launcher
}

func (b *fakeBrowser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	b.l.contexts++
	b.l.lastOptions = opts
	return &fakeContext{l: b.l}, nil
}

func (b *fakeBrowser) Close() error {
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	b.l.closedBrowsers++
	return nil
}

type fakeContext struct {
	l *Launcher
}

func (c *fakeContext) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.l.Site.Reset()
	return c.l.Site.Page(), nil
}

func (c *fakeContext) Close() error {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	c.l.closedContexts++
	return nil
}
