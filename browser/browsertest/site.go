// Package browsertest provides an in-memory appointment site that implements
// the browser interfaces, so navigation code can be tested without Chrome.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"

	"dmv-notifier/browser"
	"dmv-notifier/config"
)

// State is the page the simulated site is currently rendering.
type State int

const (
	StateBlank State = iota
	StateMain
	StateCategories
	StateLocations
	StateCalendar
	StateError
)

func (s State) String() string {
	return [...]string{"blank", "main", "categories", "locations", "calendar", "error"}[s]
}

// Day is one calendar day. A day with no times is still rendered as
// selectable, mirroring the site when every slot was taken after rendering.
type Day struct {
	Number int
	Times  []string
}

// Month is one rendered calendar month. An empty Name renders no header.
type Month struct {
	Name string
	Year int
	Days []Day
}

// Click labels passed to OnClick.
const (
	LabelMakeAppointment = "make_appointment"
	LabelNextMonth       = "next_month"
)

// DayLabel is the OnClick label for a calendar day.
func DayLabel(n int) string { return "day:" + strconv.Itoa(n) }

var errNotRendered = errors.New("element not rendered")

// Site is a scripted version of the appointment site. Configure it before
// handing out pages; the counters are safe to read after the test run.
type Site struct {
	mu sync.Mutex

	catalog   *config.Catalog
	offices   map[string][]string          // category name -> rendered locations
	calendars map[string]map[string][]Month // category name -> location -> months
	failing   map[string]map[string]bool    // category name -> location -> error page

	// OnClick runs before every click with the element label; a non-nil error
	// fails the click without changing the page.
	OnClick func(label string) error
	// StaleClicks makes clicks succeed without changing the page.
	StaleClicks map[string]bool
	// BackBroken makes browser back navigation a no-op.
	BackBroken bool
	// NavigateErr fails every Navigate call.
	NavigateErr error
	// StuckIndicator keeps the loading indicator visible forever.
	StuckIndicator bool

	state      State
	history    []State
	generation int
	category   string
	location   string
	monthIdx   int
	selected   int // selected day number, 0 when none

	clicks      int
	screenshots int
	navigations int
	clickLog    []string
}

// New creates a site that recognises pages by the catalog's anchors and selectors.
func New(catalog *config.Catalog) *Site {
	return &Site{
		catalog:   catalog,
		offices:   make(map[string][]string),
		calendars: make(map[string]map[string][]Month),
		failing:   make(map[string]map[string]bool),
	}
}

// SetOffices sets the locations rendered for a category, in page order.
func (s *Site) SetOffices(category string, locations ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offices[category] = locations
}

// SetCalendar sets the months rendered after clicking a location.
func (s *Site) SetCalendar(category, location string, months ...Month) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calendars[category] == nil {
		s.calendars[category] = make(map[string][]Month)
	}
	s.calendars[category][location] = months
}

// FailLocation makes clicking the location render the site error page.
func (s *Site) FailLocation(category, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[category] == nil {
		s.failing[category] = make(map[string]bool)
	}
	s.failing[category][location] = true
}

// Page returns a tab on the site. All pages share the site's state.
func (s *Site) Page() browser.Page { return &page{site: s} }

// Clicks is the number of clicks that reached the page.
func (s *Site) Clicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks
}

// ClickLog lists the labels of every click that reached the page.
func (s *Site) ClickLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clickLog...)
}

// Screenshots is the number of screenshots taken.
func (s *Site) Screenshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshots
}

// Navigations is the number of Navigate calls.
func (s *Site) Navigations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigations
}

// State returns the page currently rendered.
func (s *Site) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset returns the site to a blank tab.
func (s *Site) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(StateBlank)
	s.history = nil
}

func (s *Site) transition(next State) {
	s.state = next
	s.generation++
	if next != StateCalendar {
		s.monthIdx = 0
		s.selected = 0
	}
}

func (s *Site) push(next State) {
	s.history = append(s.history, s.state)
	s.transition(next)
}

func (s *Site) months() []Month {
	return s.calendars[s.category][s.location]
}

func (s *Site) currentMonth() (Month, bool) {
	months := s.months()
	if s.monthIdx >= len(months) {
		return Month{}, false
	}
	return months[s.monthIdx], true
}

// element is a node the simulator can render.
type element struct {
	site       *Site
	label      string
	text       string
	generation int
	click      func() // page transition, run with the lock held
}

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := e.site
	if s.OnClick != nil {
		if err := s.OnClick(e.label); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.generation != s.generation {
		return fmt.Errorf("click %s: element is detached from the page", e.label)
	}
	s.clicks++
	s.clickLog = append(s.clickLog, e.label)
	if s.StaleClicks[e.label] || e.click == nil {
		return nil
	}
	e.click()
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.text, ctx.Err()
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.site.mu.Lock()
	defer e.site.mu.Unlock()
	return e.generation == e.site.generation, nil
}

// rendered lists every addressable element on the current page.
// Callers hold the lock.
func (s *Site) rendered() []*element {
	anchors := s.catalog.Anchors
	el := func(label, text string, click func()) *element {
		return &element{site: s, label: label, text: text, generation: s.generation, click: click}
	}

	var out []*element
	switch s.state {
	case StateMain:
		out = append(out,
			el("anchor", anchors.Main, nil),
			el(LabelMakeAppointment, "Make an Appointment", func() { s.push(StateCategories) }))
	case StateCategories:
		out = append(out, el("anchor", anchors.Categories, nil))
		for _, cat := range s.catalog.Categories {
			name := cat.Name
			out = append(out, el(name, name, func() {
				s.category = name
				s.push(StateLocations)
			}))
		}
	case StateLocations:
		out = append(out, el("anchor", anchors.Locations, nil))
		for _, loc := range s.offices[s.category] {
			name := loc
			out = append(out, el(name, name+"\nOpen today", func() {
				s.location = name
				if s.failing[s.category][name] {
					s.push(StateError)
					return
				}
				s.push(StateCalendar)
			}))
		}
	case StateCalendar:
		out = append(out, el("anchor", anchors.Calendar, nil))
		if m, ok := s.currentMonth(); ok {
			for _, d := range m.Days {
				n := d.Number
				out = append(out, el(DayLabel(n), strconv.Itoa(n), func() { s.selected = n }))
			}
		}
		if s.monthIdx+1 < len(s.months()) {
			out = append(out, el(LabelNextMonth, "Next", func() {
				s.monthIdx++
				s.selected = 0
				s.generation++
			}))
		}
	case StateError:
		out = append(out, el("anchor", anchors.ErrorBanner+". Please try again later.", nil))
	}
	return out
}

// resolve finds the first element matching the target. Callers hold the lock.
func (s *Site) resolve(t browser.Target) (*element, bool) {
	sel := s.catalog.Selectors
	els := s.rendered()
	switch t.Kind {
	case browser.BySelector:
		switch t.Selector {
		case sel.MakeAppointment:
			return find(els, func(e *element) bool { return e.label == LabelMakeAppointment })
		case sel.NextMonth:
			return find(els, func(e *element) bool { return e.label == LabelNextMonth })
		case sel.ActiveDays(), sel.ActiveDay:
			return find(els, func(e *element) bool { return strings.HasPrefix(e.label, "day:") })
		case sel.Calendar:
			if s.state == StateCalendar {
				return &element{site: s, label: "calendar", generation: s.generation}, true
			}
		case sel.LoadingIndicator:
			if s.StuckIndicator {
				return &element{site: s, label: "indicator", generation: s.generation}, true
			}
		}
		return nil, false
	case browser.ByText:
		if t.Selector == sel.LocationPanel && s.state == StateLocations {
			return find(els, func(e *element) bool {
				return e.label != "anchor" && strings.Contains(e.text, t.Text)
			})
		}
		if t.Selector != "" {
			return nil, false
		}
		return find(els, func(e *element) bool {
			if t.Contains {
				return strings.Contains(e.text, t.Text)
			}
			return strings.TrimSpace(e.text) == t.Text
		})
	case browser.ByHandle:
		e, ok := t.Handle.(*element)
		if !ok || e.generation != s.generation {
			return nil, false
		}
		return e, true
	}
	return nil, false
}

func find(els []*element, match func(*element) bool) (*element, bool) {
	for _, e := range els {
		if match(e) {
			return e, true
		}
	}
	return nil, false
}

// html renders the markup the page readers parse. Callers hold the lock.
func (s *Site) html() string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, e := range s.rendered() {
		if e.label == "anchor" {
			fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(e.text))
		}
	}
	if s.state == StateCalendar {
		s.renderCalendar(&b)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func (s *Site) renderCalendar(b *strings.Builder) {
	m, _ := s.currentMonth()
	b.WriteString(`<div class="ui-datepicker-inline ui-datepicker ui-widget ui-widget-content">`)
	b.WriteString(`<div class="ui-datepicker-header">`)
	next := `ui-datepicker-next ui-corner-all ui-state-disabled`
	if s.monthIdx+1 < len(s.months()) {
		next = `ui-datepicker-next ui-corner-all`
	}
	fmt.Fprintf(b, `<a class="%s" data-handler="next" title="Next"><span>Next</span></a>`, next)
	if m.Name != "" {
		fmt.Fprintf(b, `<div class="ui-datepicker-title"><span class="ui-datepicker-month">%s</span>&nbsp;<span class="ui-datepicker-year">%d</span></div>`,
			html.EscapeString(m.Name), m.Year)
	}
	b.WriteString(`</div><table class="ui-datepicker-calendar"><tbody><tr>`)
	b.WriteString(`<td class="ui-datepicker-unselectable ui-state-disabled"><span class="ui-state-default">1</span></td>`)
	for _, d := range m.Days {
		fmt.Fprintf(b, `<td data-handler="selectDay" data-event="click" data-month="%d"><a class="ui-state-default" href="#">%d</a></td>`, s.monthIdx, d.Number)
	}
	b.WriteString(`</tr></tbody></table></div>`)

	b.WriteString(`<select id="time-select"><option value="">-</option>`)
	for _, d := range m.Days {
		if d.Number != s.selected {
			continue
		}
		for _, t := range d.Times {
			fmt.Fprintf(b, `<option value="%s">%s</option>`, html.EscapeString(t), html.EscapeString(t))
		}
	}
	b.WriteString(`</select>`)
}

type page struct {
	site *Site
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations++
	if s.NavigateErr != nil {
		return s.NavigateErr
	}
	if url != s.catalog.URL {
		return fmt.Errorf("navigate %s: unknown url", url)
	}
	s.history = nil
	s.transition(StateMain)
	return nil
}

func (p *page) NavigateBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BackBroken || len(s.history) == 0 {
		return nil
	}
	prev := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.transition(prev)
	return nil
}

func (p *page) WaitVisible(ctx context.Context, t browser.Target) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.resolve(t); ok {
		return e, nil
	}
	// Nothing changes while waiting, so a missing element is a timeout.
	return nil, fmt.Errorf("wait for %s on %s page: %w", t, s.state, context.DeadlineExceeded)
}

func (p *page) WaitHidden(ctx context.Context, t browser.Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resolve(t); ok {
		return fmt.Errorf("wait for %s to hide: %w", t, context.DeadlineExceeded)
	}
	return nil
}

func (p *page) Lookup(ctx context.Context, t browser.Target) (browser.Element, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.resolve(t)
	if !ok {
		return nil, false, nil
	}
	return e, true, nil
}

func (p *page) LookupAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.catalog.Selectors
	if selector != sel.ActiveDays() && selector != sel.ActiveDay {
		return nil, fmt.Errorf("lookup %s: %w", selector, errNotRendered)
	}
	var out []browser.Element
	for _, e := range s.rendered() {
		if strings.HasPrefix(e.label, "day:") {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html(), nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots++
	return []byte("\x89PNG\r\n\x1a\n" + s.state.String()), nil
}
