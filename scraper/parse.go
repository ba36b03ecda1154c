// Package scraper reads appointment availability off the rendered calendar.
package scraper

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"dmv-notifier/config"

	"github.com/PuerkitoBio/goquery"
)

// Calendar is what the datepicker currently shows.
type Calendar struct {
	Month       string // Empty when the header could not be read
	Year        string
	ActiveDays  []int // Selectable day numbers in rendering order
	NextEnabled bool
}

// HeaderOK reports whether both month and year were read from the header.
func (c Calendar) HeaderOK() bool {
	return c.Month != "" && c.Year != ""
}

// ParseCalendar reads the datepicker header, active days and next-month control.
func ParseCalendar(html string, sel config.Selectors) (Calendar, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Calendar{}, fmt.Errorf("parse calendar html: %w", err)
	}

	cal := Calendar{
		Month:       strings.TrimSpace(doc.Find(sel.MonthHeader).First().Text()),
		Year:        strings.TrimSpace(doc.Find(sel.YearHeader).First().Text()),
		NextEnabled: doc.Find(sel.NextMonth).Length() > 0,
	}

	var parseErr error
	doc.Find(sel.ActiveDays()).EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		day, err := DayNumber(cell.Find("a").First().Text())
		if err != nil {
			parseErr = err
			return false
		}
		cal.ActiveDays = append(cal.ActiveDays, day)
		return true
	})
	if parseErr != nil {
		return Calendar{}, parseErr
	}
	return cal, nil
}

// ParseTimeOptions returns the option texts of the first element matching
// selector, skipping placeholders.
func ParseTimeOptions(html, selector string, placeholders []string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse time options html: %w", err)
	}

	var times []string
	doc.Find(selector).First().Find("option").Each(func(_ int, opt *goquery.Selection) {
		text := strings.TrimSpace(opt.Text())
		if text == "" || slices.Contains(placeholders, text) {
			return
		}
		times = append(times, text)
	})
	return times, nil
}

// DayNumber parses the text of a day cell.
func DayNumber(text string) (int, error) {
	day, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || day < 1 || day > 31 {
		return 0, fmt.Errorf("invalid day cell %q", text)
	}
	return day, nil
}

// DateLabel formats the key slots are grouped under, e.g. "June 3, 2025".
func DateLabel(month string, day int, year string) string {
	return fmt.Sprintf("%s %d, %s", month, day, year)
}
