package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"dmv-notifier/pkg/notifier"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog describes the monitored site: where it lives, how its pages are
// recognised, and which categories and locations it offers.
type Catalog struct {
	URL              string              `yaml:"url"`
	TimeZone         string              `yaml:"time_zone"`
	Geolocation      Geolocation         `yaml:"geolocation"`
	Anchors          Anchors             `yaml:"anchors"`
	Selectors        Selectors           `yaml:"selectors"`
	TimePlaceholders []string            `yaml:"time_placeholders"`
	Categories       []notifier.Category `yaml:"categories"`
	Locations        []string            `yaml:"locations"`
}

// Geolocation is granted to every browsing context; the site refuses to
// render location lists without it.
type Geolocation struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy"`
}

// Anchors are texts whose presence identifies the currently rendered page.
type Anchors struct {
	Main        string `yaml:"main"`
	Categories  string `yaml:"categories"`
	Locations   string `yaml:"locations"`
	Calendar    string `yaml:"calendar"`
	ErrorBanner string `yaml:"error_banner"`
}

// Selectors are the CSS selectors for the interactive parts of the site.
type Selectors struct {
	MakeAppointment  string `yaml:"make_appointment"`
	LoadingIndicator string `yaml:"loading_indicator"`
	LocationPanel    string `yaml:"location_panel"`
	Calendar         string `yaml:"calendar"`
	ActiveDay        string `yaml:"active_day"`
	NextMonth        string `yaml:"next_month"`
	MonthHeader      string `yaml:"month_header"`
	YearHeader       string `yaml:"year_header"`
	TimeSelect       string `yaml:"time_select"`
}

// ActiveDays returns the selector for clickable day cells inside the calendar.
func (s Selectors) ActiveDays() string {
	if s.Calendar == "" {
		return s.ActiveDay
	}
	return s.Calendar + " " + s.ActiveDay
}

// LoadCatalog reads a catalog file, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("catalog: url is required"))
	}
	if len(c.Categories) == 0 {
		errs = append(errs, errors.New("catalog: at least one category is required"))
	}
	if len(c.Locations) == 0 {
		errs = append(errs, errors.New("catalog: at least one location is required"))
	}

	keys := make(map[string]bool, len(c.Categories))
	names := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Name == "" || cat.Key == "" {
			errs = append(errs, fmt.Errorf("catalog: category %q needs both name and key", cat.Name+cat.Key))
			continue
		}
		if keys[cat.Key] || names[cat.Name] {
			errs = append(errs, fmt.Errorf("catalog: duplicate category %q", cat.Key))
		}
		keys[cat.Key] = true
		names[cat.Name] = true
	}

	seen := make(map[string]bool, len(c.Locations))
	for _, loc := range c.Locations {
		if seen[loc] {
			errs = append(errs, fmt.Errorf("catalog: duplicate location %q", loc))
		}
		seen[loc] = true
	}

	if c.Anchors.Main == "" || c.Anchors.Categories == "" || c.Anchors.Locations == "" || c.Anchors.Calendar == "" {
		errs = append(errs, errors.New("catalog: all page anchors are required"))
	}
	return errors.Join(errs...)
}
