// Package config assembles the monitor configuration from the site catalog
// and DMV_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // target time zone must resolve inside minimal containers

	"dmv-notifier/pkg/notifier"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds runtime tunables parsed from the environment.
type Settings struct {
	CatalogFile string `envconfig:"CATALOG_FILE"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Page primitives
	IndicatorAppearTimeout    time.Duration `envconfig:"INDICATOR_APPEAR_TIMEOUT" default:"1s"`
	IndicatorDisappearTimeout time.Duration `envconfig:"INDICATOR_DISAPPEAR_TIMEOUT" default:"20s"`
	ClickTimeout              time.Duration `envconfig:"CLICK_TIMEOUT" default:"15s"`        // target must become visible
	ClickActionTimeout        time.Duration `envconfig:"CLICK_ACTION_TIMEOUT" default:"5s"`  // the click itself
	ExpectedStateTimeout      time.Duration `envconfig:"EXPECTED_STATE_TIMEOUT" default:"5s"`
	PreCheckTimeout           time.Duration `envconfig:"PRECHECK_TIMEOUT" default:"3s"`
	BackTimeout               time.Duration `envconfig:"BACK_TIMEOUT" default:"15s"`
	NavigationTimeout         time.Duration `envconfig:"NAVIGATION_TIMEOUT" default:"60s"`
	LandingTimeout            time.Duration `envconfig:"LANDING_TIMEOUT" default:"15s"`
	ScreenshotTimeout         time.Duration `envconfig:"SCREENSHOT_TIMEOUT" default:"5s"`
	MaxClickAttempts          int           `envconfig:"MAX_CLICK_ATTEMPTS" default:"3"`
	ClickRetryDelay           time.Duration `envconfig:"CLICK_RETRY_DELAY" default:"500ms"`
	ClickRetryJitter          time.Duration `envconfig:"CLICK_RETRY_JITTER" default:"250ms"`

	// Session supervision
	MaxCyclesBeforeRestart int           `envconfig:"MAX_CYCLES_BEFORE_RESTART" default:"2"`
	CyclePause             time.Duration `envconfig:"CYCLE_PAUSE" default:"2s"`
	RelaunchDelay          time.Duration `envconfig:"RELAUNCH_DELAY" default:"5s"`
	Headless               bool          `envconfig:"HEADLESS" default:"true"`
	BrowserBin             string        `envconfig:"BROWSER_BIN"`

	// Subscriptions and notifications
	SubscriptionMaxAge time.Duration `envconfig:"SUBSCRIPTION_MAX_AGE" default:"72h"`
	NotificationURL    string        `envconfig:"NOTIFICATION_URL"`
	VAPIDPrivateKey    string        `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubject       string        `envconfig:"VAPID_SUBJECT"`
	PushTTL            time.Duration `envconfig:"PUSH_TTL" default:"12h"`
	DedupeTTL          time.Duration `envconfig:"DEDUPE_TTL" default:"6h"`
	DedupeMaxEntries   int           `envconfig:"DEDUPE_MAX_ENTRIES" default:"50000"`
	RedisAddr          string        `envconfig:"REDIS_ADDR"`
	RedisPassword      string        `envconfig:"REDIS_PASSWORD"`
	RedisDB            int           `envconfig:"REDIS_DB" default:"0"`

	// Storage and diagnostics
	DatabasePath        string        `envconfig:"DATABASE_PATH" default:"./shared/data/dmv_monitor.db"`
	ScreenshotDir       string        `envconfig:"SCREENSHOT_DIR" default:"./shared/logs/screenshots"`
	ScreenshotBucket    string        `envconfig:"SCREENSHOT_BUCKET"`
	ScreenshotRetention time.Duration `envconfig:"SCREENSHOT_RETENTION" default:"168h"`
	ScreenshotsEnabled  bool          `envconfig:"SCREENSHOTS_ENABLED" default:"true"`
	GoogleCredentials   string        `envconfig:"GOOGLE_CREDENTIALS_JSON"`

	OpsAddr string `envconfig:"OPS_ADDR" default:":9090"`
}

// DefaultSettings returns the settings Load produces with an empty environment.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:                  "info",
		LogFormat:                 "json",
		IndicatorAppearTimeout:    time.Second,
		IndicatorDisappearTimeout: 20 * time.Second,
		ClickTimeout:              15 * time.Second,
		ClickActionTimeout:        5 * time.Second,
		ExpectedStateTimeout:      5 * time.Second,
		PreCheckTimeout:           3 * time.Second,
		BackTimeout:               15 * time.Second,
		NavigationTimeout:         60 * time.Second,
		LandingTimeout:            15 * time.Second,
		ScreenshotTimeout:         5 * time.Second,
		MaxClickAttempts:          3,
		ClickRetryDelay:           500 * time.Millisecond,
		ClickRetryJitter:          250 * time.Millisecond,
		MaxCyclesBeforeRestart:    2,
		CyclePause:                2 * time.Second,
		RelaunchDelay:             5 * time.Second,
		Headless:                  true,
		SubscriptionMaxAge:        72 * time.Hour,
		PushTTL:                   12 * time.Hour,
		DedupeTTL:                 6 * time.Hour,
		DedupeMaxEntries:          50000,
		DatabasePath:              "./shared/data/dmv_monitor.db",
		ScreenshotDir:             "./shared/logs/screenshots",
		ScreenshotRetention:       168 * time.Hour,
		ScreenshotsEnabled:        true,
		OpsAddr:                   ":9090",
	}
}

// Config is the process-wide monitor configuration. It is read-only once built.
type Config struct {
	*Catalog
	Settings

	location *time.Location
}

// Load builds the configuration from the environment.
func Load() (*Config, error) {
	var s Settings
	if err := envconfig.Process("DMV", &s); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	catalog, err := LoadCatalog(s.CatalogFile)
	if err != nil {
		return nil, err
	}
	return New(catalog, s)
}

// New combines a catalog with settings and validates the result.
func New(catalog *Catalog, s Settings) (*Config, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(catalog.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", catalog.TimeZone, err)
	}
	if s.NotificationURL == "" {
		s.NotificationURL = catalog.URL
	}
	return &Config{Catalog: catalog, Settings: s, location: loc}, nil
}

func (s Settings) validate() error {
	durations := map[string]time.Duration{
		"INDICATOR_APPEAR_TIMEOUT":    s.IndicatorAppearTimeout,
		"INDICATOR_DISAPPEAR_TIMEOUT": s.IndicatorDisappearTimeout,
		"CLICK_TIMEOUT":               s.ClickTimeout,
		"CLICK_ACTION_TIMEOUT":        s.ClickActionTimeout,
		"EXPECTED_STATE_TIMEOUT":      s.ExpectedStateTimeout,
		"PRECHECK_TIMEOUT":            s.PreCheckTimeout,
		"BACK_TIMEOUT":                s.BackTimeout,
		"NAVIGATION_TIMEOUT":          s.NavigationTimeout,
		"LANDING_TIMEOUT":             s.LandingTimeout,
		"SCREENSHOT_TIMEOUT":          s.ScreenshotTimeout,
		"SUBSCRIPTION_MAX_AGE":        s.SubscriptionMaxAge,
	}
	var errs []error
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("DMV_%s must be > 0, got %v", name, d))
		}
	}
	if s.MaxClickAttempts < 1 {
		errs = append(errs, fmt.Errorf("DMV_MAX_CLICK_ATTEMPTS must be >= 1, got %d", s.MaxClickAttempts))
	}
	if s.DedupeMaxEntries < 1 {
		errs = append(errs, fmt.Errorf("DMV_DEDUPE_MAX_ENTRIES must be >= 1, got %d", s.DedupeMaxEntries))
	}
	if s.MaxCyclesBeforeRestart < 1 {
		errs = append(errs, fmt.Errorf("DMV_MAX_CYCLES_BEFORE_RESTART must be >= 1, got %d", s.MaxCyclesBeforeRestart))
	}
	if s.CyclePause < 0 || s.RelaunchDelay < 0 || s.DedupeTTL < 0 {
		errs = append(errs, errors.New("pause, relaunch delay and dedupe TTL must not be negative"))
	}
	return errors.Join(errs...)
}

// Location is the target region's time zone.
func (c *Config) Location() *time.Location {
	return c.location
}

// CategoryKey maps a display name to its stable key.
func (c *Config) CategoryKey(name string) (string, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat.Key, true
		}
	}
	return "", false
}

// CategoryByKey finds a category by its stable key.
func (c *Config) CategoryByKey(key string) (notifier.Category, bool) {
	for _, cat := range c.Categories {
		if cat.Key == key {
			return cat, true
		}
	}
	return notifier.Category{}, false
}
