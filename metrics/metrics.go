// Package metrics holds the monitor's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dmv_monitor"

var (
	// CyclesTotal counts scan cycles by result (ok, error).
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Full category scans finished, by result.",
		},
		[]string{"result"},
	)

	// BrowserSessionsTotal counts browser lifetimes by how they ended.
	BrowserSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_sessions_total",
			Help:      "Browser sessions ended, by reason (recycled, failed, launch_failed, canceled).",
		},
		[]string{"reason"},
	)

	// CategoryScansTotal counts category scans by result (ok, recovered).
	CategoryScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_scans_total",
			Help:      "Category scans, by result.",
		},
		[]string{"result"},
	)

	// LocationsScannedTotal counts location visits by outcome.
	LocationsScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_scanned_total",
			Help:      "Locations visited, by outcome (slots, empty, site_error, failed).",
		},
		[]string{"outcome"},
	)

	// AvailableSlots is the last observed slot count per category and location.
	AvailableSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_slots",
			Help:      "Bookable times seen in the last scan.",
		},
		[]string{"category", "location"},
	)

	// PushSendsTotal counts push deliveries by result (sent, failed, gone, suppressed).
	PushSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_sends_total",
			Help:      "Push notification deliveries, by result.",
		},
		[]string{"result"},
	)

	// SubscriptionsPurgedTotal counts subscriptions removed for age.
	SubscriptionsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_purged_total",
			Help:      "Subscriptions deleted because they exceeded the maximum age.",
		},
	)

	// ScreenshotsTotal counts diagnostic screenshots by result (saved, failed).
	ScreenshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_total",
			Help:      "Diagnostic screenshots, by result.",
		},
		[]string{"result"},
	)
)
