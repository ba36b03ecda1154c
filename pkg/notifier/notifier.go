// Package notifier contains the core domain types for the DMV appointment notification service.
package notifier

import "time"

// Category is one appointment type offered by the booking site.
type Category struct {
	Name        string `yaml:"name" json:"name"`               // Display name as rendered on the site
	Key         string `yaml:"key" json:"key"`                 // Stable key used in storage and subscriptions
	Description string `yaml:"description" json:"description"` // Shown by the API catalog
}

// SlotRecord is the list of bookable times found for one day at one location.
type SlotRecord struct {
	CategoryKey string
	Location    string
	DateLabel   string   // "<Month> <Day>, <Year>"
	Times       []string // Time-of-day strings in the order the site lists them
}

// CountSlots returns the total number of times across records.
func CountSlots(records []SlotRecord) int {
	n := 0
	for _, r := range records {
		n += len(r.Times)
	}
	return n
}

// LocationSlotSummary is the per-location aggregate persisted after a category scan.
type LocationSlotSummary struct {
	Location  string `json:"location"`
	SlotCount int    `json:"slot_count"`
}

// SnapshotEntry is the last observed slot count for a (category, location) pair.
type SnapshotEntry struct {
	LastChecked time.Time `json:"last_checked"`
	CategoryKey string    `json:"category"`
	Location    string    `json:"location_name"`
	HasSlots    int       `json:"slots_count"`
}

// Subscription is a user's interest in a set of categories and locations.
type Subscription struct {
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	LastNotificationSent *time.Time `json:"last_notification_sent,omitempty"`
	UserID               string     `json:"user_id"`
	PushSubscription     string     `json:"-"` // JSON-encoded endpoint + keys, opaque to the core
	Categories           []string   `json:"categories"`
	Locations            []string   `json:"locations"`
	DateRangeDays        int        `json:"date_range_days"`
}

// Wants reports whether the subscription covers both the category key and the location.
func (s *Subscription) Wants(categoryKey, location string) bool {
	return contains(s.Categories, categoryKey) && contains(s.Locations, location)
}

// NotificationEvent is a newly observed set of slots for one (category, location).
type NotificationEvent struct {
	Category Category
	Location string
	Records  []SlotRecord
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
