package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"dmv-notifier/pkg/notifier"
)

// Title is the headline of every availability notification.
const Title = "🚗 New DMV appointment available!"

const (
	maxTimesPerDate = 2
	maxDates        = 3
)

// ComposeBody renders the notification text for one location. Dates keep
// the order they were extracted in.
func ComposeBody(category, location string, records []notifier.SlotRecord) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, DateLine(r))
	}

	shown := lines
	if len(shown) > maxDates {
		shown = shown[:maxDates]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s\n", category)
	fmt.Fprintf(&b, "📍 %s\n", location)
	b.WriteString("📅 Available slots:\n")
	b.WriteString(strings.Join(shown, "\n"))
	if extra := len(lines) - maxDates; extra > 0 {
		fmt.Fprintf(&b, "\n(+%d more dates)", extra)
	}
	return b.String()
}

// DateLine renders one date, e.g. "June 1: 9:00, 10:00 (+1 more)".
func DateLine(r notifier.SlotRecord) string {
	times := r.Times
	if len(times) > maxTimesPerDate {
		times = times[:maxTimesPerDate]
	}
	line := r.DateLabel + ": " + strings.Join(times, ", ")
	if extra := len(r.Times) - maxTimesPerDate; extra > 0 {
		line += fmt.Sprintf(" (+%d more)", extra)
	}
	return line
}

// Fingerprint identifies a slot set by its dates and times.
func Fingerprint(records []notifier.SlotRecord) string {
	h := sha256.New()
	for _, r := range records {
		fmt.Fprintf(h, "%s|%s\n", r.DateLabel, strings.Join(r.Times, ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}
