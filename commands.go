package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"dmv-notifier/pkg/notifier"
	"dmv-notifier/push"
	"dmv-notifier/storage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the last observed slot counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		withSlots, _ := cmd.Flags().GetBool("with-slots")

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		store, err := storage.Open(cmd.Context(), cfg.DatabasePath, cfg.Location(), logger)
		if err != nil {
			return err
		}
		defer store.Close()

		var entries []notifier.SnapshotEntry
		if withSlots {
			entries, err = store.ReadLocationsWithSlots(cmd.Context())
		} else {
			entries, err = store.ReadSnapshot(cmd.Context())
		}
		if err != nil {
			return err
		}
		renderSnapshot(os.Stdout, entries, cfg.Location())
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete subscriptions older than the maximum age",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		if maxAge <= 0 {
			maxAge = cfg.SubscriptionMaxAge
		}

		store, err := storage.Open(cmd.Context(), cfg.DatabasePath, cfg.Location(), logger)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PurgeSubscriptionsOlderThan(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Removed %d subscriptions older than %s\n", n, maxAge)
		return nil
	},
}

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "List stored subscriptions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		store, err := storage.Open(cmd.Context(), cfg.DatabasePath, cfg.Location(), logger)
		if err != nil {
			return err
		}
		defer store.Close()

		subs, err := store.ListSubscriptions(cmd.Context())
		if err != nil {
			return err
		}
		renderSubscriptions(os.Stdout, subs, cfg.Location())
		return nil
	},
}

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for Web Push",
	RunE: func(_ *cobra.Command, _ []string) error {
		priv, pub, err := push.GenerateKeys()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "DMV_VAPID_PRIVATE_KEY=%s\n", priv)
		fmt.Fprintf(os.Stdout, "VAPID public key (applicationServerKey): %s\n", pub)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().Bool("with-slots", false, "Only show locations with open slots")
	purgeCmd.Flags().Duration("max-age", 0, "Maximum subscription age (defaults to DMV_SUBSCRIPTION_MAX_AGE)")
}

const timeFormat = "2006-01-02 15:04"

func renderSnapshot(w io.Writer, entries []notifier.SnapshotEntry, loc *time.Location) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Location", "Category", "Slots", "Last checked"})
	total := 0
	for _, e := range entries {
		t.AppendRow(table.Row{e.Location, e.CategoryKey, e.HasSlots, e.LastChecked.In(loc).Format(timeFormat)})
		total += e.HasSlots
	}
	t.AppendFooter(table.Row{"", "Total", total, ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func renderSubscriptions(w io.Writer, subs []*notifier.Subscription, loc *time.Location) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"User", "Categories", "Locations", "Created", "Last notified"})
	for _, s := range subs {
		last := "never"
		if s.LastNotificationSent != nil {
			last = s.LastNotificationSent.In(loc).Format(timeFormat)
		}
		t.AppendRow(table.Row{
			s.UserID,
			strings.Join(s.Categories, ", "),
			strings.Join(s.Locations, ", "),
			s.CreatedAt.In(loc).Format(timeFormat),
			last,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
