// Package notify matches newly observed slots against subscriptions and
// sends push notifications to the subscribers who asked for them.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"dmv-notifier/config"
	"dmv-notifier/metrics"
	"dmv-notifier/pkg/notifier"
	"dmv-notifier/push"
)

// SubscriptionStore is the part of storage the dispatcher reads and updates.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]*notifier.Subscription, error)
	MarkNotified(ctx context.Context, userID string) error
}

// Sender delivers one push message to one descriptor.
type Sender interface {
	Send(ctx context.Context, descriptor string, msg push.Message, audience string) error
}

// Dispatcher fans one availability event out to matching subscribers, one
// send at a time.
type Dispatcher struct {
	cfg    *config.Config
	store  SubscriptionStore
	sender Sender
	ledger Ledger
	logger *slog.Logger
}

// New creates a dispatcher. A nil ledger disables duplicate suppression.
func New(cfg *config.Config, store SubscriptionStore, sender Sender, ledger Ledger, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		store:  store,
		sender: sender,
		ledger: ledger,
		logger: logger,
	}
}

// Notify sends the slots found at location to every subscription wanting the
// category and location. It returns the number of successful sends.
func (d *Dispatcher) Notify(ctx context.Context, category, location string, records []notifier.SlotRecord) (int, error) {
	key, ok := d.cfg.CategoryKey(category)
	if !ok {
		d.logger.Warn("Unknown category, skipping notifications", "category", category, "location", location)
		return 0, nil
	}

	if len(records) == 0 {
		if d.ledger != nil {
			if err := d.ledger.Reset(ctx, key, location); err != nil {
				d.logger.Warn("Failed to reset dedupe ledger", "category", key, "location", location, "error", err)
			}
		}
		return 0, nil
	}

	subs, err := d.store.ListSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	msg := push.Message{
		Title: Title,
		Body:  ComposeBody(category, location, records),
		URL:   d.cfg.NotificationURL,
	}
	fingerprint := Fingerprint(records)

	sent := 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !sub.Wants(key, location) {
			continue
		}
		if sub.PushSubscription == "" {
			d.logger.Warn("Subscription has no push descriptor", "user_id", sub.UserID)
			continue
		}
		desc, err := push.ParseSubscription(sub.PushSubscription)
		if err != nil {
			d.logger.Warn("Skipping malformed subscription", "user_id", sub.UserID, "error", err)
			continue
		}

		if d.suppressed(ctx, key, location, sub.UserID, fingerprint) {
			d.logger.Debug("Slots unchanged since last notification", "user_id", sub.UserID, "category", key, "location", location)
			metrics.PushSendsTotal.WithLabelValues("suppressed").Inc()
			continue
		}

		audience := push.Audience(desc.Endpoint)
		if err := d.send(ctx, sub.PushSubscription, msg, audience); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			if push.IsEndpointGone(err) {
				d.logger.Warn("Push subscription is gone", "user_id", sub.UserID, "audience", audience, "error", err)
				metrics.PushSendsTotal.WithLabelValues("gone").Inc()
				continue
			}
			d.logger.Warn("Failed to send notification", "user_id", sub.UserID, "audience", audience, "error", err)
			metrics.PushSendsTotal.WithLabelValues("failed").Inc()
			continue
		}

		sent++
		metrics.PushSendsTotal.WithLabelValues("sent").Inc()
		d.logger.Info("Notification sent", "user_id", sub.UserID, "category", key, "location", location, "audience", audience)

		if err := d.store.MarkNotified(ctx, sub.UserID); err != nil {
			d.logger.Warn("Failed to record notification time", "user_id", sub.UserID, "error", err)
		}
		if d.ledger != nil {
			if err := d.ledger.Remember(ctx, key, location, sub.UserID, fingerprint); err != nil {
				d.logger.Warn("Failed to update dedupe ledger", "user_id", sub.UserID, "error", err)
			}
		}
	}

	if sent > 0 {
		d.logger.Info("Notifications dispatched", "category", key, "location", location, "sent", sent, "slots", notifier.CountSlots(records))
	}
	return sent, nil
}

func (d *Dispatcher) suppressed(ctx context.Context, key, location, userID, fingerprint string) bool {
	if d.ledger == nil {
		return false
	}
	seen, err := d.ledger.Seen(ctx, key, location, userID, fingerprint)
	if err != nil {
		d.logger.Warn("Dedupe ledger unavailable, sending anyway", "user_id", userID, "error", err)
		return false
	}
	return seen
}

// send runs one delivery on its own goroutine and waits for it.
func (d *Dispatcher) send(ctx context.Context, descriptor string, msg push.Message, audience string) error {
	done := make(chan error, 1)
	go func() {
		done <- d.sender.Send(ctx, descriptor, msg, audience)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
