package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/codeGROOVE-dev/retry"
)

// EndpointGoneError means the push service no longer knows the
// subscription (HTTP 404 or 410). The subscription should be dropped.
type EndpointGoneError struct {
	Endpoint   string
	StatusCode int
}

func (e *EndpointGoneError) Error() string {
	return fmt.Sprintf("push endpoint gone (HTTP %d): %s", e.StatusCode, e.Endpoint)
}

// IsEndpointGone checks if an error reports a dead subscription.
func IsEndpointGone(err error) bool {
	var gone *EndpointGoneError
	return errors.As(err, &gone)
}

// DeliveryError is any other non-success response from a push service.
type DeliveryError struct {
	Endpoint   string
	Body       string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push delivery failed (HTTP %d): %s", e.StatusCode, e.Body)
}

// Transient reports whether the push service asked us to try again later.
func (e *DeliveryError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Message is the visible part of a notification.
type Message struct {
	Title string
	Body  string
	URL   string // Opened when the notification is clicked
}

type notificationData struct {
	URL string `json:"url"`
}

type notificationPayload struct {
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	Icon               string           `json:"icon"`
	Badge              string           `json:"badge"`
	Tag                string           `json:"tag"`
	Data               notificationData `json:"data"`
	RequireInteraction bool             `json:"requireInteraction"`
}

const (
	notificationIcon = "/icon-192.png"
	notificationTag  = "dmv-appointment"
)

// Sender delivers push messages signed with one VAPID key.
type Sender struct {
	client     *http.Client
	logger     *slog.Logger
	privateKey string
	publicKey  string
	subscriber string
	ttl        time.Duration
	attempts   uint
	retryDelay time.Duration
}

// NewSender creates a sender. subject is the VAPID contact, a mailto: or
// https: URL.
func NewSender(client *http.Client, privateKey, subject string, ttl time.Duration, logger *slog.Logger) (*Sender, error) {
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, errors.New("vapid subject is required")
	}
	pub, err := PublicKey(key)
	if err != nil {
		return nil, err
	}
	raw, err := rawPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &Sender{
		client:     client,
		logger:     logger,
		privateKey: raw,
		publicKey:  pub,
		// webpush-go adds the mailto: scheme itself.
		subscriber: strings.TrimPrefix(subject, "mailto:"),
		ttl:        ttl,
		attempts:   3,
		retryDelay: time.Second,
	}, nil
}

// Send encrypts msg for the subscription in descriptor and posts it to the
// push service. Rate limits and server errors are retried; 404 and 410
// return *EndpointGoneError.
//
// The signed aud claim is always the endpoint origin. audience is the value
// the caller expects; a mismatch is logged.
func (s *Sender) Send(ctx context.Context, descriptor string, msg Message, audience string) error {
	sub, err := ParseSubscription(descriptor)
	if err != nil {
		return err
	}
	if err := checkKeys(sub); err != nil {
		return err
	}
	origin := Origin(sub.Endpoint)
	if audience == "" {
		audience = origin
	} else if audience != origin {
		s.logger.Debug("Push audience differs from endpoint origin", "audience", audience, "origin", origin)
	}

	payload, err := json.Marshal(notificationPayload{
		Title:              msg.Title,
		Body:               msg.Body,
		Icon:               notificationIcon,
		Badge:              notificationIcon,
		Tag:                notificationTag,
		RequireInteraction: true,
		Data:               notificationData{URL: msg.URL},
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	// The last attempt's error is returned as is so callers can match on it.
	var lastErr error
	err = retry.Do(
		func() error {
			lastErr = s.post(ctx, sub, payload)
			return lastErr
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying push delivery after error", "attempt", n, "audience", audience, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			if IsEndpointGone(err) {
				return false
			}
			var delivery *DeliveryError
			if errors.As(err, &delivery) {
				return delivery.Transient()
			}
			return true
		}),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

func (s *Sender) post(ctx context.Context, sub *Subscription, payload []byte) error {
	start := time.Now()
	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		TTL:             int(s.ttl.Seconds()),
		Urgency:         webpush.UrgencyHigh,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
	})
	if err != nil {
		return fmt.Errorf("post to push service: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Debug("Push service responded", "status_code", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &EndpointGoneError{Endpoint: sub.Endpoint, StatusCode: resp.StatusCode}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{Endpoint: sub.Endpoint, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
}
