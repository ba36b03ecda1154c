// Package push delivers Web Push notifications with VAPID authentication.
package push

import (
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Keys are the client keys of a push subscription, base64url encoded.
type Keys = webpush.Keys

// Subscription is the browser PushSubscription as serialised by the client.
type Subscription = webpush.Subscription

// ParseSubscription decodes a JSON push descriptor.
func ParseSubscription(descriptor string) (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal([]byte(descriptor), &sub); err != nil {
		return nil, fmt.Errorf("decode push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, errors.New("push subscription has no endpoint")
	}
	u, err := url.Parse(sub.Endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("push subscription endpoint %q is not an http(s) URL", sub.Endpoint)
	}
	if sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, errors.New("push subscription is missing keys")
	}
	return &sub, nil
}

// checkKeys verifies the client keys can be used for encryption.
func checkKeys(sub *Subscription) error {
	pub, err := decodeBase64(sub.Keys.P256dh)
	if err != nil {
		return fmt.Errorf("decode p256dh: %w", err)
	}
	if _, err := ecdh.P256().NewPublicKey(pub); err != nil {
		return fmt.Errorf("parse p256dh: %w", err)
	}
	auth, err := decodeBase64(sub.Keys.Auth)
	if err != nil {
		return fmt.Errorf("decode auth: %w", err)
	}
	if len(auth) != 16 {
		return fmt.Errorf("auth secret must be 16 bytes, got %d", len(auth))
	}
	return nil
}

// Origin is the scheme and host of an endpoint, or "" if it has none.
func Origin(endpoint string) string {
	return Origin(endpoint)
}

// Push service audiences for the major browser vendors.
const (
	AudienceApple   = "https://web.push.apple.com"
	AudienceGoogle  = "https://fcm.googleapis.com"
	AudienceMozilla = "https://updates.push.services.mozilla.com"
)

// Audience returns the VAPID audience claim for an endpoint. Known vendors
// are matched by domain; anything else uses the endpoint's origin.
func Audience(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "apple.com"):
		return AudienceApple
	case strings.Contains(endpoint, "fcm.googleapis.com"):
		return AudienceGoogle
	case strings.Contains(endpoint, "mozilla.com"):
		return AudienceMozilla
	}
	return Origin(endpoint)
}
