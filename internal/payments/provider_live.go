package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const liveProviderName = "live"

// LiveProvider talks to the external payment service. Checkout sessions are
// referenced by a generated id the provider echoes back in its callbacks;
// callbacks are authenticated with an HMAC-SHA256 over the raw body.
type LiveProvider struct {
	webhookSecret []byte
	checkoutBase  string
}

// NewLiveProvider wires a LiveProvider. An empty secret switches webhook
// verification into development mode: callbacks are accepted but flagged
// unverified.
func NewLiveProvider(webhookSecret string, checkoutBase string) *LiveProvider {
	return &LiveProvider{
		webhookSecret: []byte(strings.TrimSpace(webhookSecret)),
		checkoutBase:  strings.TrimRight(checkoutBase, "/"),
	}
}

// Name identifies the provider variant.
func (provider *LiveProvider) Name() string {
	return liveProviderName
}

// CreateCheckout issues a provider reference for a pending purchase. The
// purchase stays pending until the provider confirms via webhook.
func (provider *LiveProvider) CreateCheckout(_ context.Context, userID int64, creditPackage int64, amountCents int64) (ProviderCheckout, error) {
	reference := uuid.NewString()
	redirectURL := ""
	if provider.checkoutBase != "" {
		redirectURL = fmt.Sprintf("%s/checkout/%s?user=%d&package=%d&amount=%d", provider.checkoutBase, reference, userID, creditPackage, amountCents)
	}
	return ProviderCheckout{ProviderRef: reference, RedirectURL: redirectURL}, nil
}

// VerifyAndParseWebhook authenticates the raw callback body and extracts the
// reference and status. The signature is a hex HMAC-SHA256 of the unparsed
// body; comparison is constant time. With no secret configured the callback
// is accepted unverified.
func (provider *LiveProvider) VerifyAndParseWebhook(rawBody []byte, signature string) (WebhookEvent, error) {
	if len(provider.webhookSecret) == 0 {
		event := parseWebhookPayload(rawBody)
		event.Verified = false
		return event, nil
	}
	mac := hmac.New(sha256.New, provider.webhookSecret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	provided := strings.TrimSpace(signature)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return WebhookEvent{}, ErrSignatureMismatch
	}
	event := parseWebhookPayload(rawBody)
	event.Verified = true
	return event, nil
}
