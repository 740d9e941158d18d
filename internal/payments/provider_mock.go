package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const mockProviderName = "mock"

// MockProvider settles checkouts synchronously so the purchase flow can be
// exercised without an external payment account. Not for production.
type MockProvider struct{}

// NewMockProvider wires a MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name identifies the provider variant.
func (provider *MockProvider) Name() string {
	return mockProviderName
}

// CreateCheckout returns an immediately-settled checkout.
func (provider *MockProvider) CreateCheckout(_ context.Context, _ int64, _ int64, _ int64) (ProviderCheckout, error) {
	return ProviderCheckout{
		ProviderRef: fmt.Sprintf("MOCK-%s", uuid.NewString()),
		Immediate:   true,
	}, nil
}

// VerifyAndParseWebhook accepts every callback, flagged unverified.
func (provider *MockProvider) VerifyAndParseWebhook(rawBody []byte, _ string) (WebhookEvent, error) {
	event := parseWebhookPayload(rawBody)
	event.Verified = false
	return event, nil
}
