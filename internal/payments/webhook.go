package payments

import (
	"encoding/json"
	"strings"
)

// Field names seen across provider protocol revisions. The first present
// alias wins.
var (
	providerRefAliases = []string{"reference_id", "provider_ref", "reference", "checkout_id", "transaction_id", "id"}
	statusAliases      = []string{"status", "payment_status", "state"}
)

var paidStatuses = map[string]struct{}{
	"paid":      {},
	"approved":  {},
	"completed": {},
	"confirmed": {},
	"success":   {},
	"succeeded": {},
}

var failedStatuses = map[string]struct{}{
	"failed":    {},
	"declined":  {},
	"refused":   {},
	"canceled":  {},
	"cancelled": {},
	"expired":   {},
}

// parseWebhookPayload extracts the provider reference and status from a raw
// callback body. Malformed JSON or missing fields produce an empty event, not
// an error: unknown payloads are acknowledged without state change.
func parseWebhookPayload(rawBody []byte) WebhookEvent {
	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return WebhookEvent{}
	}
	return WebhookEvent{
		ProviderRef: firstString(payload, providerRefAliases),
		Status:      firstString(payload, statusAliases),
	}
}

func firstString(payload map[string]any, aliases []string) string {
	for _, alias := range aliases {
		if value, exists := payload[alias]; exists {
			if text, isString := value.(string); isString && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
	}
	return ""
}

func isPaidStatus(status string) bool {
	_, paid := paidStatuses[strings.ToLower(strings.TrimSpace(status))]
	return paid
}

func isFailedStatus(status string) bool {
	_, failed := failedStatuses[strings.ToLower(strings.TrimSpace(status))]
	return failed
}
