package payments

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/influelab/riskgate/pkg/ledger"
)

// PurchaseStatus defines the purchase lifecycle.
type PurchaseStatus string

const (
	PurchaseStatusPending PurchaseStatus = "pending"
	PurchaseStatusPaid    PurchaseStatus = "paid"
	PurchaseStatusFailed  PurchaseStatus = "failed"
)

// PurchaseRecord is a stored payment attempt.
type PurchaseRecord struct {
	ID          int64
	UserID      int64
	Package     int64
	AmountCents int64
	Status      PurchaseStatus
	ProviderRef string
}

// Checkout describes a started purchase, returned to the caller so the
// frontend can hand the user over to the provider.
type Checkout struct {
	PurchaseID  int64
	ProviderRef string
	RedirectURL string
	Status      PurchaseStatus
}

// ProviderCheckout is what a payment provider returns when a checkout is
// created. Immediate means the provider settled synchronously (mock mode).
type ProviderCheckout struct {
	ProviderRef string
	RedirectURL string
	Immediate   bool
}

// WebhookEvent is the provider callback reduced to the two fields the
// reconciliation cares about. Verified is false when the shared secret is
// unconfigured and the callback was accepted without authentication.
type WebhookEvent struct {
	ProviderRef string
	Status      string
	Verified    bool
}

// WebhookOutcome classifies what a processed callback did.
type WebhookOutcome string

const (
	OutcomeCredited     WebhookOutcome = "credited"
	OutcomeDuplicate    WebhookOutcome = "duplicate"
	OutcomeIgnored      WebhookOutcome = "ignored"
	OutcomeMarkedFailed WebhookOutcome = "marked_failed"
)

// WebhookResult reports the effect of one delivered callback.
type WebhookResult struct {
	Outcome        WebhookOutcome
	ProviderRef    string
	CreditsGranted int64
	Verified       bool
}

// PriceTable maps a credit package size to its price in minor currency units.
// Packages outside the table cannot be purchased.
type PriceTable map[int64]int64

// ParsePriceTable reads a "package:cents,package:cents" list.
func ParsePriceTable(raw string) (PriceTable, error) {
	table := PriceTable{}
	for _, pair := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(pair)
		if trimmed == "" {
			continue
		}
		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPriceTable, trimmed)
		}
		creditPackage, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || creditPackage <= 0 {
			return nil, fmt.Errorf("%w: bad package in %q", ErrInvalidPriceTable, trimmed)
		}
		amountCents, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || amountCents <= 0 {
			return nil, fmt.Errorf("%w: bad amount in %q", ErrInvalidPriceTable, trimmed)
		}
		table[creditPackage] = amountCents
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrInvalidPriceTable)
	}
	return table, nil
}

// Packages lists the purchasable package sizes in ascending order.
func (table PriceTable) Packages() []int64 {
	packages := make([]int64, 0, len(table))
	for creditPackage := range table {
		packages = append(packages, creditPackage)
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i] < packages[j] })
	return packages
}

// Provider abstracts the external payment service.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, userID int64, creditPackage int64, amountCents int64) (ProviderCheckout, error)
	VerifyAndParseWebhook(rawBody []byte, signature string) (WebhookEvent, error)
}

// Store is the persistence contract for purchase reconciliation. The credit
// grant uses the same guarded update discipline as the ledger and rides in
// the same transaction as the status flip.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreatePurchase(ctx context.Context, record PurchaseRecord) (int64, error)
	GetPurchaseByProviderRefForUpdate(ctx context.Context, providerRef string) (PurchaseRecord, error)
	UpdatePurchaseStatus(ctx context.Context, purchaseID int64, from PurchaseStatus, to PurchaseStatus) (bool, error)
	AddUserCredits(ctx context.Context, userID ledger.UserID, amount ledger.CreditAmount) error
}
