package payments

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/influelab/riskgate/pkg/ledger"
)

// Reconciler owns the purchase lifecycle: checkout creation and the
// exactly-once application of provider confirmations.
type Reconciler struct {
	store    Store
	provider Provider
	prices   PriceTable
	logger   *zap.Logger
}

// NewReconciler wires a Reconciler.
func NewReconciler(store Store, provider Provider, prices PriceTable, logger *zap.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidReconcilerConfig)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: provider dependency is nil", ErrInvalidReconcilerConfig)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: empty price table", ErrInvalidReconcilerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, provider: provider, prices: prices, logger: logger}, nil
}

// StartCheckout validates the requested package against the price table and
// creates a pending purchase bound to a provider reference. With the mock
// provider the purchase is settled synchronously.
func (reconciler *Reconciler) StartCheckout(ctx context.Context, userID ledger.UserID, creditPackage int64) (Checkout, error) {
	amountCents, known := reconciler.prices[creditPackage]
	if !known {
		return Checkout{}, fmt.Errorf("%w: %d", ErrUnknownPackage, creditPackage)
	}

	providerCheckout, err := reconciler.provider.CreateCheckout(ctx, userID.Int64(), creditPackage, amountCents)
	if err != nil {
		return Checkout{}, err
	}

	record := PurchaseRecord{
		UserID:      userID.Int64(),
		Package:     creditPackage,
		AmountCents: amountCents,
		Status:      PurchaseStatusPending,
		ProviderRef: providerCheckout.ProviderRef,
	}
	purchaseID, err := reconciler.store.CreatePurchase(ctx, record)
	if err != nil {
		return Checkout{}, err
	}

	checkout := Checkout{
		PurchaseID:  purchaseID,
		ProviderRef: providerCheckout.ProviderRef,
		RedirectURL: providerCheckout.RedirectURL,
		Status:      PurchaseStatusPending,
	}
	if providerCheckout.Immediate {
		result, err := reconciler.applyStatus(ctx, WebhookEvent{ProviderRef: providerCheckout.ProviderRef, Status: string(PurchaseStatusPaid)})
		if err != nil {
			return Checkout{}, err
		}
		if result.Outcome == OutcomeCredited || result.Outcome == OutcomeDuplicate {
			checkout.Status = PurchaseStatusPaid
		}
	}

	reconciler.logger.Info("checkout started",
		zap.String("provider", reconciler.provider.Name()),
		zap.Int64("user_id", userID.Int64()),
		zap.Int64("package", creditPackage),
		zap.Int64("amount_cents", amountCents),
		zap.String("provider_ref", checkout.ProviderRef),
		zap.String("status", string(checkout.Status)),
	)
	return checkout, nil
}

// HandleWebhook applies one provider callback. Deliveries are at-least-once:
// replays of an already-paid confirmation report success without touching the
// ledger. Callbacks that cannot be matched to a purchase are acknowledged and
// skipped so the provider does not retry them forever.
func (reconciler *Reconciler) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (WebhookResult, error) {
	event, err := reconciler.provider.VerifyAndParseWebhook(rawBody, signature)
	if err != nil {
		reconciler.logger.Warn("webhook rejected", zap.Error(err))
		return WebhookResult{}, err
	}
	if !event.Verified {
		reconciler.logger.Warn("webhook accepted without signature verification",
			zap.String("provider_ref", event.ProviderRef))
	}
	if event.ProviderRef == "" {
		return WebhookResult{Outcome: OutcomeIgnored, Verified: event.Verified}, nil
	}

	result, err := reconciler.applyStatus(ctx, event)
	if err != nil {
		return WebhookResult{}, err
	}
	result.Verified = event.Verified
	reconciler.logger.Info("webhook processed",
		zap.String("provider_ref", result.ProviderRef),
		zap.String("outcome", string(result.Outcome)),
		zap.Int64("credits_granted", result.CreditsGranted),
	)
	return result, nil
}

// applyStatus runs the settlement transaction: lock the purchase row, flip
// the status, and grant the credits. The flip and the grant commit or roll
// back together, so a failed grant leaves the purchase pending.
func (reconciler *Reconciler) applyStatus(ctx context.Context, event WebhookEvent) (WebhookResult, error) {
	result := WebhookResult{ProviderRef: event.ProviderRef}
	operationError := reconciler.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		purchase, err := transactionStore.GetPurchaseByProviderRefForUpdate(ctx, event.ProviderRef)
		if errors.Is(err, ErrUnknownPurchase) {
			result.Outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}
		if purchase.Status == PurchaseStatusPaid {
			result.Outcome = OutcomeDuplicate
			return nil
		}
		if isPaidStatus(event.Status) {
			flipped, err := transactionStore.UpdatePurchaseStatus(ctx, purchase.ID, purchase.Status, PurchaseStatusPaid)
			if err != nil {
				return err
			}
			if !flipped {
				result.Outcome = OutcomeDuplicate
				return nil
			}
			userID, err := ledger.NewUserID(purchase.UserID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCreditGrantFailed, err)
			}
			amount, err := ledger.NewCreditAmount(purchase.Package)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCreditGrantFailed, err)
			}
			if err := transactionStore.AddUserCredits(ctx, userID, amount); err != nil {
				return fmt.Errorf("%w: %v", ErrCreditGrantFailed, err)
			}
			result.Outcome = OutcomeCredited
			result.CreditsGranted = purchase.Package
			return nil
		}
		if isFailedStatus(event.Status) {
			if purchase.Status != PurchaseStatusFailed {
				if _, err := transactionStore.UpdatePurchaseStatus(ctx, purchase.ID, purchase.Status, PurchaseStatusFailed); err != nil {
					return err
				}
			}
			result.Outcome = OutcomeMarkedFailed
			return nil
		}
		result.Outcome = OutcomeIgnored
		return nil
	})
	if operationError != nil {
		return WebhookResult{}, operationError
	}
	return result, nil
}
