package payments

import "errors"

// Domain-level error values returned by purchase reconciliation.
var (
	ErrUnknownPackage          = errors.New("unknown credit package")
	ErrUnknownPurchase         = errors.New("unknown purchase")
	ErrSignatureMismatch       = errors.New("webhook signature mismatch")
	ErrCreditGrantFailed       = errors.New("credit grant failed")
	ErrDuplicateProviderRef    = errors.New("duplicate provider reference")
	ErrInvalidPriceTable       = errors.New("invalid price table")
	ErrInvalidReconcilerConfig = errors.New("invalid reconciler config")
)
