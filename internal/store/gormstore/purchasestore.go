package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/influelab/riskgate/internal/payments"
	"github.com/influelab/riskgate/pkg/ledger"
)

// PurchaseStore implements payments.Store using GORM.
type PurchaseStore struct {
	db *gorm.DB
}

// NewPurchaseStore returns a PurchaseStore backed by gorm.DB.
func NewPurchaseStore(db *gorm.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *PurchaseStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payments.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &PurchaseStore{db: transaction})
	})
}

// CreatePurchase inserts a purchase row and returns its id.
func (store *PurchaseStore) CreatePurchase(ctx context.Context, record payments.PurchaseRecord) (int64, error) {
	now := time.Now().UTC()
	model := Purchase{
		UserID:      record.UserID,
		Package:     record.Package,
		AmountCents: record.AmountCents,
		Status:      string(record.Status),
		ProviderRef: record.ProviderRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s", payments.ErrDuplicateProviderRef, record.ProviderRef)
	}
	if err != nil {
		return 0, err
	}
	return model.ID, nil
}

// GetPurchaseByProviderRefForUpdate loads the purchase matched to a provider
// callback, locked on backends that support row locks.
func (store *PurchaseStore) GetPurchaseByProviderRefForUpdate(ctx context.Context, providerRef string) (payments.PurchaseRecord, error) {
	var model Purchase
	err := lockForUpdate(store.db.WithContext(ctx)).
		Where("provider_ref = ?", providerRef).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payments.PurchaseRecord{}, payments.ErrUnknownPurchase
		}
		return payments.PurchaseRecord{}, err
	}
	return payments.PurchaseRecord{
		ID:          model.ID,
		UserID:      model.UserID,
		Package:     model.Package,
		AmountCents: model.AmountCents,
		Status:      payments.PurchaseStatus(model.Status),
		ProviderRef: model.ProviderRef,
	}, nil
}

// UpdatePurchaseStatus flips the status only when the current value matches
// from, reporting whether a row changed.
func (store *PurchaseStore) UpdatePurchaseStatus(ctx context.Context, purchaseID int64, from payments.PurchaseStatus, to payments.PurchaseStatus) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("id = ? AND status = ?", purchaseID, string(from)).
		UpdateColumns(map[string]interface{}{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AddUserCredits increments a user balance inside the settlement
// transaction.
func (store *PurchaseStore) AddUserCredits(ctx context.Context, userID ledger.UserID, amount ledger.CreditAmount) error {
	return NewLedgerStore(store.db).AddUserCredits(ctx, userID, amount)
}
