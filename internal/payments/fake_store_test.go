package payments

import (
	"context"

	"github.com/influelab/riskgate/pkg/ledger"
)

// fakeStore keeps purchases and balances in memory. WithTx snapshots the
// state and restores it when fn fails, mirroring a database rollback.
type fakeStore struct {
	purchases  map[string]PurchaseRecord
	credits    map[int64]int64
	nextID     int64
	grantError error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		purchases: map[string]PurchaseRecord{},
		credits:   map[int64]int64{},
	}
}

func (store *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	purchasesSnapshot := make(map[string]PurchaseRecord, len(store.purchases))
	for key, value := range store.purchases {
		purchasesSnapshot[key] = value
	}
	creditsSnapshot := make(map[int64]int64, len(store.credits))
	for key, value := range store.credits {
		creditsSnapshot[key] = value
	}
	if err := fn(ctx, store); err != nil {
		store.purchases = purchasesSnapshot
		store.credits = creditsSnapshot
		return err
	}
	return nil
}

func (store *fakeStore) CreatePurchase(_ context.Context, record PurchaseRecord) (int64, error) {
	if _, exists := store.purchases[record.ProviderRef]; exists {
		return 0, ErrDuplicateProviderRef
	}
	store.nextID++
	record.ID = store.nextID
	store.purchases[record.ProviderRef] = record
	return record.ID, nil
}

func (store *fakeStore) GetPurchaseByProviderRefForUpdate(_ context.Context, providerRef string) (PurchaseRecord, error) {
	record, exists := store.purchases[providerRef]
	if !exists {
		return PurchaseRecord{}, ErrUnknownPurchase
	}
	return record, nil
}

func (store *fakeStore) UpdatePurchaseStatus(_ context.Context, purchaseID int64, from PurchaseStatus, to PurchaseStatus) (bool, error) {
	for key, record := range store.purchases {
		if record.ID == purchaseID && record.Status == from {
			record.Status = to
			store.purchases[key] = record
			return true, nil
		}
	}
	return false, nil
}

func (store *fakeStore) AddUserCredits(_ context.Context, userID ledger.UserID, amount ledger.CreditAmount) error {
	if store.grantError != nil {
		return store.grantError
	}
	store.credits[userID.Int64()] += amount.Int64()
	return nil
}
