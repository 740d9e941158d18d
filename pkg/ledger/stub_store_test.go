package ledger

import (
	"context"
	"sync"
	"testing"
)

// stubStore is an in-memory Store with injectable failures. The mutex makes
// guarded decrements atomic so concurrency properties can be exercised.
type stubStore struct {
	mu sync.Mutex

	userCredits    map[int64]int64
	sessionRecords map[string]SessionRecord

	decrementUserError    error
	decrementSessionError error
	addCreditsError       error
	createSessionError    error
	getSessionError       error
	markMigratedError     error
	userCreditsError      error
	sessionCreditsError   error
}

func newStubStore() *stubStore {
	return &stubStore{
		userCredits:    map[int64]int64{},
		sessionRecords: map[string]SessionRecord{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) DecrementUserCredit(_ context.Context, userID UserID) (bool, error) {
	if store.decrementUserError != nil {
		return false, store.decrementUserError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	balance, exists := store.userCredits[userID.Int64()]
	if !exists || balance <= 0 {
		return false, nil
	}
	store.userCredits[userID.Int64()] = balance - 1
	return true, nil
}

func (store *stubStore) DecrementSessionCredit(_ context.Context, sessionID SessionID) (bool, error) {
	if store.decrementSessionError != nil {
		return false, store.decrementSessionError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	record, exists := store.sessionRecords[sessionID.String()]
	if !exists || record.TempCredits <= 0 {
		return false, nil
	}
	record.TempCredits--
	store.sessionRecords[sessionID.String()] = record
	return true, nil
}

func (store *stubStore) AddUserCredits(_ context.Context, userID UserID, amount CreditAmount) error {
	if store.addCreditsError != nil {
		return store.addCreditsError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.userCredits[userID.Int64()] += amount.Int64()
	return nil
}

func (store *stubStore) CreateSessionIfAbsent(_ context.Context, record SessionRecord) error {
	if store.createSessionError != nil {
		return store.createSessionError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.sessionRecords[record.SessionID.String()]; exists {
		return nil
	}
	store.sessionRecords[record.SessionID.String()] = record
	return nil
}

func (store *stubStore) GetSessionForUpdate(_ context.Context, sessionID SessionID) (SessionRecord, error) {
	if store.getSessionError != nil {
		return SessionRecord{}, store.getSessionError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	record, exists := store.sessionRecords[sessionID.String()]
	if !exists {
		return SessionRecord{}, ErrUnknownSession
	}
	return record, nil
}

func (store *stubStore) MarkSessionMigrated(_ context.Context, sessionID SessionID, userID UserID) (bool, error) {
	if store.markMigratedError != nil {
		return false, store.markMigratedError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	record, exists := store.sessionRecords[sessionID.String()]
	if !exists || record.MigratedUserID != nil {
		return false, nil
	}
	target := userID.Int64()
	record.MigratedUserID = &target
	record.TempCredits = 0
	store.sessionRecords[sessionID.String()] = record
	return true, nil
}

func (store *stubStore) UserCredits(_ context.Context, userID UserID) (int64, error) {
	if store.userCreditsError != nil {
		return 0, store.userCreditsError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	balance, exists := store.userCredits[userID.Int64()]
	if !exists {
		return 0, ErrUnknownUser
	}
	return balance, nil
}

func (store *stubStore) SessionCredits(_ context.Context, sessionID SessionID) (int64, error) {
	if store.sessionCreditsError != nil {
		return 0, store.sessionCreditsError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	record, exists := store.sessionRecords[sessionID.String()]
	if !exists {
		return 0, ErrUnknownSession
	}
	return record.TempCredits, nil
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw int64) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("new user id: %v", err)
	}
	return userID
}

func mustSessionID(test *testing.T, raw string) SessionID {
	test.Helper()
	sessionID, err := NewSessionID(raw)
	if err != nil {
		test.Fatalf("new session id: %v", err)
	}
	return sessionID
}

func mustCreditAmount(test *testing.T, raw int64) CreditAmount {
	test.Helper()
	amount, err := NewCreditAmount(raw)
	if err != nil {
		test.Fatalf("new credit amount: %v", err)
	}
	return amount
}
