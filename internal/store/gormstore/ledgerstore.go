package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/influelab/riskgate/pkg/ledger"
)

const (
	errorOperationStore = "store"
	errorSubjectUser    = "user"
	errorSubjectSession = "session"
	errorCodeCreate     = "create"
	errorCodeDecrement  = "decrement"
	errorCodeGet        = "get"
	errorCodeGrant      = "grant"
	errorCodeInvalid    = "invalid"
	errorCodeMigrate    = "migrate"
)

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore returns a LedgerStore backed by gorm.DB.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

// DecrementUserCredit is a guarded single-statement decrement. It reports
// false when the balance was not positive, without error.
func (store *LedgerStore) DecrementUserCredit(ctx context.Context, userID ledger.UserID) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ? AND credits_remaining > 0", userID.Int64()).
		UpdateColumn("credits_remaining", gorm.Expr("credits_remaining - 1"))
	if result.Error != nil {
		return false, wrapLedgerError(errorSubjectUser, errorCodeDecrement, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DecrementSessionCredit mirrors DecrementUserCredit for anonymous sessions.
// Migrated sessions never decrement: their balance was zeroed at migration.
func (store *LedgerStore) DecrementSessionCredit(ctx context.Context, sessionID ledger.SessionID) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Session{}).
		Where("session_id = ? AND credits_temp_remaining > 0", sessionID.String()).
		UpdateColumn("credits_temp_remaining", gorm.Expr("credits_temp_remaining - 1"))
	if result.Error != nil {
		return false, wrapLedgerError(errorSubjectSession, errorCodeDecrement, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AddUserCredits increments a user balance.
func (store *LedgerStore) AddUserCredits(ctx context.Context, userID ledger.UserID, amount ledger.CreditAmount) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID.Int64()).
		UpdateColumn("credits_remaining", gorm.Expr("credits_remaining + ?", amount.Int64()))
	if result.Error != nil {
		return wrapLedgerError(errorSubjectUser, errorCodeGrant, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapLedgerError(errorSubjectUser, errorCodeGrant, ledger.ErrUnknownUser)
	}
	return nil
}

// CreateSessionIfAbsent inserts the session row, leaving an existing row
// untouched.
func (store *LedgerStore) CreateSessionIfAbsent(ctx context.Context, record ledger.SessionRecord) error {
	model := Session{
		SessionID:            record.SessionID.String(),
		IPHash:               record.IPHash,
		UserAgentHash:        record.UserAgentHash,
		CreditsTempRemaining: record.TempCredits,
		MigratedUserID:       record.MigratedUserID,
		CreatedAt:            time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return wrapLedgerError(errorSubjectSession, errorCodeCreate, err)
	}
	return nil
}

// GetSessionForUpdate loads a session row, locked on backends that support
// row locks.
func (store *LedgerStore) GetSessionForUpdate(ctx context.Context, sessionID ledger.SessionID) (ledger.SessionRecord, error) {
	var model Session
	err := lockForUpdate(store.db.WithContext(ctx)).
		Where("session_id = ?", sessionID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.SessionRecord{}, wrapLedgerError(errorSubjectSession, errorCodeGet, ledger.ErrUnknownSession)
		}
		return ledger.SessionRecord{}, wrapLedgerError(errorSubjectSession, errorCodeGet, err)
	}
	parsedSessionID, err := ledger.NewSessionID(model.SessionID)
	if err != nil {
		return ledger.SessionRecord{}, wrapLedgerError(errorSubjectSession, errorCodeInvalid, err)
	}
	return ledger.SessionRecord{
		SessionID:      parsedSessionID,
		IPHash:         model.IPHash,
		UserAgentHash:  model.UserAgentHash,
		TempCredits:    model.CreditsTempRemaining,
		MigratedUserID: model.MigratedUserID,
	}, nil
}

// MarkSessionMigrated flips the migrated marker and zeroes the temp balance.
// The update is guarded on the marker still being unset, so only one caller
// observes true.
func (store *LedgerStore) MarkSessionMigrated(ctx context.Context, sessionID ledger.SessionID, userID ledger.UserID) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Session{}).
		Where("session_id = ? AND migrated_user_id IS NULL", sessionID.String()).
		UpdateColumns(map[string]interface{}{
			"migrated_user_id":       userID.Int64(),
			"credits_temp_remaining": 0,
		})
	if result.Error != nil {
		return false, wrapLedgerError(errorSubjectSession, errorCodeMigrate, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UserCredits reads a user balance.
func (store *LedgerStore) UserCredits(ctx context.Context, userID ledger.UserID) (int64, error) {
	var model User
	err := store.db.WithContext(ctx).
		Select("credits_remaining").
		Where("id = ?", userID.Int64()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, wrapLedgerError(errorSubjectUser, errorCodeGet, ledger.ErrUnknownUser)
		}
		return 0, wrapLedgerError(errorSubjectUser, errorCodeGet, err)
	}
	return model.CreditsRemaining, nil
}

// SessionCredits reads a session balance.
func (store *LedgerStore) SessionCredits(ctx context.Context, sessionID ledger.SessionID) (int64, error) {
	var model Session
	err := store.db.WithContext(ctx).
		Select("credits_temp_remaining").
		Where("session_id = ?", sessionID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, wrapLedgerError(errorSubjectSession, errorCodeGet, ledger.ErrUnknownSession)
		}
		return 0, wrapLedgerError(errorSubjectSession, errorCodeGet, err)
	}
	return model.CreditsTempRemaining, nil
}

func wrapLedgerError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
