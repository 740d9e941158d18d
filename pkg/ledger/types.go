package ledger

import (
	"context"
	"fmt"
	"strings"
)

// UserID identifies a registered account owner.
type UserID struct {
	value int64
}

// SessionID identifies an anonymous cookie-scoped session.
type SessionID struct {
	value string
}

// CreditAmount is a strictly positive number of credits.
type CreditAmount struct {
	value int64
}

// FundingSource names the identity whose balance funded a consumption.
type FundingSource string

const (
	FundingUser    FundingSource = "user"
	FundingSession FundingSource = "session"
)

// NewUserID validates a user identifier.
func NewUserID(raw int64) (UserID, error) {
	if raw <= 0 {
		return UserID{}, fmt.Errorf("%w: must be positive", ErrInvalidUserID)
	}
	return UserID{value: raw}, nil
}

// Int64 returns the numeric identifier.
func (id UserID) Int64() int64 {
	return id.value
}

// NewSessionID validates and normalizes a session identifier.
func NewSessionID(raw string) (SessionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SessionID{}, fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	return SessionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id SessionID) String() string {
	return id.value
}

// NewCreditAmount validates an amount and ensures it is strictly positive.
func NewCreditAmount(raw int64) (CreditAmount, error) {
	if raw <= 0 {
		return CreditAmount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCreditAmount)
	}
	return CreditAmount{value: raw}, nil
}

// Int64 returns the raw credit count.
func (amount CreditAmount) Int64() int64 {
	return amount.value
}

// SessionRecord is the stored state of an anonymous session.
type SessionRecord struct {
	SessionID      SessionID
	IPHash         string
	UserAgentHash  string
	TempCredits    int64
	MigratedUserID *int64
}

// BalanceView reports the balances visible to one request. A nil pointer
// means the corresponding identity is absent or unknown.
type BalanceView struct {
	UserCredits    *int64
	SessionCredits *int64
}

// HasAnyCredit reports whether either identity could fund a consumption.
func (view BalanceView) HasAnyCredit() bool {
	if view.UserCredits != nil && *view.UserCredits > 0 {
		return true
	}
	if view.SessionCredits != nil && *view.SessionCredits > 0 {
		return true
	}
	return false
}

// Store is the persistence contract used by Service. Decrements are guarded
// single-statement updates: they succeed only while the balance is positive
// and report whether a row was actually changed.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	DecrementUserCredit(ctx context.Context, userID UserID) (bool, error)
	DecrementSessionCredit(ctx context.Context, sessionID SessionID) (bool, error)
	AddUserCredits(ctx context.Context, userID UserID, amount CreditAmount) error
	CreateSessionIfAbsent(ctx context.Context, record SessionRecord) error
	GetSessionForUpdate(ctx context.Context, sessionID SessionID) (SessionRecord, error)
	MarkSessionMigrated(ctx context.Context, sessionID SessionID, userID UserID) (bool, error)
	UserCredits(ctx context.Context, userID UserID) (int64, error)
	SessionCredits(ctx context.Context, sessionID SessionID) (int64, error)
}
