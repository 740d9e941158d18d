package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the credit accounting logic over a Store.
type Service struct {
	store  Store
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Consume spends exactly one credit for the given identities. The user
// balance is tried first; the session balance only when the user attempt did
// not succeed. Each decrement is a guarded update that cannot drive a balance
// negative. Returns the funding source, or ErrInsufficientCredit when neither
// identity had a positive balance.
func (service *Service) Consume(ctx context.Context, userID *UserID, sessionID *SessionID) (FundingSource, error) {
	var funding FundingSource
	var operationError error

	if userID != nil {
		decremented, err := service.store.DecrementUserCredit(ctx, *userID)
		if err != nil {
			operationError = err
		} else if decremented {
			funding = FundingUser
		}
	}
	if operationError == nil && funding == "" && sessionID != nil {
		decremented, err := service.store.DecrementSessionCredit(ctx, *sessionID)
		if err != nil {
			operationError = err
		} else if decremented {
			funding = FundingSession
		}
	}
	if operationError == nil && funding == "" {
		operationError = ErrInsufficientCredit
	}

	service.logOperation(ctx, OperationLog{
		Operation: operationConsume,
		UserID:    userID,
		SessionID: sessionID,
		Amount:    1,
		Funding:   funding,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return funding, nil
}

// Grant unconditionally adds credits to a user balance.
func (service *Service) Grant(ctx context.Context, userID UserID, amount CreditAmount) error {
	operationError := service.store.AddUserCredits(ctx, userID, amount)
	service.logOperation(ctx, OperationLog{
		Operation: operationGrant,
		UserID:    &userID,
		Amount:    amount.Int64(),
		Error:     operationError,
	})
	return operationError
}

// EnsureSession creates the session row if absent. An existing session keeps
// its balance untouched, whatever the supplied starting credits are.
func (service *Service) EnsureSession(ctx context.Context, record SessionRecord) error {
	operationError := service.store.CreateSessionIfAbsent(ctx, record)
	service.logOperation(ctx, OperationLog{
		Operation: operationEnsureSession,
		SessionID: &record.SessionID,
		Amount:    record.TempCredits,
		Error:     operationError,
	})
	return operationError
}

// Migrate transfers the session's remaining temp credits to the user and
// marks the session migrated. A second call for the same session is a no-op:
// the migrated marker is flipped under a row lock, so the transfer happens at
// most once. Returns the number of credits moved.
func (service *Service) Migrate(ctx context.Context, sessionID SessionID, userID UserID) (int64, error) {
	var moved int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, err := transactionStore.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if record.MigratedUserID != nil {
			return nil
		}
		marked, err := transactionStore.MarkSessionMigrated(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if !marked {
			return nil
		}
		if record.TempCredits <= 0 {
			return nil
		}
		amount, err := NewCreditAmount(record.TempCredits)
		if err != nil {
			return err
		}
		if err := transactionStore.AddUserCredits(ctx, userID, amount); err != nil {
			return err
		}
		moved = record.TempCredits
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationMigrate,
		UserID:    &userID,
		SessionID: &sessionID,
		Amount:    moved,
		Error:     operationError,
	})
	return moved, operationError
}

// Balances reads the current balances for the given identities. Unknown
// identities are reported as absent rather than as errors.
func (service *Service) Balances(ctx context.Context, userID *UserID, sessionID *SessionID) (BalanceView, error) {
	var view BalanceView
	if userID != nil {
		credits, err := service.store.UserCredits(ctx, *userID)
		if err != nil && !errors.Is(err, ErrUnknownUser) {
			return BalanceView{}, err
		}
		if err == nil {
			view.UserCredits = &credits
		}
	}
	if sessionID != nil {
		credits, err := service.store.SessionCredits(ctx, *sessionID)
		if err != nil && !errors.Is(err, ErrUnknownSession) {
			return BalanceView{}, err
		}
		if err == nil {
			view.SessionCredits = &credits
		}
	}
	return view, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
