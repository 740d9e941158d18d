package accounts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/influelab/riskgate/pkg/ledger"
)

// Migrator moves anonymous session credits onto a registered user.
// *ledger.Service satisfies it.
type Migrator interface {
	Migrate(ctx context.Context, sessionID ledger.SessionID, userID ledger.UserID) (int64, error)
}

// Granter adds credits to a user balance. *ledger.Service satisfies it.
type Granter interface {
	Grant(ctx context.Context, userID ledger.UserID, amount ledger.CreditAmount) error
}

// Service owns registration, authentication, and analysis history.
type Service struct {
	store    Store
	migrator Migrator
	granter  Granter
	logger   *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, migrator Migrator, granter Granter, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if migrator == nil {
		return nil, fmt.Errorf("%w: migrator dependency is nil", ErrInvalidServiceConfig)
	}
	if granter == nil {
		return nil, fmt.Errorf("%w: granter dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, migrator: migrator, granter: granter, logger: logger}, nil
}

// Register creates an account and, when the caller carries an anonymous
// session, migrates its remaining temp credits onto the new user. Returns the
// created user and the number of credits moved.
func (service *Service) Register(ctx context.Context, email string, password string, sessionID *ledger.SessionID) (User, int64, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, 0, err
	}
	credentialHash, err := HashCredential(password)
	if err != nil {
		return User{}, 0, err
	}

	user, err := service.store.CreateUser(ctx, normalized, credentialHash, 0)
	if err != nil {
		return User{}, 0, err
	}

	var migrated int64
	if sessionID != nil {
		userID, err := ledger.NewUserID(user.ID)
		if err != nil {
			return User{}, 0, err
		}
		migrated, err = service.migrator.Migrate(ctx, *sessionID, userID)
		if err != nil {
			// The account exists; the session credits stay where they
			// were and can be migrated on a later login.
			service.logger.Warn("session migration failed during registration",
				zap.Int64("user_id", user.ID),
				zap.String("session_id", sessionID.String()),
				zap.Error(err),
			)
			return user, 0, nil
		}
		user.Credits += migrated
	}

	service.logger.Info("account registered",
		zap.Int64("user_id", user.ID),
		zap.Int64("migrated_credits", migrated),
	)
	return user, migrated, nil
}

// Authenticate verifies an email and password pair. A wrong password and an
// unknown email both surface as ErrBadCredentials.
func (service *Service) Authenticate(ctx context.Context, email string, password string) (User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, ErrBadCredentials
	}
	userID, credentialHash, err := service.store.UserCredentialHash(ctx, normalized)
	if err != nil {
		return User{}, ErrBadCredentials
	}
	if err := VerifyCredential(credentialHash, password); err != nil {
		return User{}, err
	}
	return service.store.GetUserByID(ctx, userID)
}

// Profile loads a user by id.
func (service *Service) Profile(ctx context.Context, userID int64) (User, error) {
	return service.store.GetUserByID(ctx, userID)
}

// RecordAnalysis appends one completed analysis to the history.
func (service *Service) RecordAnalysis(ctx context.Context, record AnalysisRecord) (int64, error) {
	return service.store.RecordAnalysis(ctx, record)
}

// History lists a user's most recent analyses, newest first.
func (service *Service) History(ctx context.Context, userID int64, limit int) ([]AnalysisRecord, error) {
	return service.store.ListUserAnalyses(ctx, userID, limit)
}

// SeedOperator ensures an operator account exists with a large balance.
// Called at startup when seed credentials are configured; an existing
// account is left untouched.
func (service *Service) SeedOperator(ctx context.Context, email string, password string, credits int64) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := service.store.GetUserByEmail(ctx, normalized); err == nil {
		return nil
	}
	credentialHash, err := HashCredential(password)
	if err != nil {
		return err
	}
	user, err := service.store.CreateUser(ctx, normalized, credentialHash, 0)
	if err != nil {
		return err
	}
	userID, err := ledger.NewUserID(user.ID)
	if err != nil {
		return err
	}
	amount, err := ledger.NewCreditAmount(credits)
	if err != nil {
		return err
	}
	if err := service.granter.Grant(ctx, userID, amount); err != nil {
		return err
	}
	service.logger.Info("operator account seeded", zap.Int64("user_id", user.ID))
	return nil
}

// NormalizeEmail lowercases and trims the address and applies a minimal
// shape check.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	at := strings.Index(normalized, "@")
	if at <= 0 || at == len(normalized)-1 || strings.Count(normalized, "@") != 1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return normalized, nil
}
