package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/influelab/riskgate/internal/accounts"
)

// AccountStore implements accounts.Store using GORM.
type AccountStore struct {
	db *gorm.DB
}

// NewAccountStore returns an AccountStore backed by gorm.DB.
func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

type analysisDetail struct {
	Tags            []string `json:"tags"`
	Recommendations []string `json:"recommendations"`
	FundedBy        string   `json:"funded_by"`
}

// CreateUser inserts a user row. A duplicate email surfaces as
// accounts.ErrEmailTaken.
func (store *AccountStore) CreateUser(ctx context.Context, email string, credentialHash string, initialCredits int64) (accounts.User, error) {
	model := User{
		Email:            email,
		CredentialHash:   credentialHash,
		CreditsRemaining: initialCredits,
		CreatedAt:        time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return accounts.User{}, fmt.Errorf("%w: %s", accounts.ErrEmailTaken, email)
	}
	if err != nil {
		return accounts.User{}, err
	}
	return mapUser(model), nil
}

// GetUserByEmail loads a user by normalized email.
func (store *AccountStore) GetUserByEmail(ctx context.Context, email string) (accounts.User, error) {
	var model User
	err := store.db.WithContext(ctx).Where("email = ?", email).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return accounts.User{}, accounts.ErrUnknownAccount
		}
		return accounts.User{}, err
	}
	return mapUser(model), nil
}

// GetUserByID loads a user by id.
func (store *AccountStore) GetUserByID(ctx context.Context, userID int64) (accounts.User, error) {
	var model User
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return accounts.User{}, accounts.ErrUnknownAccount
		}
		return accounts.User{}, err
	}
	return mapUser(model), nil
}

// UserCredentialHash returns the id and stored credential hash for an email.
func (store *AccountStore) UserCredentialHash(ctx context.Context, email string) (int64, string, error) {
	var model User
	err := store.db.WithContext(ctx).Where("email = ?", email).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, "", accounts.ErrUnknownAccount
		}
		return 0, "", err
	}
	return model.ID, model.CredentialHash, nil
}

// RecordAnalysis appends one analysis row.
func (store *AccountStore) RecordAnalysis(ctx context.Context, record accounts.AnalysisRecord) (int64, error) {
	detail, err := json.Marshal(analysisDetail{
		Tags:            emptyIfNil(record.Tags),
		Recommendations: emptyIfNil(record.Recommendations),
		FundedBy:        record.FundedBy,
	})
	if err != nil {
		return 0, err
	}
	model := Analysis{
		UserID:    record.UserID,
		SessionID: record.SessionID,
		Kind:      string(record.Kind),
		Summary:   record.Summary,
		RiskScore: record.RiskScore,
		Detail:    datatypes.JSON(detail),
		CreatedAt: time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, err
	}
	return model.ID, nil
}

// ListUserAnalyses returns a user's analyses, newest first.
func (store *AccountStore) ListUserAnalyses(ctx context.Context, userID int64, limit int) ([]accounts.AnalysisRecord, error) {
	var rows []Analysis
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]accounts.AnalysisRecord, 0, len(rows))
	for _, row := range rows {
		record, err := mapAnalysis(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func mapUser(model User) accounts.User {
	return accounts.User{
		ID:        model.ID,
		Email:     model.Email,
		Credits:   model.CreditsRemaining,
		CreatedAt: model.CreatedAt,
	}
}

func mapAnalysis(row Analysis) (accounts.AnalysisRecord, error) {
	var detail analysisDetail
	if len(row.Detail) > 0 {
		if err := json.Unmarshal(row.Detail, &detail); err != nil {
			return accounts.AnalysisRecord{}, err
		}
	}
	return accounts.AnalysisRecord{
		ID:              row.ID,
		UserID:          row.UserID,
		SessionID:       row.SessionID,
		Kind:            accounts.AnalysisKind(row.Kind),
		Summary:         row.Summary,
		RiskScore:       row.RiskScore,
		Tags:            detail.Tags,
		Recommendations: detail.Recommendations,
		FundedBy:        detail.FundedBy,
		CreatedAt:       row.CreatedAt,
	}, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
