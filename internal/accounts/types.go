package accounts

import (
	"context"
	"time"
)

// AnalysisKind distinguishes the two analysis surfaces.
type AnalysisKind string

const (
	AnalysisKindPhoto AnalysisKind = "photo"
	AnalysisKindText  AnalysisKind = "text"
)

// User is a registered account with a persistent credit balance.
type User struct {
	ID        int64
	Email     string
	Credits   int64
	CreatedAt time.Time
}

// AnalysisRecord is one completed analysis, attributed to a user, an
// anonymous session, or both when a session later migrates.
type AnalysisRecord struct {
	ID              int64
	UserID          *int64
	SessionID       *string
	Kind            AnalysisKind
	Summary         string
	RiskScore       int64
	Tags            []string
	Recommendations []string
	FundedBy        string
	CreatedAt       time.Time
}

// Store persists users and their analysis history.
type Store interface {
	CreateUser(ctx context.Context, email string, credentialHash string, initialCredits int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID int64) (User, error)
	UserCredentialHash(ctx context.Context, email string) (int64, string, error)
	RecordAnalysis(ctx context.Context, record AnalysisRecord) (int64, error)
	ListUserAnalyses(ctx context.Context, userID int64, limit int) ([]AnalysisRecord, error)
}
