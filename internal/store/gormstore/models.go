package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// User mirrors the users table.
type User struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Email            string    `gorm:"not null;uniqueIndex:uniq_users_email"`
	CredentialHash   string    `gorm:"not null"`
	CreditsRemaining int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Session mirrors the sessions table. MigratedUserID is set exactly once,
// when the anonymous balance moves onto a registered user.
type Session struct {
	SessionID            string    `gorm:"primaryKey"`
	IPHash               string    `gorm:"not null"`
	UserAgentHash        string    `gorm:"not null"`
	CreditsTempRemaining int64     `gorm:"not null;default:0"`
	MigratedUserID       *int64    `gorm:"index:idx_sessions_migrated_user"`
	CreatedAt            time.Time `gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

// Analysis mirrors the analyses table. Detail holds the structured result
// payload (tags, recommendations, funding source).
type Analysis struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	UserID    *int64         `gorm:"index:idx_analyses_user_created,priority:1"`
	SessionID *string        `gorm:"index:idx_analyses_session"`
	Kind      string         `gorm:"not null"`
	Summary   string         `gorm:"not null"`
	RiskScore int64          `gorm:"not null"`
	Detail    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_analyses_user_created,priority:2"`
}

func (Analysis) TableName() string { return "analyses" }

// Purchase mirrors the purchases table. ProviderRef is the correlation key
// for payment provider callbacks.
type Purchase struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	UserID      int64     `gorm:"not null;index:idx_purchases_user"`
	Package     int64     `gorm:"not null"`
	AmountCents int64     `gorm:"not null"`
	Status      string    `gorm:"not null"`
	ProviderRef string    `gorm:"not null;uniqueIndex:uniq_purchases_provider_ref"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Purchase) TableName() string { return "purchases" }
