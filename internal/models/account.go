package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account represents one end user of the staking product
type Account struct {
	gorm.Model
	ExternalID    string          `gorm:"size:64;uniqueIndex;not null"`
	WalletAddress *string         `gorm:"size:68;index"`
	StakedAmount  decimal.Decimal `gorm:"type:decimal(30,9);not null;default:0"`
	TotalEarned   decimal.Decimal `gorm:"type:decimal(30,9);not null;default:0"`
	LastActiveAt  time.Time       `gorm:"index"`

	// Sponsor is set at most once, on first authentication
	SponsorID *uint `gorm:"index"`

	// Relationships
	Deposits   []DepositOperation `gorm:"foreignKey:AccountID"`
	Activities []ActivityRecord   `gorm:"foreignKey:AccountID"`
}

// EarningsSnapshot is the durable record of an account's accrual state
type EarningsSnapshot struct {
	gorm.Model
	AccountID        uint            `gorm:"uniqueIndex;not null"`
	CurrentEarned    decimal.Decimal `gorm:"type:decimal(30,9);not null;default:0"`
	AccrualStartedAt time.Time       `gorm:"not null"`
	LastSyncedAt     time.Time       `gorm:"index;not null"`
}
