package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit operation statuses
const (
	DepositStatusQueued       = "queued"
	DepositStatusSubmitting   = "submitting"
	DepositStatusAwaitingConf = "awaiting_confirmation"
	DepositStatusConfirmed    = "confirmed"
	DepositStatusFailed       = "failed"
)

// DepositOperation is a request to change an account's staked principal
type DepositOperation struct {
	ID          string          `gorm:"size:36;primaryKey"`
	AccountID   uint            `gorm:"index;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(30,9);not null"`
	Status      string          `gorm:"size:24;index;not null"`
	TxReference *string         `gorm:"size:128"`
	ErrorDetail *string         `gorm:"size:512"`
	CreatedAt   time.Time       `gorm:"index"`
	UpdatedAt   time.Time
}

// Referral reward statuses
const (
	ReferralStatusPending = "pending"
	ReferralStatusPaid    = "paid"
)

// ReferralReward is a sponsor credit generated by a confirmed deposit.
// Rows that exhaust their propagation retries stay pending for an
// operator job to re-drive.
type ReferralReward struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	AccountID uint            `gorm:"index;not null"`
	SponsorID uint            `gorm:"index;not null"`
	DepositID string          `gorm:"size:36;uniqueIndex;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(30,9);not null"`
	Status    string          `gorm:"size:16;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
