package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Activity types (closed set)
const (
	ActivityTypeStake      = "stake"
	ActivityTypeClaim      = "claim"
	ActivityTypeWithdrawal = "withdrawal"
	ActivityTypeConversion = "conversion"
)

// Activity statuses
const (
	ActivityStatusPending   = "pending"
	ActivityStatusCompleted = "completed"
	ActivityStatusFailed    = "failed"
)

// ActivityRecord is an immutable append-only log entry for display and audit
type ActivityRecord struct {
	ID           string          `gorm:"size:36;primaryKey"`
	AccountID    uint            `gorm:"index;not null"`
	Type         string          `gorm:"size:16;index;not null"`
	Amount       decimal.Decimal `gorm:"type:decimal(30,9);not null"`
	Denomination string          `gorm:"size:16;not null"`
	Counterparty *string         `gorm:"size:68"`
	TxHash       *string         `gorm:"size:128"`
	Status       string          `gorm:"size:16;not null"`
	CreatedAt    time.Time       `gorm:"index"`
}

// ValidType reports whether t is one of the known activity types.
func ValidType(t string) bool {
	switch t {
	case ActivityTypeStake, ActivityTypeClaim, ActivityTypeWithdrawal, ActivityTypeConversion:
		return true
	}
	return false
}
