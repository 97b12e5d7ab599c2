// Package store is the client of the remote durable state: accounts,
// earnings snapshots, the append-only activity log, deposit operations and
// referral rewards. Writes are last-write-wins rows; the snapshot write is
// a set (not an increment) guarded to never move the earned value backward
// outside the explicit force-set path.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/metrics"
	"github.com/tonyield/miner/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps database operations for the accrual engine
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a new store backed by the given database handle
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// GetAccount fetches an account by id
func (s *Store) GetAccount(ctx context.Context, accountID uint) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, accountID).Error
	if err != nil {
		metrics.RecordDatabaseOperation("read", "failed")
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch account %d: %w", accountID, err)
	}

	metrics.RecordDatabaseOperation("read", "success")
	return &account, nil
}

// ActiveAccountIDs returns the ids of all accounts with a positive stake
func (s *Store) ActiveAccountIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("staked_amount > 0").
		Pluck("id", &ids).Error
	if err != nil {
		metrics.RecordDatabaseOperation("read", "failed")
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}

	metrics.RecordDatabaseOperation("read", "success")
	return ids, nil
}

// TouchAccount records that the account is in use right now. Called when a
// session starts so dormant accounts can be told apart by last_active_at.
func (s *Store) TouchAccount(ctx context.Context, accountID uint) error {
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("last_active_at", time.Now().UTC()).Error
	if err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to touch account %d: %w", accountID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	return nil
}

// GetSnapshot fetches the earnings snapshot for an account, creating it on
// first accrual initialization.
func (s *Store) GetSnapshot(ctx context.Context, accountID uint) (*models.EarningsSnapshot, error) {
	var snapshot models.EarningsSnapshot
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&snapshot).Error
	if err == nil {
		metrics.RecordDatabaseOperation("read", "success")
		return &snapshot, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.RecordDatabaseOperation("read", "failed")
		return nil, fmt.Errorf("failed to fetch snapshot for account %d: %w", accountID, err)
	}

	snapshot = models.EarningsSnapshot{
		AccountID:        accountID,
		CurrentEarned:    decimal.Zero,
		AccrualStartedAt: time.Now().UTC(),
		LastSyncedAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return nil, fmt.Errorf("failed to initialize snapshot for account %d: %w", accountID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	s.logger.Info().Uint("account_id", accountID).Msg("Initialized earnings snapshot")
	return &snapshot, nil
}

// UpsertSnapshot writes the earned value for an account. The write is
// idempotent and monotonic: GREATEST keeps a stale or duplicate sync from
// moving the remote value backward.
func (s *Store) UpsertSnapshot(ctx context.Context, accountID uint, earned decimal.Decimal) error {
	now := time.Now().UTC()

	result := s.db.WithContext(ctx).Exec(
		"UPDATE earnings_snapshots SET current_earned = GREATEST(current_earned, ?), last_synced_at = ?, updated_at = ? WHERE account_id = ?",
		earned, now, now, accountID,
	)
	if result.Error != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to update snapshot for account %d: %w", accountID, result.Error)
	}

	if result.RowsAffected == 0 {
		snapshot := models.EarningsSnapshot{
			AccountID:        accountID,
			CurrentEarned:    earned,
			AccrualStartedAt: now,
			LastSyncedAt:     now,
		}
		if err := s.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
			metrics.RecordDatabaseOperation("write", "failed")
			return fmt.Errorf("failed to create snapshot for account %d: %w", accountID, err)
		}
	}

	// Mirror the lifetime total on the account row, under the same
	// monotonic guard as the snapshot itself.
	err := s.db.WithContext(ctx).Exec(
		"UPDATE accounts SET total_earned = GREATEST(total_earned, ?), updated_at = ? WHERE id = ?",
		earned, now, accountID,
	).Error
	if err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to update lifetime earnings for account %d: %w", accountID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	return nil
}

// ForceSetSnapshot overwrites the earned value, bypassing the monotonic
// guard. Administrative corrections only.
func (s *Store) ForceSetSnapshot(ctx context.Context, accountID uint, earned decimal.Decimal) error {
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Model(&models.EarningsSnapshot{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"current_earned": earned,
			"last_synced_at": now,
		}).Error
	if err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to force-set snapshot for account %d: %w", accountID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	s.logger.Warn().
		Uint("account_id", accountID).
		Str("earned", earned.String()).
		Msg("Snapshot force-set")
	return nil
}

// SetStakedBalance sets the staked principal for an account
func (s *Store) SetStakedBalance(ctx context.Context, accountID uint, amount decimal.Decimal) error {
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("staked_amount", amount).Error
	if err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to update staked balance for account %d: %w", accountID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	return nil
}

// CreateDeposit records a new deposit operation row
func (s *Store) CreateDeposit(ctx context.Context, op *models.DepositOperation) error {
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to create deposit %s: %w", op.ID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	return nil
}

// UpdateDepositStatus transitions a deposit operation
func (s *Store) UpdateDepositStatus(ctx context.Context, opID, status string, txRef, errDetail *string) error {
	updates := map[string]interface{}{"status": status}
	if txRef != nil {
		updates["tx_reference"] = *txRef
	}
	if errDetail != nil {
		updates["error_detail"] = *errDetail
	}

	err := s.db.WithContext(ctx).Model(&models.DepositOperation{}).
		Where("id = ?", opID).
		Updates(updates).Error
	if err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to update deposit %s: %w", opID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	return nil
}

// HasDepositID reports whether a deposit operation id is already taken
func (s *Store) HasDepositID(ctx context.Context, opID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DepositOperation{}).
		Where("id = ?", opID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check deposit id %s: %w", opID, err)
	}
	return count > 0, nil
}

// HasPendingWithdrawal reports whether the account already has a pending
// withdrawal activity
func (s *Store) HasPendingWithdrawal(ctx context.Context, accountID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ActivityRecord{}).
		Where("account_id = ? AND type = ? AND status = ?", accountID, models.ActivityTypeWithdrawal, models.ActivityStatusPending).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check pending withdrawals for account %d: %w", accountID, err)
	}
	return count > 0, nil
}

// LastWithdrawalAt returns the timestamp of the most recent withdrawal, or
// the zero time if none exists.
func (s *Store) LastWithdrawalAt(ctx context.Context, accountID uint) (time.Time, error) {
	var record models.ActivityRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND type = ?", accountID, models.ActivityTypeWithdrawal).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to fetch last withdrawal for account %d: %w", accountID, err)
	}
	return record.CreatedAt, nil
}

// AppendActivity inserts an immutable activity log entry
func (s *Store) AppendActivity(ctx context.Context, record *models.ActivityRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to append activity %s: %w", record.ID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	return nil
}

// RecentActivity returns the most recent activity entries for the live feed
func (s *Store) RecentActivity(ctx context.Context, accountID uint, limit int) ([]models.ActivityRecord, error) {
	var records []models.ActivityRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		metrics.RecordDatabaseOperation("read", "failed")
		return nil, fmt.Errorf("failed to fetch recent activity for account %d: %w", accountID, err)
	}

	metrics.RecordDatabaseOperation("read", "success")
	return records, nil
}

// ActivityHistory returns a page of the full activity history, newest first
func (s *Store) ActivityHistory(ctx context.Context, accountID uint, offset, limit int) ([]models.ActivityRecord, error) {
	var records []models.ActivityRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		metrics.RecordDatabaseOperation("read", "failed")
		return nil, fmt.Errorf("failed to fetch activity history for account %d: %w", accountID, err)
	}

	metrics.RecordDatabaseOperation("read", "success")
	return records, nil
}

// CreateReferralReward records a pending sponsor credit for a deposit
func (s *Store) CreateReferralReward(ctx context.Context, reward *models.ReferralReward) error {
	if err := s.db.WithContext(ctx).Create(reward).Error; err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to create referral reward for deposit %s: %w", reward.DepositID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	return nil
}

// MarkReferralPaid marks a referral reward as propagated
func (s *Store) MarkReferralPaid(ctx context.Context, depositID string) error {
	err := s.db.WithContext(ctx).Model(&models.ReferralReward{}).
		Where("deposit_id = ?", depositID).
		Update("status", models.ReferralStatusPaid).Error
	if err != nil {
		metrics.RecordDatabaseOperation("write", "failed")
		return fmt.Errorf("failed to mark referral paid for deposit %s: %w", depositID, err)
	}

	metrics.RecordDatabaseOperation("write", "success")
	return nil
}
