// Package syncer pushes the local accrued value to the remote store,
// subject to rate limiting. A skipped sync is a deliberate policy outcome,
// not an error, and is signaled distinctly from a failure.
package syncer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/metrics"
	"github.com/tonyield/miner/internal/models"
)

// Result classifies the outcome of a sync attempt.
type Result int

const (
	// ResultSynced means the remote write succeeded.
	ResultSynced Result = iota
	// ResultSkipped means the rate limiter declined the attempt. Not an
	// error; callers must not retry or back off.
	ResultSkipped
	// ResultFailed means the remote write failed after the limiter
	// admitted it.
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSynced:
		return "synced"
	case ResultSkipped:
		return "skipped"
	case ResultFailed:
		return "failed"
	}
	return "unknown"
}

// SnapshotStore is the remote store surface the syncer needs.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, accountID uint) (*models.EarningsSnapshot, error)
	UpsertSnapshot(ctx context.Context, accountID uint, earned decimal.Decimal) error
}

// Syncer pushes accrued values for one account. The remote write is a set,
// so repeated syncs with the same value are safe.
type Syncer struct {
	accountID  uint
	store      SnapshotStore
	limiter    *Limiter
	flushAfter int
	logger     zerolog.Logger

	mu       sync.Mutex
	lastGood decimal.Decimal
	pending  int
}

// New creates a syncer for the given account. The limiter must be owned by
// this syncer alone.
func New(accountID uint, store SnapshotStore, limiter *Limiter, flushAfter int, logger zerolog.Logger) *Syncer {
	return &Syncer{
		accountID:  accountID,
		store:      store,
		limiter:    limiter,
		flushAfter: flushAfter,
		logger:     logger.With().Str("component", "syncer").Uint("account_id", accountID).Logger(),
	}
}

// Sync pushes the current value, honoring both rate-limit policies.
func (s *Syncer) Sync(ctx context.Context, value decimal.Decimal) (Result, error) {
	return s.sync(ctx, value, false)
}

// ForceSync pushes the current value, bypassing the minimum-interval
// policy (but not the hourly cap). Used on teardown and when the pending
// write counter reaches the flush threshold.
func (s *Syncer) ForceSync(ctx context.Context, value decimal.Decimal) (Result, error) {
	return s.sync(ctx, value, true)
}

// NotePending counts a local write that has not yet been flushed and
// reports whether the flush threshold has been reached.
func (s *Syncer) NotePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending++
	return s.pending >= s.flushAfter
}

// LastKnownGood returns the most recent value confirmed or observed
// remotely. After a failed write it reflects the read-after-fail result.
func (s *Syncer) LastKnownGood() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGood
}

func (s *Syncer) sync(ctx context.Context, value decimal.Decimal, force bool) (Result, error) {
	if !s.limiter.Allow(force) {
		metrics.RecordSync(ResultSkipped.String())
		s.logger.Debug().Str("value", value.String()).Msg("Sync skipped by rate limiter")
		return ResultSkipped, nil
	}

	if err := s.store.UpsertSnapshot(ctx, s.accountID, value); err != nil {
		metrics.RecordSync(ResultFailed.String())
		s.logger.Warn().Err(err).Str("value", value.String()).Msg("Sync failed")

		// Re-validate against the remote's last known good value rather
		// than blindly retrying the same write.
		if snapshot, rerr := s.store.GetSnapshot(ctx, s.accountID); rerr == nil {
			s.mu.Lock()
			s.lastGood = snapshot.CurrentEarned
			s.mu.Unlock()
		} else {
			s.logger.Warn().Err(rerr).Msg("Read-after-fail revalidation failed")
		}

		return ResultFailed, err
	}

	s.mu.Lock()
	s.lastGood = value
	s.pending = 0
	s.mu.Unlock()

	metrics.RecordSync(ResultSynced.String())
	s.logger.Debug().Str("value", value.String()).Msg("Synced accrued value")
	return ResultSynced, nil
}
