// Package engine wires the accrual components into per-account sessions
// and manages their lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/accrual"
	"github.com/tonyield/miner/internal/config"
	"github.com/tonyield/miner/internal/models"
	"github.com/tonyield/miner/internal/rate"
	"github.com/tonyield/miner/internal/realtime"
	"github.com/tonyield/miner/internal/syncer"
	"github.com/tonyield/miner/internal/txmanager"
	"github.com/tonyield/miner/internal/wallet"
	"golang.org/x/sync/errgroup"
)

// Store is the remote durable-state surface a session depends on. The
// gorm-backed store satisfies it.
type Store interface {
	GetAccount(ctx context.Context, accountID uint) (*models.Account, error)
	ActiveAccountIDs(ctx context.Context) ([]uint, error)
	TouchAccount(ctx context.Context, accountID uint) error
	syncer.SnapshotStore
	realtime.HistoryStore
	txmanager.Store
}

// SessionStore is the device-local state surface: suspend pairs, the
// accrued-value cache, and the pub/sub client.
type SessionStore interface {
	accrual.SuspendStore
	GetCachedAccrued(ctx context.Context, accountID uint) (decimal.Decimal, error)
	CacheAccrued(ctx context.Context, accountID uint, accrued decimal.Decimal) error
	Client() *redis.Client
}

// Session runs the accrual engine for one account: the ticker, the
// periodic sync loop, the realtime subscription and the transaction
// manager, plus suspend/resume handling.
type Session struct {
	accountID uint
	cfg       config.Config
	acc       *accrual.Accumulator
	sync      *syncer.Syncer
	sessions  SessionStore
	rt        *realtime.Manager
	tx        *txmanager.Manager
	db        Store
	logger    zerolog.Logger
}

// NewSession loads the account's remote state and builds a wired session.
// The locally cached accrued value is merged in so the first displayed
// number never moves backward from what the user last saw on this device.
func NewSession(ctx context.Context, accountID uint, cfg config.Config, db Store, sessions SessionStore, signer wallet.Signer, logger zerolog.Logger) (*Session, error) {
	account, err := db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}

	if err := db.TouchAccount(ctx, accountID); err != nil {
		logger.Warn().Err(err).Uint("account_id", accountID).Msg("Failed to record account activity")
	}

	snapshot, err := db.GetSnapshot(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for account %d: %w", accountID, err)
	}

	calc, err := rate.NewCalculator(cfg.ROITiers, cfg.TimeMultipliers)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate calculator: %w", err)
	}

	seed := snapshot.CurrentEarned
	if cached, err := sessions.GetCachedAccrued(ctx, accountID); err == nil {
		seed = accrual.Resolve(seed, cached)
	} else {
		logger.Warn().Err(err).Uint("account_id", accountID).Msg("Failed to read cached accrued value")
	}

	acc := accrual.New(accountID, calc, accrual.Config{
		Ceiling:       cfg.EarningsCeiling,
		MaxTickGap:    cfg.MaxTickGap,
		MaxOfflineGap: cfg.MaxOfflineGap,
	}, logger)
	acc.Init(seed, account.StakedAmount, snapshot.AccrualStartedAt)

	limiter := syncer.NewLimiter(cfg.SyncMinGap, cfg.SyncMaxPerHour)
	sync := syncer.New(accountID, db, limiter, cfg.SyncFlushAfter, logger)

	rt := realtime.NewManager(sessions.Client(), accountID, account.StakedAmount, db, logger)

	tx := txmanager.New(accountID, account.SponsorID, account.StakedAmount, db, signer, txmanager.Config{
		MinDeposit:        cfg.MinDeposit,
		WithdrawCooldown:  cfg.WithdrawCooldown,
		ConfirmRetries:    cfg.ConfirmRetries,
		ConfirmRetryDelay: cfg.ConfirmRetryDelay,
		StakeDestination:  cfg.StakeDestination,
		ReferralPercent:   cfg.ReferralPercent,
	}, logger)

	s := &Session{
		accountID: accountID,
		cfg:       cfg,
		acc:       acc,
		sync:      sync,
		sessions:  sessions,
		rt:        rt,
		tx:        tx,
		db:        db,
		logger:    logger.With().Str("component", "session").Uint("account_id", accountID).Logger(),
	}

	// The deposit queue is the single writer of principal changes; the
	// accumulator only ever reads the stake it is handed here. Each change
	// also counts toward the sync flush threshold.
	tx.OnBalanceChange(s.onBalanceChange)
	tx.OnRefresh(rt.RequestRefresh)

	return s, nil
}

// Accumulator exposes the accrual state for observers and tests.
func (s *Session) Accumulator() *accrual.Accumulator {
	return s.acc
}

// Transactions exposes the deposit/withdrawal orchestrator.
func (s *Session) Transactions() *txmanager.Manager {
	return s.tx
}

// Realtime exposes the subscription manager.
func (s *Session) Realtime() *realtime.Manager {
	return s.rt
}

// Run drives the session until the context is cancelled, then performs a
// best-effort final sync and suspend-state write.
func (s *Session) Run(ctx context.Context) error {
	// Credit any offline gap left by the previous process, then reconcile
	// against the fresh remote snapshot.
	if err := s.Resume(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Resume on session start failed")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.runTicker(gctx) })
	g.Go(func() error { return s.runSyncLoop(gctx) })
	g.Go(func() error { return s.rt.Run(gctx) })
	g.Go(func() error { return s.tx.Run(gctx) })

	err := g.Wait()

	s.teardown()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Suspend persists the suspend pair and pushes a final sync, for callers
// reacting to a background/hidden transition.
func (s *Session) Suspend(ctx context.Context) error {
	if err := s.acc.Suspend(ctx, s.sessions); err != nil {
		return err
	}

	s.flush(ctx, true)
	return nil
}

// Resume credits the recorded offline gap, reconciles against the remote
// snapshot, and syncs if anything was credited.
func (s *Session) Resume(ctx context.Context) error {
	credited, err := s.acc.Resume(ctx, s.sessions)
	if err != nil && !errors.Is(err, accrual.ErrCeilingExceeded) {
		return err
	}

	snapshot, snapErr := s.db.GetSnapshot(ctx, s.accountID)
	if snapErr != nil {
		s.logger.Warn().Err(snapErr).Msg("Reconciliation fetch failed on resume")
	} else {
		s.acc.Reconcile(snapshot.CurrentEarned)
	}

	if credited.Sign() > 0 {
		s.flush(ctx, true)
	}

	return err
}

// onBalanceChange feeds principal changes into the accumulator and counts
// them as unflushed writes. Reaching the threshold earns a forced sync;
// plain ticks never do.
func (s *Session) onBalanceChange(balance decimal.Decimal) {
	s.acc.SetStake(balance)
	if s.sync.NotePending() {
		go s.flush(context.Background(), true)
	}
}

func (s *Session) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.acc.Tick(); err != nil {
				// Halted accounts stay halted; keep the loop alive so
				// sync and realtime continue to serve reads.
				s.logger.Error().Err(err).Msg("Accrual halted")
			}
		}
	}
}

func (s *Session) runSyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.acc.State().Active {
				continue
			}
			s.flush(ctx, false)
		}
	}
}

// flush pushes the current accrued value and refreshes the local cache.
// The periodic loop flushes unforced so the minimum sync interval binds;
// only operation thresholds, suspend and teardown force past it. The
// rolling hourly cap binds either way.
func (s *Session) flush(ctx context.Context, force bool) {
	accrued := s.acc.Accrued()

	push := s.sync.Sync
	if force {
		push = s.sync.ForceSync
	}
	if _, err := push(ctx, accrued); err != nil {
		s.logger.Warn().Err(err).Msg("Sync failed")
	}

	if err := s.sessions.CacheAccrued(ctx, s.accountID, accrued); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to cache accrued value")
	}
}

// teardown runs after the context is cancelled, so it uses its own
// short-lived context for the final flush.
func (s *Session) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.acc.Suspend(ctx, s.sessions); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist suspend state on shutdown")
	}

	s.flush(ctx, true)

	s.logger.Info().Msg("Session stopped")
}
