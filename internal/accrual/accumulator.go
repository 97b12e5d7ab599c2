package accrual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/metrics"
	"github.com/tonyield/miner/internal/rate"
	"github.com/tonyield/miner/internal/session"
)

// ErrCeilingExceeded is returned once accrued earnings reach the configured
// ceiling. Accrual halts for the account and the condition is surfaced
// rather than clamped.
var ErrCeilingExceeded = errors.New("accrued earnings exceed configured ceiling")

// SuspendStore persists suspend state so offline gaps can be credited
// after a process restart.
type SuspendStore interface {
	SaveSuspendState(ctx context.Context, accountID uint, state session.SuspendState) error
	TakeSuspendState(ctx context.Context, accountID uint) (*session.SuspendState, error)
}

// Snapshot is a read-only copy of the accumulator state handed to observers.
type Snapshot struct {
	AccountID uint
	Staked    decimal.Decimal
	Accrued   decimal.Decimal
	Rate      decimal.Decimal
	LastTick  time.Time
	Active    bool
	Halted    bool
}

// Observer receives accumulator snapshots after each state change.
// Observers must not block; panics are caught and logged.
type Observer func(Snapshot)

// Config bounds the accumulator's behavior.
type Config struct {
	Ceiling       decimal.Decimal
	MaxTickGap    time.Duration
	MaxOfflineGap time.Duration
}

// Accumulator owns the local accrual state for one account. All other
// components read snapshots or request mutations through its API; nothing
// else writes the accrued value or last-tick time.
type Accumulator struct {
	accountID uint
	calc      *rate.Calculator
	cfg       Config
	logger    zerolog.Logger

	mu        sync.Mutex
	staked    decimal.Decimal
	accrued   decimal.Decimal
	startedAt time.Time
	lastTick  time.Time
	active    bool
	suspended bool
	halted    bool
	observers []Observer

	nowFunc func() time.Time
}

// New creates an accumulator for the given account.
func New(accountID uint, calc *rate.Calculator, cfg Config, logger zerolog.Logger) *Accumulator {
	if cfg.MaxTickGap <= 0 {
		cfg.MaxTickGap = 3 * time.Hour
	}
	if cfg.MaxOfflineGap <= 0 {
		cfg.MaxOfflineGap = 7 * 24 * time.Hour
	}

	return &Accumulator{
		accountID: accountID,
		calc:      calc,
		cfg:       cfg,
		logger:    logger.With().Str("component", "accumulator").Uint("account_id", accountID).Logger(),
		nowFunc:   time.Now,
	}
}

// Init seeds the accumulator from the remote snapshot. Must be called
// before the first tick.
func (a *Accumulator) Init(accrued, staked decimal.Decimal, startedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.accrued = accrued
	a.staked = staked
	a.startedAt = startedAt
	a.lastTick = a.nowFunc()
	a.active = staked.Sign() > 0
}

// SetStake updates the staked principal after a confirmed deposit or
// withdrawal. The next tick picks up the new rate immediately.
func (a *Accumulator) SetStake(staked decimal.Decimal) {
	a.mu.Lock()
	a.staked = staked
	a.active = staked.Sign() > 0 && !a.halted
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
}

// AddObserver registers a callback invoked after every state change.
func (a *Accumulator) AddObserver(fn Observer) {
	a.mu.Lock()
	a.observers = append(a.observers, fn)
	a.mu.Unlock()
}

// Tick advances the accrued value by rate * elapsed. Elapsed time is
// clamped to MaxTickGap; larger gaps are the offline compensator's job
// and crediting them here would double-count.
func (a *Accumulator) Tick() error {
	a.mu.Lock()

	now := a.nowFunc()
	if !a.active || a.suspended || a.halted {
		a.lastTick = now
		a.mu.Unlock()
		return nil
	}

	elapsed := now.Sub(a.lastTick)
	a.lastTick = now
	if elapsed <= 0 {
		a.mu.Unlock()
		return nil
	}
	if elapsed > a.cfg.MaxTickGap {
		a.logger.Warn().
			Dur("elapsed", elapsed).
			Dur("max_tick_gap", a.cfg.MaxTickGap).
			Msg("Clamping oversized tick gap")
		elapsed = a.cfg.MaxTickGap
	}

	perSecond := a.calc.PerSecond(a.staked, a.daysStakedLocked(now))
	a.accrued = a.accrued.Add(perSecond.Mul(decimal.NewFromFloat(elapsed.Seconds())))
	metrics.TicksTotal.Inc()

	if err := a.checkCeilingLocked(); err != nil {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		a.notify(snap)
		return err
	}

	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return nil
}

// Suspend stops ticking and persists (last active, current rate, accrued)
// so the gap can be credited on the next resume.
func (a *Accumulator) Suspend(ctx context.Context, store SuspendStore) error {
	a.mu.Lock()
	now := a.nowFunc()
	state := session.SuspendState{
		LastActive: now,
		Rate:       a.calc.PerSecond(a.staked, a.daysStakedLocked(now)),
		Accrued:    a.accrued,
	}
	a.suspended = true
	a.mu.Unlock()

	if err := store.SaveSuspendState(ctx, a.accountID, state); err != nil {
		return fmt.Errorf("failed to persist suspend state: %w", err)
	}

	a.logger.Debug().
		Time("last_active", state.LastActive).
		Str("rate", state.Rate.String()).
		Msg("Suspend state persisted")

	return nil
}

// Resume credits the offline gap at the rate recorded at suspend time and
// returns the credited amount. The persisted pair is consumed, so resuming
// twice without an intervening suspend credits nothing the second time.
// Implausible gaps (negative or beyond MaxOfflineGap) are logged and
// skipped, never credited.
func (a *Accumulator) Resume(ctx context.Context, store SuspendStore) (decimal.Decimal, error) {
	state, err := store.TakeSuspendState(ctx, a.accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read suspend state: %w", err)
	}

	a.mu.Lock()
	now := a.nowFunc()
	a.suspended = false
	a.lastTick = now

	if state == nil {
		a.mu.Unlock()
		return decimal.Zero, nil
	}

	// The persisted accrued value can be ahead of whatever this session
	// was seeded with (a skipped final sync, a stale cache), so merge it
	// before crediting the gap on top.
	a.accrued = Resolve(a.accrued, state.Accrued)

	gap := now.Sub(state.LastActive)
	if gap < 0 || gap > a.cfg.MaxOfflineGap {
		a.mu.Unlock()
		a.logger.Warn().
			Dur("gap", gap).
			Time("last_active", state.LastActive).
			Msg("Implausible offline gap, skipping credit")
		return decimal.Zero, nil
	}

	credited := state.Rate.Mul(decimal.NewFromFloat(gap.Seconds()))
	a.accrued = a.accrued.Add(credited)
	metrics.OfflineGapsCredited.Inc()

	if err := a.checkCeilingLocked(); err != nil {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		a.notify(snap)
		return credited, err
	}

	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.logger.Info().
		Str("credited", credited.String()).
		Dur("gap", gap).
		Msg("Offline gap credited")

	a.notify(snap)
	return credited, nil
}

// Reconcile merges the remote earned value into local state using the
// max-wins policy and returns the resolved value. Legitimate downward
// corrections must bypass this path via ForceSet.
func (a *Accumulator) Reconcile(remote decimal.Decimal) decimal.Decimal {
	a.mu.Lock()

	resolved := Resolve(a.accrued, remote)
	switch {
	case resolved.GreaterThan(a.accrued):
		metrics.RecordReconciliation("remote")
	case resolved.GreaterThan(remote):
		metrics.RecordReconciliation("local")
	default:
		metrics.RecordReconciliation("equal")
	}
	a.accrued = resolved

	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return resolved
}

// ForceSet overwrites the accrued value, bypassing the monotonic
// reconciliation policy. Reserved for administrative corrections.
func (a *Accumulator) ForceSet(value decimal.Decimal) {
	a.mu.Lock()
	a.accrued = value
	a.halted = false
	a.active = a.staked.Sign() > 0
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.logger.Warn().Str("value", value.String()).Msg("Accrued value force-set")
	a.notify(snap)
}

// Accrued returns the current accrued value.
func (a *Accumulator) Accrued() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accrued
}

// Stake returns the current staked principal.
func (a *Accumulator) Stake() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.staked
}

// Halted reports whether accrual has been stopped by the earnings ceiling.
func (a *Accumulator) Halted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.halted
}

// State returns a snapshot of the current accumulator state.
func (a *Accumulator) State() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Accumulator) daysStakedLocked(now time.Time) int {
	if a.startedAt.IsZero() || now.Before(a.startedAt) {
		return 0
	}
	return int(now.Sub(a.startedAt).Hours() / 24)
}

func (a *Accumulator) checkCeilingLocked() error {
	if a.cfg.Ceiling.Sign() > 0 && a.accrued.GreaterThan(a.cfg.Ceiling) {
		if !a.halted {
			a.halted = true
			a.active = false
			metrics.AccrualHalts.Inc()
			a.logger.Error().
				Str("accrued", a.accrued.String()).
				Str("ceiling", a.cfg.Ceiling.String()).
				Msg("Earnings ceiling exceeded, accrual halted")
		}
		return ErrCeilingExceeded
	}
	return nil
}

func (a *Accumulator) snapshotLocked() Snapshot {
	now := a.lastTick
	return Snapshot{
		AccountID: a.accountID,
		Staked:    a.staked,
		Accrued:   a.accrued,
		Rate:      a.calc.PerSecond(a.staked, a.daysStakedLocked(now)),
		LastTick:  a.lastTick,
		Active:    a.active,
		Halted:    a.halted,
	}
}

// notify fans the snapshot out to observers. Observer errors must never
// break the ticking loop, so panics are recovered and logged.
func (a *Accumulator) notify(snap Snapshot) {
	a.mu.Lock()
	observers := make([]Observer, len(a.observers))
	copy(observers, a.observers)
	a.mu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error().Interface("panic", r).Msg("Observer panicked")
				}
			}()
			fn(snap)
		}()
	}
}
