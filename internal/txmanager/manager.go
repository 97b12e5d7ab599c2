// Package txmanager serializes deposit and withdrawal operations for one
// account through a single FIFO queue. Balance changes are applied
// optimistically and compensated if the external signer call fails; the
// queue is the only writer of staked-principal changes.
package txmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/metrics"
	"github.com/tonyield/miner/internal/models"
	"github.com/tonyield/miner/internal/wallet"
)

// ValidationError rejects malformed input at the boundary. The request
// never enters the queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Kind distinguishes deposits from withdrawals in the queue.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
)

const maxIDAttempts = 3

// Store is the durable-state surface the orchestrator needs.
type Store interface {
	CreateDeposit(ctx context.Context, op *models.DepositOperation) error
	UpdateDepositStatus(ctx context.Context, opID, status string, txRef, errDetail *string) error
	HasDepositID(ctx context.Context, opID string) (bool, error)
	SetStakedBalance(ctx context.Context, accountID uint, amount decimal.Decimal) error
	AppendActivity(ctx context.Context, record *models.ActivityRecord) error
	CreateReferralReward(ctx context.Context, reward *models.ReferralReward) error
	MarkReferralPaid(ctx context.Context, depositID string) error
	HasPendingWithdrawal(ctx context.Context, accountID uint) (bool, error)
	LastWithdrawalAt(ctx context.Context, accountID uint) (time.Time, error)
}

// Config holds orchestrator policy.
type Config struct {
	MinDeposit        decimal.Decimal
	WithdrawCooldown  time.Duration
	ConfirmRetries    int
	ConfirmRetryDelay time.Duration
	StakeDestination  string
	ReferralPercent   decimal.Decimal
	Denomination      string
}

// Operation is the in-memory view of a queued or completed operation.
type Operation struct {
	ID     string
	Kind   Kind
	Amount decimal.Decimal
	Status string
	Err    error
}

// BalanceListener is notified of every local balance change, optimistic
// updates and reverts included.
type BalanceListener func(balance decimal.Decimal)

type request struct {
	id      string
	kind    Kind
	amount  decimal.Decimal
	address string
}

// Manager is the single-writer orchestrator for one account's principal.
type Manager struct {
	accountID uint
	sponsorID *uint
	store     Store
	signer    wallet.Signer
	cfg       Config
	logger    zerolog.Logger
	refresh   *Debouncer

	mu        sync.Mutex
	confirmed decimal.Decimal
	balance   decimal.Decimal
	ops       map[string]*Operation
	listeners []BalanceListener
	refreshFn func()

	queue   chan *request
	idFunc  func() string
	nowFunc func() time.Time
}

// New creates an orchestrator seeded with the last confirmed balance.
func New(accountID uint, sponsorID *uint, confirmedBalance decimal.Decimal, st Store, signer wallet.Signer, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.ConfirmRetries <= 0 {
		cfg.ConfirmRetries = 3
	}
	if cfg.ConfirmRetryDelay <= 0 {
		cfg.ConfirmRetryDelay = 500 * time.Millisecond
	}
	if cfg.Denomination == "" {
		cfg.Denomination = "TON"
	}

	return &Manager{
		accountID: accountID,
		sponsorID: sponsorID,
		store:     st,
		signer:    signer,
		cfg:       cfg,
		logger:    logger.With().Str("component", "txmanager").Uint("account_id", accountID).Logger(),
		refresh:   NewDebouncer(time.Second),
		confirmed: confirmedBalance,
		balance:   confirmedBalance,
		ops:       make(map[string]*Operation),
		queue:     make(chan *request, 16),
		idFunc:    uuid.NewString,
		nowFunc:   time.Now,
	}
}

// OnBalanceChange registers a listener for local balance changes.
func (m *Manager) OnBalanceChange(fn BalanceListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// OnRefresh registers a callback fired (debounced) after each completed
// operation, for feed refreshes.
func (m *Manager) OnRefresh(fn func()) {
	m.mu.Lock()
	m.refreshFn = fn
	m.mu.Unlock()
}

// Balance returns the current local balance, optimistic updates included.
func (m *Manager) Balance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// Status returns the current view of an operation.
func (m *Manager) Status(opID string) (Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[opID]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// SubmitDeposit validates and enqueues a deposit, returning the operation
// id. Validation failures never create a queue entry.
func (m *Manager) SubmitDeposit(ctx context.Context, amount decimal.Decimal) (string, error) {
	if amount.Sign() <= 0 {
		return "", &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amount.LessThan(m.cfg.MinDeposit) {
		return "", &ValidationError{Field: "amount", Reason: fmt.Sprintf("below minimum deposit %s", m.cfg.MinDeposit)}
	}

	id, err := m.newOperationID(ctx)
	if err != nil {
		return "", err
	}

	return m.enqueue(ctx, &request{id: id, kind: KindDeposit, amount: amount})
}

// SubmitWithdrawal validates the request and account-level withdrawal
// policy, then enqueues it.
func (m *Manager) SubmitWithdrawal(ctx context.Context, amount decimal.Decimal, address string) (string, error) {
	if amount.Sign() <= 0 {
		return "", &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amount.GreaterThan(m.Balance()) {
		return "", &ValidationError{Field: "amount", Reason: "exceeds available balance"}
	}
	if err := m.checkWithdrawalPolicy(ctx, address); err != nil {
		return "", err
	}

	id, err := m.newOperationID(ctx)
	if err != nil {
		return "", err
	}

	return m.enqueue(ctx, &request{id: id, kind: KindWithdrawal, amount: amount, address: address})
}

func (m *Manager) enqueue(ctx context.Context, req *request) (string, error) {
	m.mu.Lock()
	m.ops[req.id] = &Operation{
		ID:     req.id,
		Kind:   req.kind,
		Amount: req.amount,
		Status: models.DepositStatusQueued,
	}
	m.mu.Unlock()

	select {
	case m.queue <- req:
		m.logger.Debug().Str("operation_id", req.id).Str("kind", string(req.kind)).Msg("Operation queued")
		return req.id, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.ops, req.id)
		m.mu.Unlock()
		return "", ctx.Err()
	}
}

// newOperationID generates a unique id, retrying with a fresh id on
// collision. Exhausting the bounded attempts fails as non-retryable.
func (m *Manager) newOperationID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := m.idFunc()
		taken, err := m.store.HasDepositID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check operation id: %w", err)
		}
		if !taken {
			return id, nil
		}
		m.logger.Warn().Str("operation_id", id).Msg("Operation id collision, regenerating")
	}
	return "", fmt.Errorf("failed to generate unique operation id after %d attempts", maxIDAttempts)
}

// Run processes the queue. Operations are strictly serialized: the next
// request is not dequeued until the current one reaches a terminal state.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info().Msg("Starting transaction manager")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Transaction manager received shutdown signal")
			m.refresh.Stop()
			return ctx.Err()
		case req := <-m.queue:
			m.process(ctx, req)
		}
	}
}

func (m *Manager) process(ctx context.Context, req *request) {
	started := m.nowFunc()
	logger := m.logger.With().Str("operation_id", req.id).Str("kind", string(req.kind)).Logger()

	m.setStatus(req.id, models.DepositStatusSubmitting, nil)

	// Durable pending row before any balance mutation
	row := &models.DepositOperation{
		ID:        req.id,
		AccountID: m.accountID,
		Amount:    req.amount,
		Status:    models.DepositStatusSubmitting,
		CreatedAt: started,
	}
	if err := m.store.CreateDeposit(ctx, row); err != nil {
		logger.Error().Err(err).Msg("Failed to record pending operation")
		m.setStatus(req.id, models.DepositStatusFailed, err)
		m.recordOutcome(req.kind, "failed")
		return
	}

	// Optimistic local balance update
	target := m.applyOptimistic(req)

	destination := m.cfg.StakeDestination
	if req.kind == KindWithdrawal {
		destination = req.address
	}

	handle, err := m.signer.Submit(ctx, wallet.Request{
		Destination: destination,
		Amount:      req.amount,
	})
	if err != nil {
		m.revertOptimistic()
		detail := err.Error()
		m.persistStatus(ctx, req.id, models.DepositStatusFailed, nil, &detail, logger)
		m.setStatus(req.id, models.DepositStatusFailed, err)

		status := "failed"
		if errors.Is(err, wallet.ErrUserCancelled) {
			status = "cancelled"
			logger.Info().Msg("Operation cancelled by user")
		} else {
			logger.Error().Err(err).Msg("Signer call failed")
		}
		m.recordOutcome(req.kind, status)
		return
	}

	m.persistStatus(ctx, req.id, models.DepositStatusAwaitingConf, &handle.Reference, nil, logger)
	m.setStatus(req.id, models.DepositStatusAwaitingConf, nil)

	// Durable balance update, bounded exponential backoff
	err = retryWithBackoff(ctx, m.cfg.ConfirmRetries, m.cfg.ConfirmRetryDelay, func() error {
		return m.store.SetStakedBalance(ctx, m.accountID, target)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Durable balance update failed after retries")
		m.revertOptimistic()
		detail := err.Error()
		m.persistStatus(ctx, req.id, models.DepositStatusFailed, nil, &detail, logger)
		m.setStatus(req.id, models.DepositStatusFailed, err)
		m.recordOutcome(req.kind, "failed")
		return
	}

	m.confirm(target)
	m.persistStatus(ctx, req.id, models.DepositStatusConfirmed, nil, nil, logger)
	m.setStatus(req.id, models.DepositStatusConfirmed, nil)
	m.recordOutcome(req.kind, "confirmed")
	metrics.DepositDuration.Observe(m.nowFunc().Sub(started).Seconds())

	logger.Info().
		Str("amount", req.amount.String()).
		Str("balance", target.String()).
		Str("tx_reference", handle.Reference).
		Msg("Operation confirmed")

	// Dependent side effects run independently; their failures never roll
	// back the confirmed operation.
	m.appendActivity(ctx, req, handle.Reference, logger)
	if req.kind == KindDeposit {
		m.propagateReferral(ctx, req, logger)
	}

	m.mu.Lock()
	fn := m.refreshFn
	m.mu.Unlock()
	if fn != nil {
		m.refresh.Trigger(fn)
	}
}

func (m *Manager) applyOptimistic(req *request) decimal.Decimal {
	m.mu.Lock()
	if req.kind == KindDeposit {
		m.balance = m.confirmed.Add(req.amount)
	} else {
		m.balance = m.confirmed.Sub(req.amount)
	}
	target := m.balance
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	notifyBalance(listeners, target)
	return target
}

func (m *Manager) revertOptimistic() {
	m.mu.Lock()
	m.balance = m.confirmed
	balance := m.balance
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	notifyBalance(listeners, balance)
}

func (m *Manager) confirm(target decimal.Decimal) {
	m.mu.Lock()
	m.confirmed = target
	m.balance = target
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	notifyBalance(listeners, target)
}

func (m *Manager) snapshotListenersLocked() []BalanceListener {
	listeners := make([]BalanceListener, len(m.listeners))
	copy(listeners, m.listeners)
	return listeners
}

func notifyBalance(listeners []BalanceListener, balance decimal.Decimal) {
	for _, fn := range listeners {
		fn(balance)
	}
}

func (m *Manager) setStatus(opID, status string, err error) {
	m.mu.Lock()
	if op, ok := m.ops[opID]; ok {
		op.Status = status
		op.Err = err
	}
	m.mu.Unlock()
}

func (m *Manager) persistStatus(ctx context.Context, opID, status string, txRef, errDetail *string, logger zerolog.Logger) {
	if err := m.store.UpdateDepositStatus(ctx, opID, status, txRef, errDetail); err != nil {
		logger.Warn().Err(err).Str("status", status).Msg("Failed to persist operation status")
	}
}

func (m *Manager) appendActivity(ctx context.Context, req *request, txRef string, logger zerolog.Logger) {
	activityType := models.ActivityTypeStake
	if req.kind == KindWithdrawal {
		activityType = models.ActivityTypeWithdrawal
	}

	record := &models.ActivityRecord{
		ID:           m.idFunc(),
		AccountID:    m.accountID,
		Type:         activityType,
		Amount:       req.amount,
		Denomination: m.cfg.Denomination,
		TxHash:       &txRef,
		Status:       models.ActivityStatusCompleted,
		CreatedAt:    m.nowFunc(),
	}

	err := retryWithBackoff(ctx, m.cfg.ConfirmRetries, m.cfg.ConfirmRetryDelay, func() error {
		return m.store.AppendActivity(ctx, record)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to append activity record after retries")
	}
}

// propagateReferral credits the sponsor after a confirmed deposit. The
// reward row stays pending if propagation exhausts its retries, for an
// operator job to re-drive; it is never dropped silently.
func (m *Manager) propagateReferral(ctx context.Context, req *request, logger zerolog.Logger) {
	if m.sponsorID == nil || m.cfg.ReferralPercent.Sign() <= 0 {
		return
	}

	reward := &models.ReferralReward{
		AccountID: m.accountID,
		SponsorID: *m.sponsorID,
		DepositID: req.id,
		Amount:    req.amount.Mul(m.cfg.ReferralPercent).Div(decimal.NewFromInt(100)),
		Status:    models.ReferralStatusPending,
	}
	if err := m.store.CreateReferralReward(ctx, reward); err != nil {
		logger.Warn().Err(err).Msg("Failed to record referral reward")
		return
	}

	err := retryWithBackoff(ctx, m.cfg.ConfirmRetries, m.cfg.ConfirmRetryDelay, func() error {
		return m.store.MarkReferralPaid(ctx, req.id)
	})
	if err != nil {
		logger.Warn().
			Err(err).
			Uint("sponsor_id", *m.sponsorID).
			Msg("Referral propagation failed after retries, reward left pending")
	}
}

func (m *Manager) recordOutcome(kind Kind, status string) {
	if kind == KindDeposit {
		metrics.RecordDeposit(status)
	} else {
		metrics.RecordWithdrawal(status)
	}
}

// retryWithBackoff runs fn up to attempts times with exponentially
// increasing delay between attempts.
func retryWithBackoff(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err = fn(); err == nil {
			return nil
		}
	}

	return err
}
