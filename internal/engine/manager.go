package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tonyield/miner/internal/config"
	"github.com/tonyield/miner/internal/metrics"
	"github.com/tonyield/miner/internal/wallet"
	"golang.org/x/sync/errgroup"
)

// Manager runs accrual sessions for all active accounts
type Manager struct {
	cfg      config.Config
	db       Store
	sessions SessionStore
	signer   wallet.Signer
	logger   zerolog.Logger
	mutex    sync.RWMutex
	running  map[uint]*Session
	ctx      context.Context
	cancel   context.CancelFunc
	eg       *errgroup.Group
	stopped  bool
}

// NewManager creates a new session manager
func NewManager(cfg config.Config, db Store, sessions SessionStore, signer wallet.Signer, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	return &Manager{
		cfg:      cfg,
		db:       db,
		sessions: sessions,
		signer:   signer,
		logger:   logger.With().Str("component", "engine_manager").Logger(),
		running:  make(map[uint]*Session),
		ctx:      egCtx,
		cancel:   cancel,
		eg:       eg,
	}
}

// Start begins sessions for every account with a positive stake
func (m *Manager) Start() error {
	accountIDs, err := m.db.ActiveAccountIDs(m.ctx)
	if err != nil {
		return fmt.Errorf("failed to list active accounts: %w", err)
	}

	m.logger.Info().Int("accounts", len(accountIDs)).Msg("Starting session manager")

	for _, accountID := range accountIDs {
		if err := m.StartSession(accountID); err != nil {
			m.logger.Error().Err(err).Uint("account_id", accountID).Msg("Failed to start session")
		}
	}

	// Start session monitoring
	m.eg.Go(func() error {
		return m.runMonitoring()
	})

	m.logger.Info().Msg("Session manager started successfully")
	return nil
}

// StartSession creates and runs a session for one account
func (m *Manager) StartSession(accountID uint) error {
	m.mutex.Lock()
	if _, exists := m.running[accountID]; exists {
		m.mutex.Unlock()
		return fmt.Errorf("session for account %d already running", accountID)
	}
	m.mutex.Unlock()

	sess, err := NewSession(m.ctx, accountID, m.cfg, m.db, m.sessions, m.signer, m.logger)
	if err != nil {
		return fmt.Errorf("failed to build session for account %d: %w", accountID, err)
	}

	m.mutex.Lock()
	m.running[accountID] = sess
	metrics.ActiveSessions.Set(float64(len(m.running)))
	m.mutex.Unlock()

	m.eg.Go(func() error {
		err := sess.Run(m.ctx)

		m.mutex.Lock()
		delete(m.running, accountID)
		metrics.ActiveSessions.Set(float64(len(m.running)))
		m.mutex.Unlock()

		return err
	})

	m.logger.Debug().Uint("account_id", accountID).Msg("Session started")
	return nil
}

// Session returns the running session for an account, if any
func (m *Manager) Session(accountID uint) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	sess, ok := m.running[accountID]
	return sess, ok
}

// Stop gracefully shuts down all sessions
func (m *Manager) Stop() error {
	m.mutex.Lock()
	if m.stopped {
		m.mutex.Unlock()
		return nil
	}
	m.stopped = true
	m.mutex.Unlock()

	m.logger.Info().Msg("Stopping session manager...")

	// Cancel context to signal all sessions to stop
	m.cancel()

	// Wait for all sessions to finish with timeout
	done := make(chan error, 1)
	go func() {
		done <- m.eg.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Msg("Error during session shutdown")
		}
	case <-time.After(30 * time.Second):
		m.logger.Warn().Msg("Session shutdown timed out")
	}

	m.mutex.Lock()
	m.running = make(map[uint]*Session)
	m.mutex.Unlock()

	metrics.ActiveSessions.Set(0)
	m.logger.Info().Msg("Session manager stopped")
	return nil
}

// runMonitoring periodically logs session statistics
func (m *Manager) runMonitoring() error {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-ticker.C:
			m.mutex.RLock()
			active := len(m.running)
			halted := 0
			for _, sess := range m.running {
				if sess.Accumulator().Halted() {
					halted++
				}
			}
			m.mutex.RUnlock()

			m.logger.Info().
				Int("active_sessions", active).
				Int("halted_sessions", halted).
				Msg("Session monitoring stats")
		}
	}
}
