// Package realtime maintains a live channel for balance and activity
// changes, validates inbound payloads, and fans them out to local
// observers. Malformed or suspicious events are logged and dropped, never
// surfaced to the user and never admitted into the feed.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/metrics"
	"github.com/tonyield/miner/internal/models"
)

const (
	defaultFeedSize       = 10
	defaultReconnectDelay = 5 * time.Second
	defaultClockSkew      = time.Minute
	dedupCacheSize        = 256
)

// BalanceEvent is the wire form of a balance-changed notification.
type BalanceEvent struct {
	AccountID uint             `json:"account_id"`
	Balance   *decimal.Decimal `json:"balance"`
	Timestamp time.Time        `json:"timestamp"`
}

// ActivityEvent is the wire form of a new-activity notification.
type ActivityEvent struct {
	ID           string           `json:"id"`
	AccountID    uint             `json:"account_id"`
	Type         string           `json:"type"`
	Amount       *decimal.Decimal `json:"amount"`
	Denomination string           `json:"denomination"`
	TxHash       *string          `json:"tx_hash,omitempty"`
	Status       string           `json:"status"`
	Timestamp    time.Time        `json:"timestamp"`
}

// State is the observer-visible cached state.
type State struct {
	Balance         decimal.Decimal
	PreviousBalance decimal.Decimal
	Feed            []models.ActivityRecord
}

// Observer receives state snapshots. Callbacks must not panic their way
// out of the subscription loop; panics are recovered and logged.
type Observer func(State)

// HistoryStore provides the on-demand feed refresh.
type HistoryStore interface {
	RecentActivity(ctx context.Context, accountID uint, limit int) ([]models.ActivityRecord, error)
}

// BalanceChannel returns the pub/sub channel for an account's balance.
func BalanceChannel(accountID uint) string {
	return fmt.Sprintf("account:%d:balance", accountID)
}

// ActivityChannel returns the pub/sub channel for an account's activity.
func ActivityChannel(accountID uint) string {
	return fmt.Sprintf("account:%d:activity", accountID)
}

// Manager owns one account's realtime subscription.
type Manager struct {
	accountID      uint
	client         *redis.Client
	history        HistoryStore
	logger         zerolog.Logger
	reconnectDelay time.Duration
	clockSkew      time.Duration
	feedSize       int
	retries        *RetryQueue

	mu            sync.Mutex
	balance       decimal.Decimal
	prevBalance   decimal.Decimal
	balanceAsOf   time.Time
	feed          []models.ActivityRecord
	seen          *lru.Cache
	observers     []Observer

	nowFunc func() time.Time
}

// NewManager creates a subscription manager for the given account.
func NewManager(client *redis.Client, accountID uint, initialBalance decimal.Decimal, history HistoryStore, logger zerolog.Logger) *Manager {
	seen, _ := lru.New(dedupCacheSize)

	return &Manager{
		accountID:      accountID,
		client:         client,
		history:        history,
		logger:         logger.With().Str("component", "realtime").Uint("account_id", accountID).Logger(),
		reconnectDelay: defaultReconnectDelay,
		clockSkew:      defaultClockSkew,
		feedSize:       defaultFeedSize,
		retries:        NewRetryQueue(3, time.Second, logger),
		balance:        initialBalance,
		prevBalance:    initialBalance,
		seen:           seen,
		nowFunc:        time.Now,
	}
}

// AddObserver registers a callback for state changes.
func (m *Manager) AddObserver(fn Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// State returns the current cached state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Run maintains the subscription until the context is cancelled. On a
// connect error or unexpected drop it schedules a reconnect after a fixed
// delay and keeps retrying; it never stops listening without a scheduled
// retry.
func (m *Manager) Run(ctx context.Context) error {
	go func() {
		if err := m.retries.Run(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error().Err(err).Msg("Retry queue stopped unexpectedly")
		}
	}()

	// Initial feed load goes through the retry queue so a transient fetch
	// failure does not surface immediately.
	m.RequestRefresh()

	for {
		if err := m.consume(ctx); err != nil {
			if ctx.Err() != nil {
				m.logger.Info().Msg("Subscription manager received shutdown signal")
				return ctx.Err()
			}

			metrics.SubscriptionReconnects.Inc()
			m.logger.Warn().
				Err(err).
				Dur("reconnect_delay", m.reconnectDelay).
				Msg("Subscription dropped, scheduling reconnect")

			select {
			case <-time.After(m.reconnectDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (m *Manager) consume(ctx context.Context) error {
	pubsub := m.client.Subscribe(ctx, BalanceChannel(m.accountID), ActivityChannel(m.accountID))
	defer pubsub.Close()

	// Force the initial handshake so connect errors surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	m.logger.Debug().Msg("Subscribed to realtime channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			m.dispatch(msg)
		}
	}
}

func (m *Manager) dispatch(msg *redis.Message) {
	switch msg.Channel {
	case BalanceChannel(m.accountID):
		m.handleBalance([]byte(msg.Payload))
	case ActivityChannel(m.accountID):
		m.handleActivity([]byte(msg.Payload))
	default:
		metrics.RecordEventDropped("unknown_channel")
		m.logger.Warn().Str("channel", msg.Channel).Msg("Dropping event from unexpected channel")
	}
}

// handleBalance applies a balance-changed event, keeping the previous
// value for delta display. Events may arrive out of order; last write wins
// by event timestamp, not arrival order.
func (m *Manager) handleBalance(payload []byte) {
	var event BalanceEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.RecordEventDropped("malformed")
		m.logger.Warn().Err(err).Msg("Dropping malformed balance event")
		return
	}

	if err := m.validateBalance(event); err != nil {
		metrics.RecordEventDropped(reason(err))
		m.logger.Warn().Err(err).Msg("Dropping invalid balance event")
		return
	}

	m.mu.Lock()
	if !event.Timestamp.After(m.balanceAsOf) {
		m.mu.Unlock()
		m.logger.Debug().Time("event_ts", event.Timestamp).Msg("Ignoring stale balance event")
		return
	}
	m.prevBalance = m.balance
	m.balance = *event.Balance
	m.balanceAsOf = event.Timestamp
	state := m.stateLocked()
	m.mu.Unlock()

	m.notify(state)
}

// handleActivity validates and inserts a new activity entry, deduplicated
// by id, into the bounded live feed.
func (m *Manager) handleActivity(payload []byte) {
	var event ActivityEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.RecordEventDropped("malformed")
		m.logger.Warn().Err(err).Msg("Dropping malformed activity event")
		return
	}

	if err := m.validateActivity(event); err != nil {
		metrics.RecordEventDropped(reason(err))
		m.logger.Warn().Err(err).Str("entry_id", event.ID).Msg("Dropping invalid activity event")
		return
	}

	m.mu.Lock()
	if m.seen.Contains(event.ID) {
		m.mu.Unlock()
		m.logger.Debug().Str("entry_id", event.ID).Msg("Ignoring duplicate activity event")
		return
	}
	m.seen.Add(event.ID, struct{}{})

	record := models.ActivityRecord{
		ID:           event.ID,
		AccountID:    event.AccountID,
		Type:         event.Type,
		Amount:       *event.Amount,
		Denomination: event.Denomination,
		TxHash:       event.TxHash,
		Status:       event.Status,
		CreatedAt:    event.Timestamp,
	}
	m.feed = append([]models.ActivityRecord{record}, m.feed...)
	if len(m.feed) > m.feedSize {
		m.feed = m.feed[:m.feedSize]
	}
	state := m.stateLocked()
	m.mu.Unlock()

	m.notify(state)
}

// RequestRefresh queues a feed refresh through the bounded retry queue.
func (m *Manager) RequestRefresh() {
	m.retries.Enqueue("feed_refresh", func(ctx context.Context) error {
		return m.refresh(ctx)
	})
}

func (m *Manager) refresh(ctx context.Context) error {
	records, err := m.history.RecentActivity(ctx, m.accountID, m.feedSize)
	if err != nil {
		return fmt.Errorf("failed to refresh activity feed: %w", err)
	}

	m.mu.Lock()
	m.feed = records
	for _, record := range records {
		m.seen.Add(record.ID, struct{}{})
	}
	state := m.stateLocked()
	m.mu.Unlock()

	m.notify(state)
	return nil
}

func (m *Manager) stateLocked() State {
	feed := make([]models.ActivityRecord, len(m.feed))
	copy(feed, m.feed)
	return State{
		Balance:         m.balance,
		PreviousBalance: m.prevBalance,
		Feed:            feed,
	}
}

func (m *Manager) notify(state State) {
	m.mu.Lock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().Interface("panic", r).Msg("Observer panicked")
				}
			}()
			fn(state)
		}()
	}
}
