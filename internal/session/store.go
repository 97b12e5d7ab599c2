package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	suspendKey = "accrual_suspend"
	cacheKey   = "accrual_cache"
)

// SuspendState is the persisted (last active, rate at suspend) pair used
// to credit offline gaps on resume.
type SuspendState struct {
	LastActive time.Time
	Rate       decimal.Decimal
	Accrued    decimal.Decimal
}

// Store wraps Redis operations for per-account session state
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewStore creates a new Redis session store
func NewStore(redisURL string, logger zerolog.Logger) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_url", redisURL).Msg("Connected to Redis successfully")

	return &Store{
		client: client,
		logger: logger.With().Str("component", "session_store").Logger(),
	}, nil
}

// Client exposes the underlying Redis client for pub/sub consumers.
func (s *Store) Client() *redis.Client {
	return s.client
}

// SaveSuspendState records the suspend pair for an account
func (s *Store) SaveSuspendState(ctx context.Context, accountID uint, state SuspendState) error {
	value := fmt.Sprintf("%s,%s,%d", state.Rate.String(), state.Accrued.String(), state.LastActive.Unix())
	err := s.client.HSet(ctx, suspendKey, field(accountID), value).Err()

	if err != nil {
		return fmt.Errorf("failed to save suspend state: %w", err)
	}

	s.logger.Debug().
		Uint("account_id", accountID).
		Str("rate", state.Rate.String()).
		Msg("Saved suspend state")

	return nil
}

// TakeSuspendState returns and removes the suspend pair for an account.
// Returns nil if no pair is recorded, so a double resume credits nothing.
func (s *Store) TakeSuspendState(ctx context.Context, accountID uint) (*SuspendState, error) {
	value, err := s.client.HGet(ctx, suspendKey, field(accountID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // No suspend state recorded
		}
		return nil, fmt.Errorf("failed to get suspend state: %w", err)
	}

	if err := s.client.HDel(ctx, suspendKey, field(accountID)).Err(); err != nil {
		return nil, fmt.Errorf("failed to clear suspend state: %w", err)
	}

	state, err := parseSuspendState(value)
	if err != nil {
		s.logger.Warn().
			Uint("account_id", accountID).
			Str("value", value).
			Msg("Invalid suspend state format, discarding")
		return nil, nil
	}

	return state, nil
}

// CacheAccrued stores the latest accrued value for instant paint before
// the remote snapshot arrives. Best effort, no durability guarantee.
func (s *Store) CacheAccrued(ctx context.Context, accountID uint, accrued decimal.Decimal) error {
	err := s.client.HSet(ctx, cacheKey, field(accountID), accrued.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to cache accrued value: %w", err)
	}
	return nil
}

// GetCachedAccrued returns the cached accrued value, or zero if none exists.
func (s *Store) GetCachedAccrued(ctx context.Context, accountID uint) (decimal.Decimal, error) {
	value, err := s.client.HGet(ctx, cacheKey, field(accountID)).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get cached accrued value: %w", err)
	}

	accrued, err := decimal.NewFromString(value)
	if err != nil {
		s.logger.Warn().
			Uint("account_id", accountID).
			Str("value", value).
			Msg("Invalid cached accrued value, ignoring")
		return decimal.Zero, nil
	}

	return accrued, nil
}

// Publish sends a payload on an account-scoped channel for realtime fan-out
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func field(accountID uint) string {
	return strconv.FormatUint(uint64(accountID), 10)
}

// parseSuspendState splits the "rate,accrued,timestamp" value format
func parseSuspendState(value string) (*SuspendState, error) {
	parts := strings.SplitN(value, ",", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}

	rate, err := decimal.NewFromString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid rate: %w", err)
	}

	accrued, err := decimal.NewFromString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid accrued value: %w", err)
	}

	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	return &SuspendState{
		LastActive: time.Unix(unix, 0),
		Rate:       rate,
		Accrued:    accrued,
	}, nil
}
