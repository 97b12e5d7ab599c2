package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetryQueue runs data-refresh operations with bounded exponential
// backoff, so a transient fetch failure does not propagate as a
// user-facing error immediately. Retry counts are bounded to avoid
// unbounded growth under sustained outage.
type RetryQueue struct {
	tasks       chan task
	maxAttempts int
	baseDelay   time.Duration
	logger      zerolog.Logger
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// NewRetryQueue creates a retry queue with the given attempt bound and
// base backoff delay.
func NewRetryQueue(maxAttempts int, baseDelay time.Duration, logger zerolog.Logger) *RetryQueue {
	return &RetryQueue{
		tasks:       make(chan task, 32),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.With().Str("component", "retry_queue").Logger(),
	}
}

// Enqueue adds an operation to the queue. Returns false if the queue is
// full, in which case the operation is dropped and logged.
func (q *RetryQueue) Enqueue(name string, fn func(ctx context.Context) error) bool {
	select {
	case q.tasks <- task{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn().Str("task", name).Msg("Retry queue full, dropping task")
		return false
	}
}

// Run processes queued operations until the context is cancelled.
func (q *RetryQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-q.tasks:
			q.runTask(ctx, t)
		}
	}
}

func (q *RetryQueue) runTask(ctx context.Context, t task) {
	delay := q.baseDelay

	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		err := t.fn(ctx)
		if err == nil {
			return
		}

		if attempt == q.maxAttempts {
			q.logger.Error().
				Err(err).
				Str("task", t.name).
				Int("attempts", attempt).
				Msg("Task failed after exhausting retries")
			return
		}

		q.logger.Warn().
			Err(err).
			Str("task", t.name).
			Int("attempt", attempt).
			Msg("Task failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}
