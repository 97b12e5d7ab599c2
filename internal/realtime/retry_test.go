package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRetryQueueRetriesUntilSuccess(t *testing.T) {
	q := NewRetryQueue(3, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	var attempts int32
	done := make(chan struct{})
	q.Enqueue("flaky", func(context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}

	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestRetryQueueBoundsAttempts(t *testing.T) {
	q := NewRetryQueue(3, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	var attempts int32
	q.Enqueue("hopeless", func(context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("permanent")
	})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&attempts) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Give the queue a chance to over-run the bound if it were going to
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want exactly 3", got)
	}
}

func TestRetryQueueDropsWhenFull(t *testing.T) {
	q := NewRetryQueue(1, time.Millisecond, zerolog.Nop())

	// Fill the buffer without a running consumer
	for i := 0; i < cap(q.tasks); i++ {
		if !q.Enqueue("filler", func(context.Context) error { return nil }) {
			t.Fatalf("enqueue %d should succeed", i)
		}
	}

	if q.Enqueue("overflow", func(context.Context) error { return nil }) {
		t.Error("enqueue into a full queue should report a drop")
	}
}
