package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/models"
)

type fakeSnapshotStore struct {
	remote     decimal.Decimal
	upserts    int
	failWrites bool
	failReads  bool
}

func (f *fakeSnapshotStore) GetSnapshot(_ context.Context, accountID uint) (*models.EarningsSnapshot, error) {
	if f.failReads {
		return nil, errors.New("read refused")
	}
	return &models.EarningsSnapshot{AccountID: accountID, CurrentEarned: f.remote}, nil
}

func (f *fakeSnapshotStore) UpsertSnapshot(_ context.Context, _ uint, earned decimal.Decimal) error {
	f.upserts++
	if f.failWrites {
		return errors.New("write refused")
	}
	if earned.GreaterThan(f.remote) {
		f.remote = earned
	}
	return nil
}

func newTestSyncer(store *fakeSnapshotStore) *Syncer {
	limiter := NewLimiter(time.Millisecond, 1000)
	return New(7, store, limiter, 10, zerolog.Nop())
}

func TestSyncPushesValue(t *testing.T) {
	store := &fakeSnapshotStore{}
	s := newTestSyncer(store)

	result, err := s.Sync(context.Background(), decimal.RequireFromString("3.5"))
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if result != ResultSynced {
		t.Errorf("result = %s, want synced", result)
	}
	if !store.remote.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("remote = %s, want 3.5", store.remote)
	}
	if !s.LastKnownGood().Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("last known good = %s, want 3.5", s.LastKnownGood())
	}
}

func TestSyncSkippedIsNotAnError(t *testing.T) {
	store := &fakeSnapshotStore{}
	limiter := NewLimiter(time.Hour, 1000)
	s := New(7, store, limiter, 10, zerolog.Nop())

	if _, err := s.Sync(context.Background(), decimal.NewFromInt(1)); err != nil {
		t.Fatalf("first Sync() error: %v", err)
	}

	result, err := s.Sync(context.Background(), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("skipped Sync() returned error: %v", err)
	}
	if result != ResultSkipped {
		t.Errorf("result = %s, want skipped", result)
	}
	if store.upserts != 1 {
		t.Errorf("upserts = %d, want 1 (skipped sync must not hit the store)", store.upserts)
	}
}

func TestForceSyncBypassesInterval(t *testing.T) {
	store := &fakeSnapshotStore{}
	limiter := NewLimiter(time.Hour, 1000)
	s := New(7, store, limiter, 10, zerolog.Nop())

	if _, err := s.Sync(context.Background(), decimal.NewFromInt(1)); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	result, err := s.ForceSync(context.Background(), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("ForceSync() error: %v", err)
	}
	if result != ResultSynced {
		t.Errorf("result = %s, want synced", result)
	}
}

func TestSyncFailureRevalidatesAgainstRemote(t *testing.T) {
	store := &fakeSnapshotStore{remote: decimal.RequireFromString("9.9"), failWrites: true}
	s := newTestSyncer(store)

	result, err := s.Sync(context.Background(), decimal.NewFromInt(5))
	if err == nil {
		t.Fatal("Sync() with failing store should return error")
	}
	if result != ResultFailed {
		t.Errorf("result = %s, want failed", result)
	}

	// Read-after-fail replaces the stale baseline with the remote value
	if !s.LastKnownGood().Equal(decimal.RequireFromString("9.9")) {
		t.Errorf("last known good = %s, want 9.9 from revalidation", s.LastKnownGood())
	}
}

func TestSyncFailureWithUnreachableRemote(t *testing.T) {
	store := &fakeSnapshotStore{failWrites: true, failReads: true}
	s := newTestSyncer(store)

	result, err := s.Sync(context.Background(), decimal.NewFromInt(5))
	if err == nil {
		t.Fatal("Sync() with failing store should return error")
	}
	if result != ResultFailed {
		t.Errorf("result = %s, want failed", result)
	}
	if !s.LastKnownGood().IsZero() {
		t.Errorf("last known good = %s, want untouched zero", s.LastKnownGood())
	}
}

func TestNotePendingThreshold(t *testing.T) {
	store := &fakeSnapshotStore{}
	limiter := NewLimiter(time.Millisecond, 1000)
	s := New(7, store, limiter, 3, zerolog.Nop())

	if s.NotePending() {
		t.Error("pending=1 should not reach threshold 3")
	}
	if s.NotePending() {
		t.Error("pending=2 should not reach threshold 3")
	}
	if !s.NotePending() {
		t.Error("pending=3 should reach threshold 3")
	}

	// A successful sync resets the counter
	if _, err := s.Sync(context.Background(), decimal.NewFromInt(1)); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if s.NotePending() {
		t.Error("pending should have been reset by the successful sync")
	}
}
