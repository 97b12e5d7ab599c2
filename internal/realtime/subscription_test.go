package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/models"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeHistory struct {
	records []models.ActivityRecord
	err     error
	calls   int
}

func (f *fakeHistory) RecentActivity(_ context.Context, _ uint, limit int) ([]models.ActivityRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func newTestRealtimeManager(history *fakeHistory) *Manager {
	m := NewManager(nil, 1, decimal.NewFromInt(100), history, zerolog.Nop())
	m.nowFunc = func() time.Time { return testBase }
	return m
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestBalanceEventUpdatesState(t *testing.T) {
	m := newTestRealtimeManager(&fakeHistory{})

	m.handleBalance(mustJSON(t, BalanceEvent{
		AccountID: 1,
		Balance:   dec("150"),
		Timestamp: testBase.Add(-time.Second),
	}))

	state := m.State()
	if !state.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("balance = %s, want 150", state.Balance)
	}
	if !state.PreviousBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("previous balance = %s, want 100", state.PreviousBalance)
	}
}

func TestBalanceEventValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed json", []byte(`{"balance": not-json`)},
		{"wrong account", []byte(`{"account_id":2,"balance":"50","timestamp":"2025-06-01T11:00:00Z"}`)},
		{"missing balance", []byte(`{"account_id":1,"timestamp":"2025-06-01T11:00:00Z"}`)},
		{"negative balance", []byte(`{"account_id":1,"balance":"-5","timestamp":"2025-06-01T11:00:00Z"}`)},
		{"missing timestamp", []byte(`{"account_id":1,"balance":"50"}`)},
		{"future timestamp", []byte(`{"account_id":1,"balance":"50","timestamp":"2025-06-01T12:10:00Z"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestRealtimeManager(&fakeHistory{})
			m.handleBalance(tt.payload)

			state := m.State()
			if !state.Balance.Equal(decimal.NewFromInt(100)) {
				t.Errorf("balance = %s, want untouched 100", state.Balance)
			}
		})
	}
}

func TestBalanceEventWithinClockSkewAccepted(t *testing.T) {
	m := newTestRealtimeManager(&fakeHistory{})

	// 30s ahead of local time, inside the 1-minute tolerance
	m.handleBalance(mustJSON(t, BalanceEvent{
		AccountID: 1,
		Balance:   dec("150"),
		Timestamp: testBase.Add(30 * time.Second),
	}))

	if !m.State().Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("balance = %s, want 150 (skew within tolerance)", m.State().Balance)
	}
}

func TestStaleBalanceEventIgnored(t *testing.T) {
	m := newTestRealtimeManager(&fakeHistory{})

	m.handleBalance(mustJSON(t, BalanceEvent{
		AccountID: 1,
		Balance:   dec("200"),
		Timestamp: testBase.Add(-time.Second),
	}))

	// An older event arriving late must not win
	m.handleBalance(mustJSON(t, BalanceEvent{
		AccountID: 1,
		Balance:   dec("120"),
		Timestamp: testBase.Add(-time.Minute),
	}))

	state := m.State()
	if !state.Balance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("balance = %s, want 200 (stale event must lose)", state.Balance)
	}
	if !state.PreviousBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("previous balance = %s, want 100 (stale event must not touch it)", state.PreviousBalance)
	}
}

func activityPayload(t *testing.T, id string, offset time.Duration) []byte {
	t.Helper()
	return mustJSON(t, ActivityEvent{
		ID:           id,
		AccountID:    1,
		Type:         models.ActivityTypeStake,
		Amount:       dec("5"),
		Denomination: "TON",
		Status:       models.ActivityStatusCompleted,
		Timestamp:    testBase.Add(offset),
	})
}

func TestActivityEventAppendsToFeed(t *testing.T) {
	m := newTestRealtimeManager(&fakeHistory{})

	m.handleActivity(activityPayload(t, "a1", -2*time.Second))
	m.handleActivity(activityPayload(t, "a2", -time.Second))

	feed := m.State().Feed
	if len(feed) != 2 {
		t.Fatalf("feed length = %d, want 2", len(feed))
	}
	// Newest first
	if feed[0].ID != "a2" || feed[1].ID != "a1" {
		t.Errorf("feed order = [%s %s], want [a2 a1]", feed[0].ID, feed[1].ID)
	}
}

func TestActivityEventDeduplicated(t *testing.T) {
	m := newTestRealtimeManager(&fakeHistory{})

	m.handleActivity(activityPayload(t, "a1", -time.Second))
	m.handleActivity(activityPayload(t, "a1", -time.Second))

	if got := len(m.State().Feed); got != 1 {
		t.Errorf("feed length = %d, want 1 (duplicate id must be dropped)", got)
	}
}

func TestFeedIsBounded(t *testing.T) {
	m := newTestRealtimeManager(&fakeHistory{})

	for i := 0; i < 15; i++ {
		m.handleActivity(activityPayload(t, fmt.Sprintf("a%d", i), -time.Duration(15-i)*time.Second))
	}

	feed := m.State().Feed
	if len(feed) != defaultFeedSize {
		t.Fatalf("feed length = %d, want %d", len(feed), defaultFeedSize)
	}
	if feed[0].ID != "a14" {
		t.Errorf("newest entry = %s, want a14", feed[0].ID)
	}
}

func TestActivityEventValidation(t *testing.T) {
	tests := []struct {
		name  string
		event ActivityEvent
	}{
		{"missing id", ActivityEvent{AccountID: 1, Type: "stake", Amount: dec("5"), Status: "completed", Timestamp: testBase}},
		{"wrong account", ActivityEvent{ID: "x", AccountID: 9, Type: "stake", Amount: dec("5"), Status: "completed", Timestamp: testBase}},
		{"unknown type", ActivityEvent{ID: "x", AccountID: 1, Type: "jackpot", Amount: dec("5"), Status: "completed", Timestamp: testBase}},
		{"missing amount", ActivityEvent{ID: "x", AccountID: 1, Type: "stake", Status: "completed", Timestamp: testBase}},
		{"negative amount", ActivityEvent{ID: "x", AccountID: 1, Type: "stake", Amount: dec("-1"), Status: "completed", Timestamp: testBase}},
		{"future timestamp", ActivityEvent{ID: "x", AccountID: 1, Type: "stake", Amount: dec("5"), Status: "completed", Timestamp: testBase.Add(10 * time.Minute)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestRealtimeManager(&fakeHistory{})
			m.handleActivity(mustJSON(t, tt.event))

			if got := len(m.State().Feed); got != 0 {
				t.Errorf("feed length = %d, want 0 (invalid event must be dropped)", got)
			}
		})
	}
}

func TestRefreshReplacesFeedAndSeedsDedup(t *testing.T) {
	history := &fakeHistory{
		records: []models.ActivityRecord{
			{ID: "h1", AccountID: 1, Type: models.ActivityTypeStake, Amount: decimal.NewFromInt(3), Status: models.ActivityStatusCompleted, CreatedAt: testBase.Add(-time.Minute)},
			{ID: "h2", AccountID: 1, Type: models.ActivityTypeClaim, Amount: decimal.NewFromInt(1), Status: models.ActivityStatusCompleted, CreatedAt: testBase.Add(-2 * time.Minute)},
		},
	}
	m := newTestRealtimeManager(history)

	if err := m.refresh(context.Background()); err != nil {
		t.Fatalf("refresh() error: %v", err)
	}

	if got := len(m.State().Feed); got != 2 {
		t.Fatalf("feed length = %d, want 2", got)
	}

	// An event already present in the refreshed feed must not be re-added
	m.handleActivity(activityPayload(t, "h1", -time.Minute))
	if got := len(m.State().Feed); got != 2 {
		t.Errorf("feed length = %d, want 2 (refreshed entry must dedup live event)", got)
	}
}

func TestObserverReceivesStateChanges(t *testing.T) {
	m := newTestRealtimeManager(&fakeHistory{})

	var states []State
	m.AddObserver(func(s State) {
		states = append(states, s)
		panic("observer bug")
	})

	m.handleBalance(mustJSON(t, BalanceEvent{
		AccountID: 1,
		Balance:   dec("150"),
		Timestamp: testBase.Add(-time.Second),
	}))
	m.handleActivity(activityPayload(t, "a1", -time.Second))

	if len(states) != 2 {
		t.Errorf("observer called %d times, want 2 (panics must be contained)", len(states))
	}
}
