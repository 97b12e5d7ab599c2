package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseSuspendState(t *testing.T) {
	state, err := parseSuspendState("0.000023148,12.5,1748779200")
	if err != nil {
		t.Fatalf("parseSuspendState() error: %v", err)
	}

	if !state.Rate.Equal(decimal.RequireFromString("0.000023148")) {
		t.Errorf("rate = %s, want 0.000023148", state.Rate)
	}
	if !state.Accrued.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("accrued = %s, want 12.5", state.Accrued)
	}
	if !state.LastActive.Equal(time.Unix(1748779200, 0)) {
		t.Errorf("last active = %v, want %v", state.LastActive, time.Unix(1748779200, 0))
	}
}

func TestParseSuspendStateRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"too few fields", "0.1,1748779200"},
		{"bad rate", "abc,12.5,1748779200"},
		{"bad accrued", "0.1,abc,1748779200"},
		{"bad timestamp", "0.1,12.5,yesterday"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseSuspendState(tt.value); err == nil {
				t.Errorf("parseSuspendState(%q) should fail", tt.value)
			}
		})
	}
}

func TestSuspendStateRoundTrip(t *testing.T) {
	// The save format must survive its own parser
	rate := decimal.RequireFromString("0.000023148148")
	accrued := decimal.RequireFromString("42.000000001")
	lastActive := time.Unix(1748779200, 0)

	encoded := rate.String() + "," + accrued.String() + "," + "1748779200"
	state, err := parseSuspendState(encoded)
	if err != nil {
		t.Fatalf("parseSuspendState() error: %v", err)
	}

	if !state.Rate.Equal(rate) || !state.Accrued.Equal(accrued) || !state.LastActive.Equal(lastActive) {
		t.Errorf("round trip mismatch: %+v", state)
	}
}
