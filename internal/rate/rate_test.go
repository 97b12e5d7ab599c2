package rate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/config"
)

func testTiers() []config.ROITier {
	return []config.ROITier{
		{MinStake: decimal.NewFromInt(1000), DailyROI: decimal.NewFromInt(3)},
		{MinStake: decimal.NewFromInt(500), DailyROI: decimal.RequireFromString("2.5")},
		{MinStake: decimal.NewFromInt(100), DailyROI: decimal.NewFromInt(2)},
		{MinStake: decimal.NewFromInt(50), DailyROI: decimal.RequireFromString("1.5")},
		{MinStake: decimal.Zero, DailyROI: decimal.NewFromInt(1)},
	}
}

func testBands() []config.TimeMultiplier {
	return []config.TimeMultiplier{
		{MinDays: 31, Multiplier: decimal.RequireFromString("1.25")},
		{MinDays: 8, Multiplier: decimal.RequireFromString("1.1")},
		{MinDays: 0, Multiplier: decimal.NewFromInt(1)},
	}
}

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	calc, err := NewCalculator(testTiers(), testBands())
	if err != nil {
		t.Fatalf("NewCalculator() error: %v", err)
	}
	return calc
}

func TestNewCalculatorRejectsIncompleteTables(t *testing.T) {
	if _, err := NewCalculator(nil, testBands()); err == nil {
		t.Error("NewCalculator() with no tiers should return error")
	}

	if _, err := NewCalculator(testTiers(), nil); err == nil {
		t.Error("NewCalculator() with no bands should return error")
	}

	// Missing zero-stake tier leaves small stakes unmatched
	tiers := testTiers()[:4]
	if _, err := NewCalculator(tiers, testBands()); err == nil {
		t.Error("NewCalculator() without a zero-stake tier should return error")
	}
}

func TestDailyROITierBoundaries(t *testing.T) {
	calc := newTestCalculator(t)

	tests := []struct {
		stake string
		want  string
	}{
		{"49.99", "0.01"},
		{"50", "0.015"},
		{"99.99", "0.015"},
		{"100", "0.02"},
		{"499.99", "0.02"},
		{"500", "0.025"},
		{"999.99", "0.025"},
		{"1000", "0.03"},
		{"5000", "0.03"},
	}

	for _, tt := range tests {
		t.Run(tt.stake, func(t *testing.T) {
			got := calc.DailyROI(decimal.RequireFromString(tt.stake))
			want := decimal.RequireFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("DailyROI(%s) = %s, want %s", tt.stake, got, want)
			}
		})
	}
}

func TestDailyROIZeroStake(t *testing.T) {
	calc := newTestCalculator(t)

	if got := calc.DailyROI(decimal.Zero); !got.IsZero() {
		t.Errorf("DailyROI(0) = %s, want 0", got)
	}
	if got := calc.DailyROI(decimal.NewFromInt(-10)); !got.IsZero() {
		t.Errorf("DailyROI(-10) = %s, want 0", got)
	}
}

func TestMultiplierBands(t *testing.T) {
	calc := newTestCalculator(t)

	tests := []struct {
		days int
		want string
	}{
		{-3, "1"},
		{0, "1"},
		{7, "1"},
		{8, "1.1"},
		{30, "1.1"},
		{31, "1.25"},
		{400, "1.25"},
	}

	for _, tt := range tests {
		got := calc.Multiplier(tt.days)
		want := decimal.RequireFromString(tt.want)
		if !got.Equal(want) {
			t.Errorf("Multiplier(%d) = %s, want %s", tt.days, got, want)
		}
	}
}

func TestPerSecondCanonicalFormula(t *testing.T) {
	calc := newTestCalculator(t)

	// 120 staked, 0 days: 2%/day * 120 / 86400
	stake := decimal.NewFromInt(120)
	got := calc.PerSecond(stake, 0)
	want := decimal.RequireFromString("0.02").Mul(stake).Div(decimal.NewFromInt(SecondsPerDay))
	if !got.Equal(want) {
		t.Errorf("PerSecond(120, 0) = %s, want %s", got, want)
	}

	// Hourly accrual for scenario cross-check: rate * 3600 ~= 0.1
	hourly, _ := got.Mul(decimal.NewFromInt(3600)).Float64()
	if hourly < 0.0999 || hourly > 0.1001 {
		t.Errorf("hourly accrual = %f, want ~0.1", hourly)
	}
}

func TestPerSecondAppliesLoyaltyMultiplier(t *testing.T) {
	calc := newTestCalculator(t)

	stake := decimal.NewFromInt(200)
	base := calc.PerSecond(stake, 0)
	aged := calc.PerSecond(stake, 31)

	want := base.Mul(decimal.RequireFromString("1.25"))
	if !aged.Equal(want) {
		t.Errorf("PerSecond(200, 31) = %s, want %s (1.25x base)", aged, want)
	}
}

func TestPerSecondZeroStake(t *testing.T) {
	calc := newTestCalculator(t)

	if got := calc.PerSecond(decimal.Zero, 10); !got.IsZero() {
		t.Errorf("PerSecond(0, 10) = %s, want 0", got)
	}
}
