// Package rate computes per-second earnings accrual rates from the
// configured ROI tier table and loyalty multiplier bands.
//
// The canonical formula is:
//
//	perSecond = tierDailyROI(stake) * multiplier(daysStaked) * stake / 86400
//
// DailyROI without the multiplier is exposed for display purposes only.
package rate

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/config"
)

// SecondsPerDay is the accrual denominator.
const SecondsPerDay = 86400

var (
	hundred       = decimal.NewFromInt(100)
	secondsPerDay = decimal.NewFromInt(SecondsPerDay)
)

// Calculator resolves stake amounts and stake ages to accrual rates.
// It is pure and safe for concurrent use.
type Calculator struct {
	tiers []config.ROITier
	bands []config.TimeMultiplier
}

// NewCalculator builds a calculator from tier and multiplier tables.
// Both tables must be sorted by descending threshold, as produced by
// config.Load, and must cover a zero threshold so every input matches.
func NewCalculator(tiers []config.ROITier, bands []config.TimeMultiplier) (*Calculator, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one ROI tier is required")
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("at least one time multiplier band is required")
	}

	if tiers[len(tiers)-1].MinStake.Sign() != 0 {
		return nil, fmt.Errorf("ROI tiers must include a zero-stake tier")
	}
	if bands[len(bands)-1].MinDays != 0 {
		return nil, fmt.Errorf("time multipliers must include a zero-days band")
	}

	return &Calculator{tiers: tiers, bands: bands}, nil
}

// DailyROI returns the tier daily ROI fraction (e.g. 0.02 for 2%/day)
// for the given stake, without the loyalty multiplier.
func (c *Calculator) DailyROI(stake decimal.Decimal) decimal.Decimal {
	if stake.Sign() <= 0 {
		return decimal.Zero
	}

	for _, tier := range c.tiers {
		if stake.GreaterThanOrEqual(tier.MinStake) {
			return tier.DailyROI.Div(hundred)
		}
	}
	return decimal.Zero
}

// Multiplier returns the loyalty multiplier for a stake aged daysStaked days.
func (c *Calculator) Multiplier(daysStaked int) decimal.Decimal {
	if daysStaked < 0 {
		daysStaked = 0
	}

	for _, band := range c.bands {
		if daysStaked >= band.MinDays {
			return band.Multiplier
		}
	}
	return decimal.NewFromInt(1)
}

// PerSecond returns the canonical per-second accrual rate for the given
// stake and stake age.
func (c *Calculator) PerSecond(stake decimal.Decimal, daysStaked int) decimal.Decimal {
	if stake.Sign() <= 0 {
		return decimal.Zero
	}

	daily := c.DailyROI(stake).Mul(c.Multiplier(daysStaked))
	return daily.Mul(stake).Div(secondsPerDay)
}
