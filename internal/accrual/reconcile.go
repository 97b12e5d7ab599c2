package accrual

import "github.com/shopspring/decimal"

// Resolve merges a local accrued value with the remote snapshot value.
// Earnings are monotonically non-decreasing under normal operation, so the
// larger value wins. The policy is idempotent: Resolve(x, x) == x, and
// repeated application against the same snapshot never inflates the result.
func Resolve(local, remote decimal.Decimal) decimal.Decimal {
	if remote.GreaterThan(local) {
		return remote
	}
	return local
}
