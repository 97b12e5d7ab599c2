package txmanager

import (
	"context"
	"fmt"
	"regexp"
)

// TON-style addresses: raw "workchain:hex" or 48-char friendly form.
var addressPattern = regexp.MustCompile(`^(0|-1):[0-9a-fA-F]{64}$|^[A-Za-z0-9_-]{48}$`)

// checkWithdrawalPolicy enforces the account-level withdrawal rules:
// address format, cooldown window, and pending-withdrawal exclusivity.
func (m *Manager) checkWithdrawalPolicy(ctx context.Context, address string) error {
	if !addressPattern.MatchString(address) {
		return &ValidationError{Field: "address", Reason: "malformed destination address"}
	}

	pending, err := m.store.HasPendingWithdrawal(ctx, m.accountID)
	if err != nil {
		return fmt.Errorf("failed to check pending withdrawals: %w", err)
	}
	if pending {
		return &ValidationError{Field: "withdrawal", Reason: "another withdrawal is already pending"}
	}

	last, err := m.store.LastWithdrawalAt(ctx, m.accountID)
	if err != nil {
		return fmt.Errorf("failed to check withdrawal cooldown: %w", err)
	}
	if !last.IsZero() {
		if remaining := m.cfg.WithdrawCooldown - m.nowFunc().Sub(last); remaining > 0 {
			return &ValidationError{
				Field:  "withdrawal",
				Reason: fmt.Sprintf("cooldown active for another %s", remaining.Round(1e9)),
			}
		}
	}

	return nil
}
