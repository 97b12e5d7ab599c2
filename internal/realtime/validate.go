package realtime

import (
	"fmt"

	"github.com/tonyield/miner/internal/models"
)

// IntegrityError marks an inbound event that failed validation. These
// indicate either an attack or a bug; they are logged for operators and
// never shown to the end user.
type IntegrityError struct {
	Reason string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation (%s): %s", e.Reason, e.Detail)
}

func reason(err error) string {
	if ie, ok := err.(*IntegrityError); ok {
		return ie.Reason
	}
	return "invalid"
}

func (m *Manager) validateBalance(event BalanceEvent) error {
	if event.AccountID != m.accountID {
		return &IntegrityError{Reason: "wrong_account", Detail: fmt.Sprintf("event for account %d", event.AccountID)}
	}
	if event.Balance == nil {
		return &IntegrityError{Reason: "missing_field", Detail: "balance is required"}
	}
	if event.Balance.Sign() < 0 {
		return &IntegrityError{Reason: "negative_amount", Detail: "balance must be non-negative"}
	}
	if event.Timestamp.IsZero() {
		return &IntegrityError{Reason: "missing_field", Detail: "timestamp is required"}
	}
	if event.Timestamp.After(m.nowFunc().Add(m.clockSkew)) {
		return &IntegrityError{Reason: "future_timestamp", Detail: event.Timestamp.String()}
	}
	return nil
}

func (m *Manager) validateActivity(event ActivityEvent) error {
	if event.ID == "" {
		return &IntegrityError{Reason: "missing_field", Detail: "id is required"}
	}
	if event.AccountID != m.accountID {
		return &IntegrityError{Reason: "wrong_account", Detail: fmt.Sprintf("event for account %d", event.AccountID)}
	}
	if !models.ValidType(event.Type) {
		return &IntegrityError{Reason: "bad_type", Detail: fmt.Sprintf("unknown activity type %q", event.Type)}
	}
	if event.Amount == nil {
		return &IntegrityError{Reason: "missing_field", Detail: "amount is required"}
	}
	if event.Amount.Sign() < 0 {
		return &IntegrityError{Reason: "negative_amount", Detail: "amount must be non-negative"}
	}
	if event.Timestamp.IsZero() {
		return &IntegrityError{Reason: "missing_field", Detail: "timestamp is required"}
	}
	if event.Timestamp.After(m.nowFunc().Add(m.clockSkew)) {
		return &IntegrityError{Reason: "future_timestamp", Detail: event.Timestamp.String()}
	}
	return nil
}
