// Package wallet is the client of the external transaction signer. The
// signer makes a single attempt per call; retry policy belongs to the
// orchestrator, not here.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tonyield/miner/internal/httpx"
)

// ErrUserCancelled is returned when the user rejects the transaction in
// their wallet. Terminal and non-retryable.
var ErrUserCancelled = errors.New("transaction rejected by user")

// Request describes a transaction to submit to the signer
type Request struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Payload     string          `json:"payload,omitempty"`
	ValidUntil  int64           `json:"valid_until"`
}

// Handle identifies a submitted transaction
type Handle struct {
	Reference   string    `json:"reference"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Signer submits transactions for external signing
type Signer interface {
	Submit(ctx context.Context, req Request) (*Handle, error)
}

// Client talks to the wallet bridge over HTTP
type Client struct {
	http           *httpx.Client
	validityWindow time.Duration
	submitTimeout  time.Duration
	logger         zerolog.Logger
}

// NewClient creates a wallet bridge client. The bridge may take minutes to
// answer while the user confirms, so the submit timeout is generous and
// the transaction carries its own validity deadline for the signer.
func NewClient(bridgeURL string, submitTimeout, validityWindow time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		http: httpx.NewClient(
			httpx.WithBaseURL(bridgeURL),
			httpx.WithTimeout(submitTimeout),
			// Single attempt; the orchestrator owns retry policy
			httpx.WithRetries(0, 0),
		),
		validityWindow: validityWindow,
		submitTimeout:  submitTimeout,
		logger:         logger.With().Str("component", "wallet").Logger(),
	}
}

type submitResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Submit sends the transaction to the bridge and returns a handle on
// success. Timeouts follow the same path as explicit failures.
func (c *Client) Submit(ctx context.Context, req Request) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	if req.ValidUntil == 0 {
		req.ValidUntil = time.Now().Add(c.validityWindow).Unix()
	}

	resp, err := c.http.Post(ctx, "/v1/transactions", req)
	if err != nil {
		var httpErr *httpx.Error
		if errors.As(err, &httpErr) {
			var body submitResponse
			if decodeErr := resp.DecodeJSON(&body); decodeErr == nil && body.Status == "user_rejected" {
				c.logger.Info().Str("destination", req.Destination).Msg("Transaction rejected by user")
				return nil, ErrUserCancelled
			}
		}
		return nil, fmt.Errorf("wallet submit failed: %w", err)
	}

	var body submitResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, fmt.Errorf("malformed wallet bridge response: %w", err)
	}

	if body.Status == "user_rejected" {
		c.logger.Info().Str("destination", req.Destination).Msg("Transaction rejected by user")
		return nil, ErrUserCancelled
	}

	if body.Reference == "" {
		return nil, fmt.Errorf("wallet bridge returned no transaction reference (status %q)", body.Status)
	}

	c.logger.Debug().
		Str("reference", body.Reference).
		Str("destination", req.Destination).
		Msg("Transaction submitted")

	return &Handle{
		Reference:   body.Reference,
		SubmittedAt: time.Now(),
	}, nil
}
