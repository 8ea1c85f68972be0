// Package gateway integrates the card payment processor that fronts top-ups.
// The processor answers a top-up request immediately with PENDING, SUCCESS or
// ERROR and delivers the authoritative outcome later through a webhook.
package gateway

import "context"

// Status is the processor's verdict on a top-up request.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Result is the processor's answer to a request or status poll.
type Result struct {
	Status  Status `json:"status"`
	Ref     string `json:"visa_transaction_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client is the processor surface the top-up saga drives. Implementations:
// HTTPClient (real endpoint) and Sim (deterministic, in-process).
type Client interface {
	// RequestTopUp asks the processor to charge the card. topUpID is the
	// saga correlation id, cardLastFour the card reference, amountMinor the
	// amount in minor units.
	RequestTopUp(ctx context.Context, topUpID, cardLastFour string, amountMinor int64, currency string) (Result, error)
	// GetTopUpStatus polls a previously issued request by its gateway ref.
	GetTopUpStatus(ctx context.Context, ref string) (Result, error)
}
