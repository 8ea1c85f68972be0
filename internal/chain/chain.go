// Package chain talks to the ledger's on-chain contract through a JSON-RPC
// node. The contract surface is two methods, initiateTopUp and confirmTopUp,
// both submitted as transactions signed by the single authorized backend key.
package chain

import (
	"context"
	"errors"
)

// Caller is the contract surface the top-up saga drives. Implementations:
// Client (JSON-RPC node) and Sim (in-process, deterministic).
type Caller interface {
	// InitiateTopUp submits initiateTopUp(topUpID, userAddress, amountMinor,
	// cardRef) and waits for the receipt. Returns the transaction hash.
	InitiateTopUp(ctx context.Context, topUpID, userAddress string, amountMinor int64, cardRef string) (string, error)
	// ConfirmTopUp submits confirmTopUp(topUpID, success, message) and waits
	// for the receipt. Returns the transaction hash.
	ConfirmTopUp(ctx context.Context, topUpID string, success bool, message string) (string, error)
	// BlockNumber asks the node for its latest block, backing the health probe.
	BlockNumber(ctx context.Context) (uint64, error)

	SignerLoaded() bool
	ContractLoaded() bool
	// SignerAddress is the backend key's address, used as the fallback user
	// address for accounts without a chain address of their own.
	SignerAddress() string
}

// ErrNotConfigured is returned by chain-dependent operations when the signing
// key or contract binding is absent. Callers surface it as a critical
// misconfiguration rather than a transient dependency failure.
var ErrNotConfigured = errors.New("chain client is not configured")
