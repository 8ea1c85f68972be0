package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// JobInitialDelay is how far in the future a freshly enqueued chain-confirm
// job becomes due. The webhook handler attempts the chain call inline first;
// the outbox worker only picks the job up if that attempt did not finalize
// the record within the grace window.
const JobInitialDelay = 30 * time.Second

// Store is the persistence surface of the ledger. Implementations must
// serialize appends against the chain tail and keep webhook confirmations
// single-flight per correlation id.
type Store interface {
	// Accounts.
	CreateAccount(ctx context.Context, p NewAccount) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
	GetBalance(ctx context.Context, accountID, currency string) (Money, error)

	// Chain records.
	Append(ctx context.Context, p AppendParams) (Entry, error)
	LatestHash(ctx context.Context) (string, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (Entry, error)
	ListAccountEntries(ctx context.Context, accountID string, limit int) ([]Entry, error)
	UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) (Entry, error)

	// Webhook confirmation and its outbox.
	ConfirmTopUp(ctx context.Context, p ConfirmParams) (ConfirmOutcome, error)
	FinalizeConfirm(ctx context.Context, p FinalizeParams) error
	ClaimConfirmJob(ctx context.Context) (ConfirmJob, bool, error)
	RescheduleConfirmJob(ctx context.Context, jobID int64, attempts int, nextRun time.Time, lastError string) error
	FailConfirmJob(ctx context.Context, jobID int64, lastError string) error

	// Batch ingest. The bool result reports a duplicate replay.
	IngestDeposit(ctx context.Context, p DepositParams) (Entry, bool, error)

	// Verifier scan, chain order.
	ForEachInChainOrder(ctx context.Context, fn func(Entry) error) error

	Ping(ctx context.Context) error
}

// ValidateAppend checks the invariants every implementation enforces before
// linking a record to the chain.
func ValidateAppend(p AppendParams) error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if _, err := NormalizeCurrency(p.Currency); err != nil {
		return err
	}
	if p.SenderAccountID == "" && p.ReceiverAccountID == "" {
		return fmt.Errorf("%w: a sender or receiver account is required", ErrValidation)
	}
	if strings.TrimSpace(p.Type) == "" {
		return fmt.Errorf("%w: transaction type is required", ErrValidation)
	}
	if strings.TrimSpace(p.Status) == "" {
		return fmt.Errorf("%w: status is required", ErrValidation)
	}
	return nil
}
