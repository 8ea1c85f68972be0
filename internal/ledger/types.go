package ledger

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Transaction lifecycle statuses. The live `status` column walks through these;
// `hash_status` keeps the value that was bound into the record hash at append
// time and never changes afterwards.
const (
	StatusPendingChainCall    = "PENDING_CHAIN_CALL"
	StatusPendingGatewayCall  = "PENDING_GATEWAY_CALL"
	StatusPendingWebhook      = "PENDING_WEBHOOK"
	StatusPendingChainConfirm = "PENDING_CHAIN_CONFIRM"
	StatusConfirmedSuccess    = "CONFIRMED_SUCCESS"
	StatusConfirmedFailed     = "CONFIRMED_FAILED"
	StatusFailedGateway       = "FAILED_GATEWAY"
	StatusFailedChainCall     = "FAILED_CHAIN_CALL"
	StatusFailedInternal      = "FAILED_INTERNAL"
)

// Transaction types recorded in the chain.
const (
	TypeTopUp   = "visa_top_up"
	TypeDeposit = "deposit"
)

// maxNoteLen bounds operator-visible notes stored next to a record.
const maxNoteLen = 100

// IsConfirmed reports whether the record reached a terminal confirmed state.
func IsConfirmed(status string) bool {
	return status == StatusConfirmedSuccess || status == StatusConfirmedFailed
}

// AwaitsConfirmation reports whether a gateway webhook may still resolve the
// record. FAILED_GATEWAY stays eligible: the gateway can retry a declined
// attempt and deliver a late confirmation for the same correlation id.
func AwaitsConfirmation(status string) bool {
	return status == StatusPendingWebhook || status == StatusFailedGateway
}

// TruncateNote clamps free-text notes (gateway messages, error strings) to the
// stored note length. The cut lands on a rune boundary so a multi-byte
// character is never split into an invalid sequence.
func TruncateNote(note string) string {
	note = strings.TrimSpace(note)
	if len(note) <= maxNoteLen {
		return note
	}
	n := maxNoteLen
	for n > 0 && !utf8.RuneStart(note[n]) {
		n--
	}
	return note[:n]
}

// Money is represented in minor units (e.g., cents). No floats.
type Money struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsZero() bool     { return m.Amount == 0 }

// Account is a corporate account holding per-currency balances.
type Account struct {
	ID           string    `json:"id"`
	HolderName   string    `json:"holder_name"`
	Email        string    `json:"email,omitempty"`
	ChainAddress string    `json:"chain_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAccount carries the attributes for account creation.
type NewAccount struct {
	HolderName   string
	Email        string
	ChainAddress string
}

// Entry is one record of the global hash-chained ledger. Hash-bound fields
// (participants, amount, currency, type, description, hash_status, created_at,
// previous_hash) are immutable after append; the remaining columns hold the
// live status and external references collected as the saga progresses.
type Entry struct {
	ID                int64     `json:"id"`
	SenderAccountID   string    `json:"sender_account_id,omitempty"`
	ReceiverAccountID string    `json:"receiver_account_id,omitempty"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Type              string    `json:"transaction_type"`
	Description       string    `json:"description,omitempty"`
	Status            string    `json:"status"`
	HashStatus        string    `json:"hash_status"`
	CorrelationID     string    `json:"correlation_id,omitempty"`
	ExternalRef       string    `json:"external_ref,omitempty"`
	GatewayRef        string    `json:"gateway_ref,omitempty"`
	ProcessorRef      string    `json:"processor_ref,omitempty"`
	ChainTxHash       string    `json:"chain_tx_hash,omitempty"`
	ConfirmTxHash     string    `json:"confirm_tx_hash,omitempty"`
	ErrorNote         string    `json:"error_note,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	PreviousHash      string    `json:"previous_hash"`
	CurrentHash       string    `json:"current_hash"`
}

// AppendParams describe a record to append to the chain. Status becomes both
// the initial live status and the hashed snapshot.
type AppendParams struct {
	SenderAccountID   string
	ReceiverAccountID string
	Amount            int64
	Currency          string
	Type              string
	Description       string
	Status            string
	CorrelationID     string
	ExternalRef       string
}

// StatusUpdate mutates the live status and external references of a record.
// It never touches hash-bound fields.
type StatusUpdate struct {
	Status      string
	Note        string
	ChainTxHash string
	GatewayRef  string
}

// ConfirmState tells the webhook handler what the single-flight lookup found.
type ConfirmState int

const (
	// ConfirmProceed: the record moved to PENDING_CHAIN_CONFIRM, the balance
	// credit (if any) is committed, and an outbox job was enqueued.
	ConfirmProceed ConfirmState = iota
	// ConfirmReplay: the record was already terminally confirmed; the stored
	// result is returned unchanged.
	ConfirmReplay
	// ConfirmInFlight: another delivery owns the confirmation and the outbox
	// worker will finish it.
	ConfirmInFlight
	// ConfirmNotAwaiting: the record is in a state no webhook may resolve.
	ConfirmNotAwaiting
)

// ConfirmParams drive the single-flight webhook confirmation.
type ConfirmParams struct {
	CorrelationID string
	Success       bool
	Message       string
	ProcessorRef  string
}

// ConfirmOutcome reports the state decision plus the (possibly updated) record
// and, when State is ConfirmProceed, the id of the enqueued outbox job.
type ConfirmOutcome struct {
	State ConfirmState
	Entry Entry
	JobID int64
}

// FinalizeParams complete a confirmation after a successful chain call: the
// record gets its terminal status and confirm tx hash, the outbox job is
// marked sent, all in one transaction.
type FinalizeParams struct {
	TransactionID int64
	JobID         int64
	Status        string
	ConfirmTxHash string
}

// Outbox job statuses.
const (
	JobPending = "PENDING"
	JobSent    = "SENT"
	JobFailed  = "FAILED"
)

// ConfirmJob is one chain-confirm outbox row.
type ConfirmJob struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transaction_id"`
	CorrelationID string    `json:"correlation_id"`
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextRunAt     time.Time `json:"next_run_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// DepositParams book one externally settled deposit (batch ingest).
type DepositParams struct {
	ExternalRef     string
	HolderName      string
	Email           string
	Amount          int64
	Currency        string
	Type            string
	Description     string
	BanknoteSerials []string
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidAmount   = errors.New("invalid amount (must be > 0)")
	ErrInvalidCurrency = errors.New("invalid currency")

	// ErrValidation marks malformed caller input; transports map it to 400.
	ErrValidation = errors.New("validation failed")

	// ErrDependency marks a chain node or payment gateway failure after the
	// ledger record was durably written.
	ErrDependency = errors.New("upstream dependency failed")

	// ErrUnconfigured marks operations refused because the chain signing key
	// or contract binding is absent.
	ErrUnconfigured = errors.New("chain signer or contract not configured")
)
