package topup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ebnrushd/corporate-ledger/internal/audit"
	"github.com/ebnrushd/corporate-ledger/internal/chain"
	"github.com/ebnrushd/corporate-ledger/internal/gateway"
	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/obs"
	"github.com/ebnrushd/corporate-ledger/internal/stream"
)

// ConfirmResult is what the webhook handler reports back to the gateway.
// Replayed marks deliveries that changed nothing: duplicates of a finished
// confirmation, deliveries racing one already in flight, and webhooks for
// records no webhook can resolve.
type ConfirmResult struct {
	Entry         ledger.Entry
	FinalStatus   string
	ConfirmTxHash string
	Replayed      bool
}

// Confirm processes one gateway webhook delivery. The credit and the status
// transition commit in one store transaction before the chain call, so a
// chain failure can delay the terminal status but never lose money. Unknown
// correlation ids return NotFound; every other delivery answers 200 so the
// gateway never retries a delivery that cannot change anything.
func (c *Coordinator) Confirm(ctx context.Context, correlationID, gatewayStatus, gatewayMessage, processorRef string) (ConfirmResult, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ConfirmResult{}, fmt.Errorf("%w: topUpId is required", ledger.ErrValidation)
	}
	success := strings.EqualFold(strings.TrimSpace(gatewayStatus), string(gateway.StatusSuccess))
	note := ledger.TruncateNote(fmt.Sprintf("VisaStatus: %s, Msg: %s", gatewayStatus, gatewayMessage))

	out, err := c.store.ConfirmTopUp(ctx, ledger.ConfirmParams{
		CorrelationID: correlationID,
		Success:       success,
		Message:       note,
		ProcessorRef:  processorRef,
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	switch out.State {
	case ledger.ConfirmReplay:
		return ConfirmResult{
			Entry:         out.Entry,
			FinalStatus:   out.Entry.Status,
			ConfirmTxHash: out.Entry.ConfirmTxHash,
			Replayed:      true,
		}, nil
	case ledger.ConfirmInFlight, ledger.ConfirmNotAwaiting:
		return ConfirmResult{Entry: out.Entry, FinalStatus: out.Entry.Status, Replayed: true}, nil
	}

	// Credit committed, record in PENDING_CHAIN_CONFIRM, outbox job queued.
	// One inline chain attempt; the worker takes over if it fails.
	confirmTx, cerr := c.chain.ConfirmTopUp(ctx, correlationID, success, note)
	if cerr != nil {
		obs.Critical("chain confirmTopUp failed; outbox worker will retry", map[string]any{
			"transaction_id": out.Entry.ID,
			"correlation_id": correlationID,
			"job_id":         out.JobID,
			"error":          cerr.Error(),
		})
		if errors.Is(cerr, chain.ErrNotConfigured) {
			return ConfirmResult{}, fmt.Errorf("%w: %v", ledger.ErrUnconfigured, cerr)
		}
		return ConfirmResult{}, fmt.Errorf("%w: chain confirmTopUp: %v", ledger.ErrDependency, cerr)
	}

	final := ledger.StatusConfirmedFailed
	if success {
		final = ledger.StatusConfirmedSuccess
	}
	if err := c.store.FinalizeConfirm(ctx, ledger.FinalizeParams{
		TransactionID: out.Entry.ID,
		JobID:         out.JobID,
		Status:        final,
		ConfirmTxHash: confirmTx,
	}); err != nil {
		// The chain call landed; the pending job re-runs the confirmation
		// and finalizes once the store recovers.
		obs.Critical("finalize after chain confirm failed", map[string]any{
			"transaction_id": out.Entry.ID,
			"job_id":         out.JobID,
			"error":          err.Error(),
		})
		return ConfirmResult{}, fmt.Errorf("%w: finalize confirmation: %v", ledger.ErrDependency, err)
	}

	obs.IncTopUpConfirmed(resultLabel(success))
	_ = audit.LogEvent(ctx, "topup.confirmed", map[string]any{
		"transaction_id":  out.Entry.ID,
		"correlation_id":  correlationID,
		"final_status":    final,
		"confirm_tx_hash": confirmTx,
	})
	c.publish(stream.Event{
		Type:          stream.EventTopUpConfirmed,
		CorrelationID: correlationID,
		AccountID:     out.Entry.ReceiverAccountID,
		Amount:        out.Entry.Amount,
		Currency:      out.Entry.Currency,
		Status:        final,
	})

	entry := out.Entry
	entry.Status = final
	entry.ConfirmTxHash = confirmTx
	return ConfirmResult{Entry: entry, FinalStatus: final, ConfirmTxHash: confirmTx}, nil
}
