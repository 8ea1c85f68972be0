// Package topup orchestrates the corporate card top-up saga. A durable ledger
// record is committed before any external call; the chain contract and the
// payment gateway are then driven in order, the gateway webhook confirms the
// outcome, and an outbox worker finishes confirmations the webhook attempt
// could not.
package topup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ebnrushd/corporate-ledger/internal/audit"
	"github.com/ebnrushd/corporate-ledger/internal/chain"
	"github.com/ebnrushd/corporate-ledger/internal/gateway"
	"github.com/ebnrushd/corporate-ledger/internal/ids"
	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/obs"
	"github.com/ebnrushd/corporate-ledger/internal/stream"
)

// DefaultCurrency is the settlement currency for card top-ups.
const DefaultCurrency = "USD"

const topUpDescription = "Corporate card top-up via Visa."

// Coordinator drives the saga against the ledger store and the two external
// collaborators.
type Coordinator struct {
	store    ledger.Store
	chain    chain.Caller
	gateway  gateway.Client
	events   *stream.Stream
	currency string
}

// NewCoordinator wires the saga. events may be nil when no live stream is
// attached.
func NewCoordinator(store ledger.Store, chainc chain.Caller, gw gateway.Client, events *stream.Stream) *Coordinator {
	return &Coordinator{
		store:    store,
		chain:    chainc,
		gateway:  gw,
		events:   events,
		currency: DefaultCurrency,
	}
}

// InitiateResult is the tracking record returned to the caller. The saga has
// accepted the request whenever a result is returned; GatewayStatus tells the
// caller whether the gateway leg failed immediately.
type InitiateResult struct {
	Entry          ledger.Entry
	ChainTxHash    string
	GatewayStatus  gateway.Status
	GatewayRef     string
	GatewayMessage string
}

// Initiate runs steps (a) through (d) of the saga: mint a correlation id,
// append the PENDING_CHAIN_CALL record, submit initiateTopUp on chain, then
// request the card charge from the gateway. The record always ends the call
// in an explicit status.
func (c *Coordinator) Initiate(ctx context.Context, userID, amount, cardLastFour string) (InitiateResult, error) {
	userID = strings.TrimSpace(userID)
	if _, err := uuid.Parse(userID); err != nil {
		return InitiateResult{}, fmt.Errorf("%w: user_id must be a UUID", ledger.ErrValidation)
	}
	minor, err := ledger.ParseAmount(amount)
	if err != nil {
		return InitiateResult{}, err
	}
	if !validCardRef(cardLastFour) {
		return InitiateResult{}, fmt.Errorf("%w: visa_card_last_four must be exactly 4 digits", ledger.ErrValidation)
	}

	account, err := c.store.GetAccount(ctx, userID)
	if err != nil {
		return InitiateResult{}, err
	}

	corr := ids.Correlation()
	entry, err := c.store.Append(ctx, ledger.AppendParams{
		ReceiverAccountID: account.ID,
		Amount:            minor,
		Currency:          c.currency,
		Type:              ledger.TypeTopUp,
		Description:       topUpDescription,
		Status:            ledger.StatusPendingChainCall,
		CorrelationID:     corr,
	})
	if err != nil {
		return InitiateResult{}, err
	}
	obs.IncTopUpInitiated()
	_ = audit.LogEvent(ctx, "topup.initiated", map[string]any{
		"transaction_id": entry.ID,
		"correlation_id": corr,
		"account_id":     account.ID,
		"amount":         ledger.FormatAmount(minor),
		"currency":       c.currency,
	})
	c.publish(stream.Event{
		Type:          stream.EventTopUpInitiated,
		CorrelationID: corr,
		AccountID:     account.ID,
		Amount:        minor,
		Currency:      c.currency,
		Status:        entry.Status,
	})

	// The contract wants a user address; accounts without one settle against
	// the service signing address.
	userAddr := account.ChainAddress
	if userAddr == "" {
		userAddr = c.chain.SignerAddress()
	}
	chainTx, err := c.chain.InitiateTopUp(ctx, corr, userAddr, minor, cardLastFour)
	if err != nil {
		c.markFailed(ctx, entry.ID, ledger.StatusFailedChainCall, err)
		if errors.Is(err, chain.ErrNotConfigured) {
			return InitiateResult{}, fmt.Errorf("%w: %v", ledger.ErrUnconfigured, err)
		}
		return InitiateResult{}, fmt.Errorf("%w: chain initiateTopUp: %v", ledger.ErrDependency, err)
	}
	updated, err := c.store.UpdateStatus(ctx, entry.ID, ledger.StatusUpdate{
		Status:      ledger.StatusPendingGatewayCall,
		ChainTxHash: chainTx,
	})
	if err != nil {
		c.markFailed(ctx, entry.ID, ledger.StatusFailedInternal, err)
		return InitiateResult{}, err
	}
	entry = updated

	res, gerr := c.gateway.RequestTopUp(ctx, corr, cardLastFour, minor, c.currency)
	var status gateway.Status
	var ref, message string
	switch {
	case gerr != nil:
		status, message = gateway.StatusError, gerr.Error()
		entry = c.applyStatus(ctx, entry, ledger.StatusUpdate{Status: ledger.StatusFailedGateway, Note: gerr.Error()})
	case res.Status == gateway.StatusError:
		status, ref, message = res.Status, res.Ref, res.Message
		entry = c.applyStatus(ctx, entry, ledger.StatusUpdate{Status: ledger.StatusFailedGateway, Note: res.Message, GatewayRef: res.Ref})
	default:
		// PENDING and immediate SUCCESS both wait for the webhook; only the
		// webhook credits the balance.
		status, ref, message = res.Status, res.Ref, res.Message
		entry = c.applyStatus(ctx, entry, ledger.StatusUpdate{Status: ledger.StatusPendingWebhook, GatewayRef: res.Ref})
	}

	_ = audit.LogEvent(ctx, "topup.gateway_result", map[string]any{
		"transaction_id": entry.ID,
		"correlation_id": corr,
		"gateway_status": string(status),
		"gateway_ref":    ref,
		"ledger_status":  entry.Status,
	})
	c.publish(stream.Event{
		Type:          stream.EventGatewayResult,
		CorrelationID: corr,
		AccountID:     account.ID,
		Amount:        minor,
		Currency:      c.currency,
		Status:        entry.Status,
	})

	return InitiateResult{
		Entry:          entry,
		ChainTxHash:    chainTx,
		GatewayStatus:  status,
		GatewayRef:     ref,
		GatewayMessage: message,
	}, nil
}

// markFailed moves the record into an explicit failed status. If even that
// update fails the row is stuck in a pending status, which is an operator
// problem.
func (c *Coordinator) markFailed(ctx context.Context, id int64, status string, cause error) {
	if _, err := c.store.UpdateStatus(ctx, id, ledger.StatusUpdate{Status: status, Note: cause.Error()}); err != nil {
		obs.Critical("ledger row could not be marked failed", map[string]any{
			"transaction_id": id,
			"target_status":  status,
			"cause":          cause.Error(),
			"error":          err.Error(),
		})
	}
}

// applyStatus records the gateway outcome. The saga had external side effects
// already, so a store failure here is logged and the last known record is
// returned rather than failing the accepted request.
func (c *Coordinator) applyStatus(ctx context.Context, entry ledger.Entry, upd ledger.StatusUpdate) ledger.Entry {
	updated, err := c.store.UpdateStatus(ctx, entry.ID, upd)
	if err != nil {
		obs.Critical("ledger status update failed after gateway call", map[string]any{
			"transaction_id": entry.ID,
			"target_status":  upd.Status,
			"error":          err.Error(),
		})
		return entry
	}
	return updated
}

func (c *Coordinator) publish(evt stream.Event) {
	if c.events != nil {
		c.events.Publish(evt)
	}
}

func validCardRef(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
