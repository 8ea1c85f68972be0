package topup

import (
	"context"
	"time"

	"github.com/ebnrushd/corporate-ledger/internal/audit"
	"github.com/ebnrushd/corporate-ledger/internal/chain"
	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/obs"
	"github.com/ebnrushd/corporate-ledger/internal/stream"
)

const (
	defaultPollInterval = 5 * time.Second

	// maxConfirmAttempts bounds chain confirmation retries per job. After
	// that the job is FAILED and an operator reconciles by hand.
	maxConfirmAttempts = 5
)

// Worker drains the chain-confirm outbox: jobs enqueued by the webhook
// handler whose inline chain attempt did not finalize the record.
type Worker struct {
	store    ledger.Store
	chain    chain.Caller
	events   *stream.Stream
	interval time.Duration
}

// NewWorker wires the outbox worker. events may be nil.
func NewWorker(store ledger.Store, chainc chain.Caller, events *stream.Stream, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Worker{store: store, chain: chainc, events: events, interval: interval}
}

// Run polls for due jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain claims and processes due jobs until none remain.
func (w *Worker) Drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := w.store.ClaimConfirmJob(ctx)
		if err != nil {
			obs.Error("claim confirm job", map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			return
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job ledger.ConfirmJob) {
	entry, err := w.store.GetEntry(ctx, job.TransactionID)
	if err != nil {
		obs.Error("confirm job references unknown transaction", map[string]any{
			"job_id":         job.ID,
			"transaction_id": job.TransactionID,
			"error":          err.Error(),
		})
		if ferr := w.store.FailConfirmJob(ctx, job.ID, err.Error()); ferr != nil {
			obs.Error("mark confirm job failed", map[string]any{"job_id": job.ID, "error": ferr.Error()})
		}
		return
	}
	if ledger.IsConfirmed(entry.Status) {
		// The inline webhook attempt won while this job waited its turn;
		// only the job bookkeeping is left.
		if err := w.store.FinalizeConfirm(ctx, ledger.FinalizeParams{
			TransactionID: entry.ID,
			JobID:         job.ID,
			Status:        entry.Status,
			ConfirmTxHash: entry.ConfirmTxHash,
		}); err != nil {
			obs.Error("mark confirm job sent", map[string]any{"job_id": job.ID, "error": err.Error()})
		}
		return
	}

	obs.IncChainConfirmRetry()
	txHash, err := w.chain.ConfirmTopUp(ctx, job.CorrelationID, job.Success, job.Message)
	if err != nil {
		w.retryLater(ctx, job, err)
		return
	}
	final := ledger.StatusConfirmedFailed
	if job.Success {
		final = ledger.StatusConfirmedSuccess
	}
	if err := w.store.FinalizeConfirm(ctx, ledger.FinalizeParams{
		TransactionID: job.TransactionID,
		JobID:         job.ID,
		Status:        final,
		ConfirmTxHash: txHash,
	}); err != nil {
		w.retryLater(ctx, job, err)
		return
	}

	obs.IncTopUpConfirmed(resultLabel(job.Success))
	_ = audit.LogEvent(ctx, "topup.confirmed", map[string]any{
		"transaction_id":  job.TransactionID,
		"correlation_id":  job.CorrelationID,
		"final_status":    final,
		"confirm_tx_hash": txHash,
		"via":             "outbox",
	})
	if w.events != nil {
		w.events.Publish(stream.Event{
			Type:          stream.EventTopUpConfirmed,
			CorrelationID: job.CorrelationID,
			AccountID:     entry.ReceiverAccountID,
			Amount:        entry.Amount,
			Currency:      entry.Currency,
			Status:        final,
		})
	}
}

// retryLater reschedules the job with a linear backoff or, once attempts are
// exhausted, marks it FAILED for manual reconciliation. The transaction stays
// in PENDING_CHAIN_CONFIRM either way.
func (w *Worker) retryLater(ctx context.Context, job ledger.ConfirmJob, cause error) {
	attempts := job.Attempts + 1
	if attempts >= maxConfirmAttempts {
		obs.Critical("chain confirmation exhausted retries; manual reconciliation required", map[string]any{
			"job_id":         job.ID,
			"transaction_id": job.TransactionID,
			"correlation_id": job.CorrelationID,
			"attempts":       attempts,
			"error":          cause.Error(),
		})
		if err := w.store.FailConfirmJob(ctx, job.ID, cause.Error()); err != nil {
			obs.Error("mark confirm job failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		}
		return
	}
	next := time.Now().UTC().Add(time.Duration(attempts)*10*time.Second + 10*time.Second)
	if err := w.store.RescheduleConfirmJob(ctx, job.ID, attempts, next, cause.Error()); err != nil {
		obs.Error("reschedule confirm job", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
}
