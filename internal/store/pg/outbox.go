package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ebnrushd/corporate-ledger/internal/ledger"
)

// claimLease is how long a claimed outbox job stays invisible to other
// workers. A worker that dies mid-attempt forfeits the job after the lease.
const claimLease = time.Minute

func (s *Store) ConfirmTopUp(ctx context.Context, p ledger.ConfirmParams) (ledger.ConfirmOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.ConfirmOutcome{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// The row lock makes concurrent deliveries of the same correlation id
	// queue here; the loser re-reads the state the winner committed.
	e, err := scanEntry(tx.QueryRowContext(ctx,
		`select `+entryColumns+` from transactions where correlation_id=$1 for update`, p.CorrelationID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ConfirmOutcome{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.ConfirmOutcome{}, err
	}

	switch {
	case ledger.IsConfirmed(e.Status):
		return ledger.ConfirmOutcome{State: ledger.ConfirmReplay, Entry: e}, nil
	case e.Status == ledger.StatusPendingChainConfirm:
		return ledger.ConfirmOutcome{State: ledger.ConfirmInFlight, Entry: e}, nil
	case !ledger.AwaitsConfirmation(e.Status):
		return ledger.ConfirmOutcome{State: ledger.ConfirmNotAwaiting, Entry: e}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		update transactions
		set status=$2, processor_ref = case when $3 <> '' then $3 else processor_ref end
		where id=$1
	`, e.ID, ledger.StatusPendingChainConfirm, p.ProcessorRef); err != nil {
		return ledger.ConfirmOutcome{}, err
	}
	if p.Success && e.ReceiverAccountID != "" {
		if err := creditTx(ctx, tx, e.ReceiverAccountID, e.Currency, e.Amount); err != nil {
			return ledger.ConfirmOutcome{}, err
		}
	}

	now := time.Now().UTC()
	var jobID int64
	if err := tx.QueryRowContext(ctx, `
		insert into chain_confirm_jobs(transaction_id, correlation_id, success, message, status, next_run_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning id
	`, e.ID, e.CorrelationID, p.Success, ledger.TruncateNote(p.Message),
		ledger.JobPending, now.Add(ledger.JobInitialDelay), now).Scan(&jobID); err != nil {
		return ledger.ConfirmOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.ConfirmOutcome{}, err
	}

	e.Status = ledger.StatusPendingChainConfirm
	if p.ProcessorRef != "" {
		e.ProcessorRef = p.ProcessorRef
	}
	return ledger.ConfirmOutcome{State: ledger.ConfirmProceed, Entry: e, JobID: jobID}, nil
}

func (s *Store) FinalizeConfirm(ctx context.Context, p ledger.FinalizeParams) error {
	if !ledger.IsConfirmed(p.Status) {
		return fmt.Errorf("%w: %q is not a terminal confirmed status", ledger.ErrValidation, p.Status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update transactions
		set status=$2, confirm_tx_hash = case when $3 <> '' then $3 else confirm_tx_hash end
		where id=$1
	`, p.TransactionID, p.Status, p.ConfirmTxHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ledger.ErrNotFound
	}
	if p.JobID != 0 {
		if _, err := tx.ExecContext(ctx,
			`update chain_confirm_jobs set status=$2 where id=$1`, p.JobID, ledger.JobSent); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ClaimConfirmJob leases the oldest due pending job. The lease pushes
// next_run_at forward so other workers skip it; finalizing marks it SENT and
// a failed attempt reschedules it explicitly.
func (s *Store) ClaimConfirmJob(ctx context.Context) (ledger.ConfirmJob, bool, error) {
	now := time.Now().UTC()
	var job ledger.ConfirmJob
	err := s.db.QueryRowContext(ctx, `
		update chain_confirm_jobs
		set next_run_at=$1
		where id = (
			select id from chain_confirm_jobs
			where status=$2 and next_run_at <= $3
			order by created_at asc, id asc
			for update skip locked
			limit 1
		)
		returning id, transaction_id, correlation_id, success, message, status,
			attempts, coalesce(last_error,''), next_run_at, created_at
	`, now.Add(claimLease), ledger.JobPending, now).Scan(
		&job.ID, &job.TransactionID, &job.CorrelationID, &job.Success, &job.Message,
		&job.Status, &job.Attempts, &job.LastError, &job.NextRunAt, &job.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ConfirmJob{}, false, nil
	}
	if err != nil {
		return ledger.ConfirmJob{}, false, err
	}
	return job, true, nil
}

func (s *Store) RescheduleConfirmJob(ctx context.Context, jobID int64, attempts int, nextRun time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		update chain_confirm_jobs
		set attempts=$2, next_run_at=$3, last_error=nullif($4,'')
		where id=$1
	`, jobID, attempts, nextRun, ledger.TruncateNote(lastError))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) FailConfirmJob(ctx context.Context, jobID int64, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		update chain_confirm_jobs
		set status=$2, last_error=nullif($3,'')
		where id=$1
	`, jobID, ledger.JobFailed, ledger.TruncateNote(lastError))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
