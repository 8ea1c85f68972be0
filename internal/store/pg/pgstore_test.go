package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ebnrushd/corporate-ledger/internal/ledger"
)

var entryCols = []string{
	"id", "sender_account_id", "receiver_account_id",
	"amount", "currency", "transaction_type", "description",
	"status", "hash_status", "correlation_id", "external_ref",
	"gateway_ref", "processor_ref", "chain_tx_hash", "confirm_tx_hash", "error_note",
	"created_at", "previous_hash", "current_hash",
}

func pendingWebhookRow(id int64, corr string) []driver.Value {
	return []driver.Value{
		id, "", "11111111-2222-3333-4444-555555555555",
		int64(5000), "USD", ledger.TypeTopUp, "Visa top-up",
		ledger.StatusPendingWebhook, ledger.StatusPendingChainCall, corr, "",
		"visa_ref", "", "0xabc", "", "",
		time.Now().UTC(), "", "hash-" + corr,
	}
}

func addEntryRow(rows *sqlmock.Rows, vals []driver.Value) *sqlmock.Rows {
	return rows.AddRow(vals...)
}

func TestAppendLocksTailAndLinks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("select current_hash from chain_tail").
		WillReturnRows(sqlmock.NewRows([]string{"current_hash"}).AddRow("prev-tail-hash"))
	mock.ExpectQuery("select exists").WithArgs("corr-append").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("insert into transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("update chain_tail set current_hash").WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e, err := s.Append(context.Background(), ledger.AppendParams{
		ReceiverAccountID: "11111111-2222-3333-4444-555555555555",
		Amount:            2500,
		Currency:          "USD",
		Type:              ledger.TypeTopUp,
		Status:            ledger.StatusPendingChainCall,
		CorrelationID:     "corr-append",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID != 7 || e.PreviousHash != "prev-tail-hash" {
		t.Fatalf("entry not linked to tail: %+v", e)
	}
	if e.CurrentHash != ledger.ComputeHash(e) {
		t.Fatalf("stored hash does not match canonical recomputation")
	}
	if e.HashStatus != ledger.StatusPendingChainCall {
		t.Fatalf("hash status snapshot missing: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendRejectsDuplicateCorrelation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("select current_hash from chain_tail").
		WillReturnRows(sqlmock.NewRows([]string{"current_hash"}).AddRow(""))
	mock.ExpectQuery("select exists").WithArgs("corr-dup").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err = s.Append(context.Background(), ledger.AppendParams{
		ReceiverAccountID: "11111111-2222-3333-4444-555555555555",
		Amount:            100,
		Currency:          "USD",
		Type:              ledger.TypeTopUp,
		Status:            ledger.StatusPendingChainCall,
		CorrelationID:     "corr-dup",
	})
	if !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConfirmTopUpProceedCreditsAndEnqueues(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("from transactions where correlation_id").WithArgs("corr-hook").
		WillReturnRows(addEntryRow(sqlmock.NewRows(entryCols), pendingWebhookRow(3, "corr-hook")))
	mock.ExpectExec("update transactions").
		WithArgs(int64(3), ledger.StatusPendingChainConfirm, "proc-9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into balances").
		WithArgs("11111111-2222-3333-4444-555555555555", "USD", int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into chain_confirm_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	out, err := s.ConfirmTopUp(context.Background(), ledger.ConfirmParams{
		CorrelationID: "corr-hook",
		Success:       true,
		Message:       "Top-up confirmed",
		ProcessorRef:  "proc-9",
	})
	if err != nil {
		t.Fatalf("ConfirmTopUp: %v", err)
	}
	if out.State != ledger.ConfirmProceed || out.JobID != 11 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Entry.Status != ledger.StatusPendingChainConfirm || out.Entry.ProcessorRef != "proc-9" {
		t.Fatalf("entry not transitioned: %+v", out.Entry)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConfirmTopUpReplayLeavesRecordAlone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	confirmed := pendingWebhookRow(3, "corr-done")
	confirmed[7] = ledger.StatusConfirmedSuccess
	mock.ExpectBegin()
	mock.ExpectQuery("from transactions where correlation_id").WithArgs("corr-done").
		WillReturnRows(addEntryRow(sqlmock.NewRows(entryCols), confirmed))
	mock.ExpectRollback()

	out, err := s.ConfirmTopUp(context.Background(), ledger.ConfirmParams{CorrelationID: "corr-done", Success: true})
	if err != nil {
		t.Fatalf("ConfirmTopUp: %v", err)
	}
	if out.State != ledger.ConfirmReplay || out.Entry.Status != ledger.StatusConfirmedSuccess {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimConfirmJobLeasesDueJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	now := time.Now().UTC()
	mock.ExpectQuery("update chain_confirm_jobs").
		WithArgs(sqlmock.AnyArg(), ledger.JobPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "transaction_id", "correlation_id", "success", "message",
			"status", "attempts", "last_error", "next_run_at", "created_at",
		}).AddRow(int64(11), int64(3), "corr-hook", true, "Top-up confirmed",
			ledger.JobPending, 0, "", now.Add(time.Minute), now))

	job, ok, err := s.ClaimConfirmJob(context.Background())
	if err != nil || !ok {
		t.Fatalf("ClaimConfirmJob: ok=%v err=%v", ok, err)
	}
	if job.ID != 11 || job.TransactionID != 3 || !job.Success {
		t.Fatalf("unexpected job: %+v", job)
	}

	mock.ExpectQuery("update chain_confirm_jobs").
		WithArgs(sqlmock.AnyArg(), ledger.JobPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, ok, err := s.ClaimConfirmJob(context.Background()); err != nil || ok {
		t.Fatalf("expected no due job, got ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateStatusDistinguishesConfirmedFromMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	// Guarded update misses; the record exists, so it must be terminal.
	mock.ExpectQuery("update transactions").
		WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectQuery("from transactions where id").WithArgs(int64(3)).
		WillReturnRows(addEntryRow(sqlmock.NewRows(entryCols), pendingWebhookRow(3, "corr-x")))
	_, err = s.UpdateStatus(context.Background(), 3, ledger.StatusUpdate{Status: ledger.StatusFailedInternal})
	if !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	mock.ExpectQuery("update transactions").
		WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectQuery("from transactions where id").WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(entryCols))
	_, err = s.UpdateStatus(context.Background(), 99, ledger.StatusUpdate{Status: ledger.StatusFailedInternal})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIngestDepositReplayFastPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	prior := pendingWebhookRow(5, "")
	prior[7] = ledger.StatusConfirmedSuccess
	prior[10] = "EXT-REPLAY-1"
	mock.ExpectQuery("from transactions where external_ref").WithArgs("EXT-REPLAY-1").
		WillReturnRows(addEntryRow(sqlmock.NewRows(entryCols), prior))

	e, dup, err := s.IngestDeposit(context.Background(), ledger.DepositParams{
		ExternalRef: "EXT-REPLAY-1",
		Email:       "treasury@acme.test",
		Amount:      100,
		Currency:    "USD",
		Type:        ledger.TypeDeposit,
	})
	if err != nil || !dup {
		t.Fatalf("IngestDeposit: dup=%v err=%v", dup, err)
	}
	if e.ExternalRef != "EXT-REPLAY-1" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListAccountEntriesEmptyForMalformedID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	out, err := s.ListAccountEntries(context.Background(), "not-a-uuid", 10)
	if err != nil || out != nil {
		t.Fatalf("expected empty result, got %v, %v", out, err)
	}
}
