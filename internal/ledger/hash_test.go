package ledger

import (
	"testing"
	"time"
)

func TestCanonicalString(t *testing.T) {
	e := Entry{
		ReceiverAccountID: "3f2a8c0e-9d4b-4f6a-8b1c-2e7d5a9c4e01",
		Amount:            12550,
		Currency:          "USD",
		Type:              TypeTopUp,
		Description:       "Corporate card top-up via Visa.",
		HashStatus:        StatusPendingChainCall,
		CreatedAt:         time.Date(2025, 6, 1, 10, 30, 0, 1000, time.UTC),
	}
	want := "amount:125.50|created_at:2025-06-01T10:30:00.000001+00:00|currency:USD|" +
		"description:Corporate card top-up via Visa.|previous_transaction_hash:|" +
		"receiver_account_id:3f2a8c0e-9d4b-4f6a-8b1c-2e7d5a9c4e01|sender_account_id:|" +
		"status:PENDING_CHAIN_CALL|transaction_type:visa_top_up"
	if got := CanonicalString(e); got != want {
		t.Fatalf("canonical string mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestComputeHashGoldenChain(t *testing.T) {
	first := Entry{
		ReceiverAccountID: "3f2a8c0e-9d4b-4f6a-8b1c-2e7d5a9c4e01",
		Amount:            12550,
		Currency:          "USD",
		Type:              TypeTopUp,
		Description:       "Corporate card top-up via Visa.",
		HashStatus:        StatusPendingChainCall,
		CreatedAt:         time.Date(2025, 6, 1, 10, 30, 0, 1000, time.UTC),
	}
	const wantFirst = "6c656d2f3613deb21901281fc206341f2cc5c4e4569a034ccaa12d5d2fdfd470"
	if got := ComputeHash(first); got != wantFirst {
		t.Fatalf("first hash = %s, want %s", got, wantFirst)
	}

	second := Entry{
		ReceiverAccountID: "3f2a8c0e-9d4b-4f6a-8b1c-2e7d5a9c4e01",
		Amount:            2000,
		Currency:          "USD",
		Type:              TypeDeposit,
		HashStatus:        StatusConfirmedSuccess,
		CreatedAt:         time.Date(2025, 6, 1, 10, 31, 0, 500000000, time.UTC),
		PreviousHash:      wantFirst,
	}
	const wantSecond = "3830b2bdb3728f7c22bee732a9b749a94e222f2e065e1f31c16a6bdd3a18b94e"
	if got := ComputeHash(second); got != wantSecond {
		t.Fatalf("second hash = %s, want %s", got, wantSecond)
	}
}

func TestCanonicalTimestampNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2025, 6, 1, 15, 30, 0, 1000, loc)
	if got := CanonicalTimestamp(ts); got != "2025-06-01T10:30:00.000001+00:00" {
		t.Fatalf("unexpected canonical timestamp: %s", got)
	}
}

func TestHashBindsAppendTimeStatusOnly(t *testing.T) {
	e := Entry{
		ReceiverAccountID: "acct",
		Amount:            100,
		Currency:          "USD",
		Type:              TypeTopUp,
		HashStatus:        StatusPendingChainCall,
		Status:            StatusPendingChainCall,
		CreatedAt:         time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
	}
	before := ComputeHash(e)
	e.Status = StatusConfirmedSuccess
	e.ChainTxHash = "0xabc"
	e.ErrorNote = "note"
	if after := ComputeHash(e); after != before {
		t.Fatalf("live status mutation changed the hash: %s != %s", after, before)
	}
}
