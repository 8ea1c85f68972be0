package topup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ebnrushd/corporate-ledger/internal/chain"
	"github.com/ebnrushd/corporate-ledger/internal/gateway"
	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/stream"
)

func newSaga(t *testing.T) (*Coordinator, *ledger.InMemory, *chain.Sim, *gateway.Sim) {
	t.Helper()
	store := ledger.NewInMemory()
	chainSim := chain.NewSim()
	gwSim := gateway.NewSim()
	return NewCoordinator(store, chainSim, gwSim, stream.New()), store, chainSim, gwSim
}

func mustAccount(t *testing.T, store *ledger.InMemory, holder, email, addr string) ledger.Account {
	t.Helper()
	acc, err := store.CreateAccount(context.Background(), ledger.NewAccount{
		HolderName:   holder,
		Email:        email,
		ChainAddress: addr,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return acc
}

func TestInitiateHappyPath(t *testing.T) {
	c, store, chainSim, _ := newSaga(t)
	ctx := context.Background()
	acc := mustAccount(t, store, "Acme GmbH", "ops@acme.test", "")

	res, err := c.Initiate(ctx, acc.ID, "125.50", "4242")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if res.GatewayStatus != gateway.StatusPending {
		t.Fatalf("unexpected gateway status: %+v", res)
	}
	if res.Entry.Status != ledger.StatusPendingWebhook {
		t.Fatalf("unexpected ledger status: %s", res.Entry.Status)
	}
	if len(res.Entry.CorrelationID) != 64 {
		t.Fatalf("correlation id is not 256-bit hex: %q", res.Entry.CorrelationID)
	}
	if res.ChainTxHash == "" || res.Entry.ChainTxHash != res.ChainTxHash {
		t.Fatalf("chain tx hash not recorded: %+v", res)
	}
	if !strings.HasPrefix(res.GatewayRef, "visa_") || res.Entry.GatewayRef != res.GatewayRef {
		t.Fatalf("gateway ref not recorded: %+v", res)
	}

	calls := chainSim.Calls()
	if len(calls) != 1 || calls[0].Method != "initiateTopUp" {
		t.Fatalf("unexpected chain calls: %+v", calls)
	}
	if calls[0].AmountMinor != 12550 || calls[0].CardRef != "4242" {
		t.Fatalf("unexpected chain call args: %+v", calls[0])
	}
	if calls[0].UserAddress != chainSim.SignerAddress() {
		t.Fatalf("expected signer address fallback, got %s", calls[0].UserAddress)
	}

	// Nothing is credited until the webhook arrives.
	bal, err := store.GetBalance(ctx, acc.ID, DefaultCurrency)
	if err != nil || bal.Amount != 0 {
		t.Fatalf("premature credit: %+v, %v", bal, err)
	}

	stored, err := store.GetByCorrelationID(ctx, res.Entry.CorrelationID)
	if err != nil || stored.ID != res.Entry.ID {
		t.Fatalf("record not reachable by correlation id: %+v, %v", stored, err)
	}
}

func TestInitiateUsesAccountChainAddress(t *testing.T) {
	c, store, chainSim, _ := newSaga(t)
	acc := mustAccount(t, store, "Acme GmbH", "ops2@acme.test", "0x00feedfacefeedfacefeedfacefeedfacefeedfa")

	if _, err := c.Initiate(context.Background(), acc.ID, "10.00", "4242"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	calls := chainSim.Calls()
	if len(calls) != 1 || calls[0].UserAddress != acc.ChainAddress {
		t.Fatalf("expected account chain address, got %+v", calls)
	}
}

func TestInitiateValidation(t *testing.T) {
	c, store, _, _ := newSaga(t)
	ctx := context.Background()
	acc := mustAccount(t, store, "Acme GmbH", "ops3@acme.test", "")

	cases := []struct {
		name    string
		userID  string
		amount  string
		card    string
		wantErr error
	}{
		{"malformed user id", "not-a-uuid", "10.00", "4242", ledger.ErrValidation},
		{"zero amount", acc.ID, "0.00", "4242", ledger.ErrInvalidAmount},
		{"three fraction digits", acc.ID, "10.005", "4242", ledger.ErrInvalidAmount},
		{"card too short", acc.ID, "10.00", "424", ledger.ErrValidation},
		{"card not digits", acc.ID, "10.00", "42a2", ledger.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := c.Initiate(ctx, tc.userID, tc.amount, tc.card); !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.wantErr)
		}
	}

	// Well-formed but unknown user.
	if _, err := c.Initiate(ctx, "9b2fc37e-12fc-4b7a-9c10-aaaaaaaaaaaa", "10.00", "4242"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown user: got %v", err)
	}

	// No rejected request left a record behind.
	if tail, _ := store.LatestHash(ctx); tail != "" {
		t.Fatalf("validation failures must not append records")
	}
}

func TestInitiateImmediateSuccessStillWaitsForWebhook(t *testing.T) {
	c, store, _, _ := newSaga(t)
	ctx := context.Background()
	acc := mustAccount(t, store, "Acme GmbH", "ops4@acme.test", "")

	res, err := c.Initiate(ctx, acc.ID, "20.00", gateway.CardImmediateSuccess)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if res.GatewayStatus != gateway.StatusSuccess {
		t.Fatalf("expected immediate gateway success, got %+v", res)
	}
	if res.Entry.Status != ledger.StatusPendingWebhook {
		t.Fatalf("immediate success must still wait for the webhook: %s", res.Entry.Status)
	}
	bal, _ := store.GetBalance(ctx, acc.ID, DefaultCurrency)
	if bal.Amount != 0 {
		t.Fatalf("credit applied before webhook: %d", bal.Amount)
	}
}

func TestInitiateCardDeclinedMarksFailedGateway(t *testing.T) {
	c, store, _, _ := newSaga(t)
	ctx := context.Background()
	acc := mustAccount(t, store, "Acme GmbH", "ops5@acme.test", "")

	res, err := c.Initiate(ctx, acc.ID, "20.00", gateway.CardInvalid)
	if err != nil {
		t.Fatalf("a declined card is still an accepted request: %v", err)
	}
	if res.GatewayStatus != gateway.StatusError {
		t.Fatalf("unexpected gateway status: %+v", res)
	}
	if res.Entry.Status != ledger.StatusFailedGateway {
		t.Fatalf("unexpected ledger status: %s", res.Entry.Status)
	}
	if res.Entry.ErrorNote != "Invalid card details provided to Visa." {
		t.Fatalf("gateway message not recorded: %q", res.Entry.ErrorNote)
	}
	bal, _ := store.GetBalance(ctx, acc.ID, DefaultCurrency)
	if bal.Amount != 0 {
		t.Fatalf("declined card credited: %d", bal.Amount)
	}
}

func TestInitiateChainFailureMarksFailedChainCall(t *testing.T) {
	c, store, chainSim, _ := newSaga(t)
	ctx := context.Background()
	acc := mustAccount(t, store, "Acme GmbH", "ops6@acme.test", "")
	chainSim.FailInitiateWith(errors.New("node timeout"))

	_, err := c.Initiate(ctx, acc.ID, "20.00", "4242")
	if !errors.Is(err, ledger.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	entries, err := store.ListAccountEntries(ctx, acc.ID, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one record, got %d, %v", len(entries), err)
	}
	if entries[0].Status != ledger.StatusFailedChainCall {
		t.Fatalf("unexpected ledger status: %s", entries[0].Status)
	}
	if !strings.Contains(entries[0].ErrorNote, "node timeout") {
		t.Fatalf("error note not recorded: %q", entries[0].ErrorNote)
	}
}
