// Package erp bridges the ledger to the corporate ERP system. No real
// connector exists yet; the simulator stands in and reports a fixed balance,
// which keeps reconciliation deltas deterministic.
package erp

import (
	"context"
	"fmt"

	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/obs"
)

// Connector is the ERP's capability surface: push one ledger record, read one
// account balance back.
type Connector interface {
	SyncTransaction(ctx context.Context, e ledger.Entry) error
	AccountBalance(ctx context.Context, accountID, currency string) (ledger.Money, error)
}

// Report is the outcome of one account reconciliation pass. Amounts are minor
// units; Delta is ledger minus ERP.
type Report struct {
	AccountID     string `json:"account_id"`
	Currency      string `json:"currency"`
	LedgerBalance int64  `json:"ledger_balance_minor"`
	ERPBalance    int64  `json:"erp_balance_minor"`
	Delta         int64  `json:"delta_minor"`
	InSync        bool   `json:"in_sync"`
	SyncedEntries int    `json:"synced_entries"`
}

// Reconciler pushes an account's settled records to the ERP and compares the
// resulting balances.
type Reconciler struct {
	store ledger.Store
	conn  Connector
}

func NewReconciler(store ledger.Store, conn Connector) *Reconciler {
	return &Reconciler{store: store, conn: conn}
}

// Reconcile syncs the account's terminally confirmed records and reports the
// balance delta. A mismatch is a reportable finding, not an error.
func (r *Reconciler) Reconcile(ctx context.Context, accountID, currency string) (Report, error) {
	cur, err := ledger.NormalizeCurrency(currency)
	if err != nil {
		return Report{}, err
	}
	acc, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return Report{}, err
	}

	entries, err := r.store.ListAccountEntries(ctx, acc.ID, 100)
	if err != nil {
		return Report{}, err
	}
	synced := 0
	for _, e := range entries {
		if !ledger.IsConfirmed(e.Status) {
			continue
		}
		if err := r.conn.SyncTransaction(ctx, e); err != nil {
			return Report{}, fmt.Errorf("%w: erp sync transaction %d: %v", ledger.ErrDependency, e.ID, err)
		}
		synced++
	}

	bal, err := r.store.GetBalance(ctx, acc.ID, cur)
	if err != nil {
		return Report{}, err
	}
	erpBal, err := r.conn.AccountBalance(ctx, acc.ID, cur)
	if err != nil {
		return Report{}, fmt.Errorf("%w: erp balance: %v", ledger.ErrDependency, err)
	}

	report := Report{
		AccountID:     acc.ID,
		Currency:      cur,
		LedgerBalance: bal.Amount,
		ERPBalance:    erpBal.Amount,
		Delta:         bal.Amount - erpBal.Amount,
		SyncedEntries: synced,
	}
	report.InSync = report.Delta == 0

	fields := map[string]any{
		"account_id":     report.AccountID,
		"currency":       report.Currency,
		"ledger_balance": report.LedgerBalance,
		"erp_balance":    report.ERPBalance,
		"delta":          report.Delta,
		"synced_entries": report.SyncedEntries,
	}
	if report.InSync {
		obs.Event("info", "ledger and erp reconciled", fields)
	} else {
		obs.Event("warn", "ledger and erp balances differ", fields)
	}
	return report, nil
}
