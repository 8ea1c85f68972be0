package erp

import (
	"context"
	"sync"

	"github.com/ebnrushd/corporate-ledger/internal/ledger"
)

// SimBalanceMinor is the balance the simulated ERP reports for every account:
// 1000.00 in the requested currency.
const SimBalanceMinor int64 = 100_000

// Sim acknowledges every sync and reports a fixed balance. Tests override the
// balance to drive reconciliation deltas.
type Sim struct {
	mu           sync.Mutex
	synced       []int64
	balanceMinor int64
	syncErr      error
}

func NewSim() *Sim {
	return &Sim{balanceMinor: SimBalanceMinor}
}

// SetBalance overrides the reported balance.
func (s *Sim) SetBalance(minor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceMinor = minor
}

// FailSyncWith makes subsequent SyncTransaction calls return err (nil resets).
func (s *Sim) FailSyncWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncErr = err
}

func (s *Sim) SyncTransaction(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncErr != nil {
		return s.syncErr
	}
	s.synced = append(s.synced, e.ID)
	return nil
}

func (s *Sim) AccountBalance(ctx context.Context, accountID, currency string) (ledger.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.Money{Currency: currency, Amount: s.balanceMinor}, nil
}

// Synced returns the ids of all records pushed so far.
func (s *Sim) Synced() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.synced))
	copy(out, s.synced)
	return out
}

var _ Connector = (*Sim)(nil)
