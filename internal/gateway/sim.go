package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Card-number triggers the simulator honors, matching the processor's
// documented sandbox behavior.
const (
	CardInvalid          = "0000"
	CardFraud            = "1111"
	CardImmediateSuccess = "9999"
)

type simRecord struct {
	topUpID string
	result  Result
}

// Sim is a deterministic in-process processor. Outcomes are selected by the
// card's last four digits; every request is recorded so status polls answer
// from history instead of chance.
type Sim struct {
	mu      sync.Mutex
	records map[string]*simRecord
}

// NewSim returns an empty simulator.
func NewSim() *Sim {
	return &Sim{records: make(map[string]*simRecord)}
}

func (s *Sim) RequestTopUp(ctx context.Context, topUpID, cardLastFour string, amountMinor int64, currency string) (Result, error) {
	var res Result
	switch cardLastFour {
	case CardInvalid:
		res = Result{Status: StatusError, Message: "Invalid card details provided to Visa."}
	case CardFraud:
		res = Result{Status: StatusError, Message: "Suspected fraud by Visa risk engine."}
	case CardImmediateSuccess:
		res = Result{
			Status:  StatusSuccess,
			Ref:     "visa_" + uuid.NewString(),
			Message: "Top-up processed successfully by Visa immediately.",
		}
	default:
		res = Result{
			Status:  StatusPending,
			Ref:     "visa_" + uuid.NewString(),
			Message: "Top-up request received by Visa and is pending processing.",
		}
	}

	if res.Ref != "" {
		s.mu.Lock()
		s.records[res.Ref] = &simRecord{topUpID: topUpID, result: res}
		s.mu.Unlock()
	}
	return res, nil
}

func (s *Sim) GetTopUpStatus(ctx context.Context, ref string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ref]
	if !ok {
		return Result{}, fmt.Errorf("unknown gateway ref %q", ref)
	}
	return rec.result, nil
}

// Resolve flips a recorded request to its settled outcome, simulating the
// processor finishing its asynchronous review. Tests and the smoke CLI use it
// before delivering the webhook.
func (s *Sim) Resolve(ref string, status Status, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ref]
	if !ok {
		return false
	}
	rec.result.Status = status
	rec.result.Message = message
	return true
}

var _ Client = (*Sim)(nil)
