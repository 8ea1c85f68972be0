package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// SimCall records one contract invocation observed by the simulator.
type SimCall struct {
	Method      string
	TopUpID     string
	UserAddress string
	AmountMinor int64
	CardRef     string
	Success     bool
	Message     string
	TxHash      string
}

// Sim is a deterministic in-process chain node for tests and local runs. Tx
// hashes are derived from the call contents, every call is recorded, and
// failures can be injected per method.
type Sim struct {
	mu          sync.Mutex
	calls       []SimCall
	block       uint64
	initiateErr error
	confirmErr  error
	nodeDownErr error
	signerAddr  string
}

// NewSim returns a ready simulator with signer and contract "loaded".
func NewSim() *Sim {
	sum := sha256.Sum256([]byte("chain-sim-signer"))
	return &Sim{signerAddr: "0x" + hex.EncodeToString(sum[:20])}
}

// FailInitiateWith makes subsequent InitiateTopUp calls return err (nil resets).
func (s *Sim) FailInitiateWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiateErr = err
}

// FailConfirmWith makes subsequent ConfirmTopUp calls return err (nil resets).
func (s *Sim) FailConfirmWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmErr = err
}

// FailNodeWith makes BlockNumber report err (nil resets), simulating an
// unreachable node for health probes.
func (s *Sim) FailNodeWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeDownErr = err
}

func (s *Sim) InitiateTopUp(ctx context.Context, topUpID, userAddress string, amountMinor int64, cardRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initiateErr != nil {
		return "", s.initiateErr
	}
	call := SimCall{
		Method:      "initiateTopUp",
		TopUpID:     topUpID,
		UserAddress: userAddress,
		AmountMinor: amountMinor,
		CardRef:     cardRef,
	}
	call.TxHash = s.mineLocked(fmt.Sprintf("initiateTopUp|%s|%s|%d|%s", topUpID, userAddress, amountMinor, cardRef))
	s.calls = append(s.calls, call)
	return call.TxHash, nil
}

func (s *Sim) ConfirmTopUp(ctx context.Context, topUpID string, success bool, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmErr != nil {
		return "", s.confirmErr
	}
	call := SimCall{
		Method:  "confirmTopUp",
		TopUpID: topUpID,
		Success: success,
		Message: message,
	}
	call.TxHash = s.mineLocked(fmt.Sprintf("confirmTopUp|%s|%t|%s", topUpID, success, message))
	s.calls = append(s.calls, call)
	return call.TxHash, nil
}

// mineLocked derives a deterministic tx hash and advances the block height.
func (s *Sim) mineLocked(seed string) string {
	s.block++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", seed, s.block)))
	return "0x" + hex.EncodeToString(sum[:])
}

func (s *Sim) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodeDownErr != nil {
		return 0, s.nodeDownErr
	}
	return s.block, nil
}

func (s *Sim) SignerLoaded() bool    { return true }
func (s *Sim) ContractLoaded() bool  { return true }
func (s *Sim) SignerAddress() string { return s.signerAddr }

// Calls returns a copy of all recorded invocations.
func (s *Sim) Calls() []SimCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimCall, len(s.calls))
	copy(out, s.calls)
	return out
}

var _ Caller = (*Sim)(nil)
