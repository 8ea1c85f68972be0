package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemory implements Store with in-process concurrency safety. It backs unit
// tests and local development without Postgres; the durable implementation
// lives in internal/store/pg.
type InMemory struct {
	mu       sync.Mutex
	accounts map[string]*Account
	emails   map[string]string // lower(email) -> account id
	balances map[string]map[string]int64
	entries  []*Entry // append order == chain order
	byID     map[int64]*Entry
	byCorr   map[string]*Entry
	byExtRef map[string]*Entry
	serials  map[string]string // banknote serial -> account id
	jobs     []*ConfirmJob
	nextID   int64
	nextJob  int64
	tail     string

	now func() time.Time
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[string]*Account),
		emails:   make(map[string]string),
		balances: make(map[string]map[string]int64),
		byID:     make(map[int64]*Entry),
		byCorr:   make(map[string]*Entry),
		byExtRef: make(map[string]*Entry),
		serials:  make(map[string]string),
		now:      AppendTime,
	}
}

func (s *InMemory) CreateAccount(ctx context.Context, p NewAccount) (Account, error) {
	holder := strings.TrimSpace(p.HolderName)
	if holder == "" {
		return Account{}, fmt.Errorf("%w: holder_name is required", ErrValidation)
	}
	email := strings.ToLower(strings.TrimSpace(p.Email))

	s.mu.Lock()
	defer s.mu.Unlock()
	if email != "" {
		if _, exists := s.emails[email]; exists {
			return Account{}, fmt.Errorf("%w: email already registered", ErrValidation)
		}
	}
	acc := &Account{
		ID:           uuid.NewString(),
		HolderName:   holder,
		Email:        email,
		ChainAddress: strings.TrimSpace(p.ChainAddress),
		CreatedAt:    s.now(),
	}
	s.accounts[acc.ID] = acc
	if email != "" {
		s.emails[email] = acc.ID
	}
	return *acc, nil
}

func (s *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *acc, nil
}

func (s *InMemory) FindAccountByEmail(ctx context.Context, email string) (Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *s.accounts[id], nil
}

func (s *InMemory) GetBalance(ctx context.Context, accountID, currency string) (Money, error) {
	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return Money{}, ErrNotFound
	}
	return Money{Currency: currency, Amount: s.balances[accountID][currency]}, nil
}

func (s *InMemory) Append(ctx context.Context, p AppendParams) (Entry, error) {
	if err := ValidateAppend(p); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.appendLocked(p)
	if err != nil {
		return Entry{}, err
	}
	return *e, nil
}

// appendLocked links a new record to the tail. Callers hold s.mu.
func (s *InMemory) appendLocked(p AppendParams) (*Entry, error) {
	if p.CorrelationID != "" {
		if _, exists := s.byCorr[p.CorrelationID]; exists {
			return nil, fmt.Errorf("%w: correlation id already recorded", ErrValidation)
		}
	}
	if p.ExternalRef != "" {
		if _, exists := s.byExtRef[p.ExternalRef]; exists {
			return nil, fmt.Errorf("%w: external ref already recorded", ErrValidation)
		}
	}
	s.nextID++
	e := &Entry{
		ID:                s.nextID,
		SenderAccountID:   p.SenderAccountID,
		ReceiverAccountID: p.ReceiverAccountID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Type:              p.Type,
		Description:       p.Description,
		Status:            p.Status,
		HashStatus:        p.Status,
		CorrelationID:     p.CorrelationID,
		ExternalRef:       p.ExternalRef,
		CreatedAt:         s.now(),
		PreviousHash:      s.tail,
	}
	e.CurrentHash = ComputeHash(*e)
	s.entries = append(s.entries, e)
	s.byID[e.ID] = e
	if e.CorrelationID != "" {
		s.byCorr[e.CorrelationID] = e
	}
	if e.ExternalRef != "" {
		s.byExtRef[e.ExternalRef] = e
	}
	s.tail = e.CurrentHash
	return e, nil
}

func (s *InMemory) LatestHash(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tail, nil
}

func (s *InMemory) GetEntry(ctx context.Context, id int64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

func (s *InMemory) GetByCorrelationID(ctx context.Context, correlationID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byCorr[correlationID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

func (s *InMemory) ListAccountEntries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if e.SenderAccountID == accountID || e.ReceiverAccountID == accountID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *InMemory) UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) (Entry, error) {
	if strings.TrimSpace(upd.Status) == "" {
		return Entry{}, fmt.Errorf("%w: status is required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if IsConfirmed(e.Status) {
		return Entry{}, fmt.Errorf("%w: record %d is terminally confirmed", ErrValidation, id)
	}
	e.Status = upd.Status
	if upd.Note != "" {
		e.ErrorNote = TruncateNote(upd.Note)
	}
	if upd.ChainTxHash != "" {
		e.ChainTxHash = upd.ChainTxHash
	}
	if upd.GatewayRef != "" {
		e.GatewayRef = upd.GatewayRef
	}
	return *e, nil
}

func (s *InMemory) ConfirmTopUp(ctx context.Context, p ConfirmParams) (ConfirmOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byCorr[p.CorrelationID]
	if !ok {
		return ConfirmOutcome{}, ErrNotFound
	}
	switch {
	case IsConfirmed(e.Status):
		return ConfirmOutcome{State: ConfirmReplay, Entry: *e}, nil
	case e.Status == StatusPendingChainConfirm:
		return ConfirmOutcome{State: ConfirmInFlight, Entry: *e}, nil
	case !AwaitsConfirmation(e.Status):
		return ConfirmOutcome{State: ConfirmNotAwaiting, Entry: *e}, nil
	}

	e.Status = StatusPendingChainConfirm
	if p.ProcessorRef != "" {
		e.ProcessorRef = p.ProcessorRef
	}
	if p.Success && e.ReceiverAccountID != "" {
		s.creditLocked(e.ReceiverAccountID, e.Currency, e.Amount)
	}
	now := s.now()
	s.nextJob++
	job := &ConfirmJob{
		ID:            s.nextJob,
		TransactionID: e.ID,
		CorrelationID: e.CorrelationID,
		Success:       p.Success,
		Message:       TruncateNote(p.Message),
		Status:        JobPending,
		NextRunAt:     now.Add(JobInitialDelay),
		CreatedAt:     now,
	}
	s.jobs = append(s.jobs, job)
	return ConfirmOutcome{State: ConfirmProceed, Entry: *e, JobID: job.ID}, nil
}

func (s *InMemory) FinalizeConfirm(ctx context.Context, p FinalizeParams) error {
	if !IsConfirmed(p.Status) {
		return fmt.Errorf("%w: %q is not a terminal confirmed status", ErrValidation, p.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[p.TransactionID]
	if !ok {
		return ErrNotFound
	}
	e.Status = p.Status
	if p.ConfirmTxHash != "" {
		e.ConfirmTxHash = p.ConfirmTxHash
	}
	if job := s.jobLocked(p.JobID); job != nil {
		job.Status = JobSent
	}
	return nil
}

func (s *InMemory) ClaimConfirmJob(ctx context.Context) (ConfirmJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, job := range s.jobs {
		if job.Status == JobPending && !job.NextRunAt.After(now) {
			return *job, true, nil
		}
	}
	return ConfirmJob{}, false, nil
}

func (s *InMemory) RescheduleConfirmJob(ctx context.Context, jobID int64, attempts int, nextRun time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobLocked(jobID)
	if job == nil {
		return ErrNotFound
	}
	job.Attempts = attempts
	job.NextRunAt = nextRun
	job.LastError = TruncateNote(lastError)
	return nil
}

func (s *InMemory) FailConfirmJob(ctx context.Context, jobID int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobLocked(jobID)
	if job == nil {
		return ErrNotFound
	}
	job.Status = JobFailed
	job.LastError = TruncateNote(lastError)
	return nil
}

func (s *InMemory) jobLocked(id int64) *ConfirmJob {
	for _, job := range s.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (s *InMemory) IngestDeposit(ctx context.Context, p DepositParams) (Entry, bool, error) {
	ref := strings.TrimSpace(p.ExternalRef)
	if ref == "" {
		return Entry{}, false, fmt.Errorf("%w: external ref is required", ErrValidation)
	}
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		return Entry{}, false, fmt.Errorf("%w: email is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, exists := s.byExtRef[ref]; exists {
		return *prior, true, nil
	}

	accountID, ok := s.emails[email]
	if !ok {
		acc := &Account{
			ID:         uuid.NewString(),
			HolderName: strings.TrimSpace(p.HolderName),
			Email:      email,
			CreatedAt:  s.now(),
		}
		s.accounts[acc.ID] = acc
		s.emails[email] = acc.ID
		accountID = acc.ID
	}

	e, err := s.appendLocked(AppendParams{
		ReceiverAccountID: accountID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Type:              p.Type,
		Description:       p.Description,
		Status:            StatusConfirmedSuccess,
		ExternalRef:       ref,
	})
	if err != nil {
		return Entry{}, false, err
	}
	s.creditLocked(accountID, e.Currency, e.Amount)
	for _, serial := range p.BanknoteSerials {
		serial = strings.TrimSpace(serial)
		if serial == "" {
			continue
		}
		if _, taken := s.serials[serial]; !taken {
			s.serials[serial] = accountID
		}
	}
	return *e, false, nil
}

func (s *InMemory) creditLocked(accountID, currency string, amount int64) {
	bals, ok := s.balances[accountID]
	if !ok {
		bals = make(map[string]int64)
		s.balances[accountID] = bals
	}
	bals[currency] += amount
}

func (s *InMemory) ForEachInChainOrder(ctx context.Context, fn func(Entry) error) error {
	s.mu.Lock()
	snapshot := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		snapshot[i] = *e
	}
	s.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].CreatedAt.Equal(snapshot[j].CreatedAt) {
			return snapshot[i].ID < snapshot[j].ID
		}
		return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
	})
	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemory) Ping(ctx context.Context) error { return nil }

// SetClock overrides the store's time source. Worker tests advance it to make
// outbox jobs due without waiting out the real grace window.
func (s *InMemory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// TamperEntry overwrites one stored field of a record in place, bypassing all
// invariants. Only intended for integrity tests.
func (s *InMemory) TamperEntry(id int64, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	mutate(e)
	return true
}
