// Package pg is the durable Store implementation. Chain appends serialize on
// a single chain_tail row lock so every record links to the committed tail;
// webhook confirmations single-flight on a row lock per correlation id.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ebnrushd/corporate-ledger/internal/ledger"
)

type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests and the migrator.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- accounts ---

func (s *Store) CreateAccount(ctx context.Context, p ledger.NewAccount) (ledger.Account, error) {
	holder := strings.TrimSpace(p.HolderName)
	if holder == "" {
		return ledger.Account{}, fmt.Errorf("%w: holder_name is required", ledger.ErrValidation)
	}
	email := strings.ToLower(strings.TrimSpace(p.Email))

	if email != "" {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from accounts where email=$1)`, email).Scan(&exists); err != nil {
			return ledger.Account{}, err
		}
		if exists {
			return ledger.Account{}, fmt.Errorf("%w: email already registered", ledger.ErrValidation)
		}
	}

	acc := ledger.Account{
		ID:           uuid.NewString(),
		HolderName:   holder,
		Email:        email,
		ChainAddress: strings.TrimSpace(p.ChainAddress),
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		insert into accounts(id, holder_name, email, chain_address, created_at)
		values ($1, $2, nullif($3,''), nullif($4,''), $5)
	`, acc.ID, acc.HolderName, acc.Email, acc.ChainAddress, acc.CreatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ledger.Account{}, ledger.ErrNotFound
	}
	var acc ledger.Account
	err := s.db.QueryRowContext(ctx, `
		select id::text, holder_name, coalesce(email,''), coalesce(chain_address,''), created_at
		from accounts where id=$1
	`, id).Scan(&acc.ID, &acc.HolderName, &acc.Email, &acc.ChainAddress, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (ledger.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var acc ledger.Account
	err := s.db.QueryRowContext(ctx, `
		select id::text, holder_name, coalesce(email,''), coalesce(chain_address,''), created_at
		from accounts where email=$1
	`, email).Scan(&acc.ID, &acc.HolderName, &acc.Email, &acc.ChainAddress, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

func (s *Store) GetBalance(ctx context.Context, accountID, currency string) (ledger.Money, error) {
	currency, err := ledger.NormalizeCurrency(currency)
	if err != nil {
		return ledger.Money{}, err
	}
	if _, err := uuid.Parse(accountID); err != nil {
		return ledger.Money{}, ledger.ErrNotFound
	}
	var amt int64
	err = s.db.QueryRowContext(ctx, `
		select coalesce(b.amount, 0)
		from accounts a
		left join balances b on b.account_id=a.id and b.currency=$2
		where a.id=$1
	`, accountID, currency).Scan(&amt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Money{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Money{}, err
	}
	return ledger.Money{Currency: currency, Amount: amt}, nil
}

// --- chain records ---

// entryColumns is the scan order every record query uses.
const entryColumns = `id,
	coalesce(sender_account_id::text,''), coalesce(receiver_account_id::text,''),
	amount, currency, transaction_type, coalesce(description,''),
	status, hash_status,
	coalesce(correlation_id,''), coalesce(external_ref,''),
	coalesce(gateway_ref,''), coalesce(processor_ref,''),
	coalesce(chain_tx_hash,''), coalesce(confirm_tx_hash,''), coalesce(error_note,''),
	created_at, previous_hash, current_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var e ledger.Entry
	err := row.Scan(
		&e.ID,
		&e.SenderAccountID, &e.ReceiverAccountID,
		&e.Amount, &e.Currency, &e.Type, &e.Description,
		&e.Status, &e.HashStatus,
		&e.CorrelationID, &e.ExternalRef,
		&e.GatewayRef, &e.ProcessorRef,
		&e.ChainTxHash, &e.ConfirmTxHash, &e.ErrorNote,
		&e.CreatedAt, &e.PreviousHash, &e.CurrentHash,
	)
	if err != nil {
		return ledger.Entry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *Store) Append(ctx context.Context, p ledger.AppendParams) (ledger.Entry, error) {
	if err := ledger.ValidateAppend(p); err != nil {
		return ledger.Entry{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := lockTail(ctx, tx)
	if err != nil {
		return ledger.Entry{}, err
	}
	if p.CorrelationID != "" {
		dup, err := entryExists(ctx, tx, "correlation_id", p.CorrelationID)
		if err != nil {
			return ledger.Entry{}, err
		}
		if dup {
			return ledger.Entry{}, fmt.Errorf("%w: correlation id already recorded", ledger.ErrValidation)
		}
	}
	if p.ExternalRef != "" {
		dup, err := entryExists(ctx, tx, "external_ref", p.ExternalRef)
		if err != nil {
			return ledger.Entry{}, err
		}
		if dup {
			return ledger.Entry{}, fmt.Errorf("%w: external ref already recorded", ledger.ErrValidation)
		}
	}

	e, err := insertEntry(ctx, tx, p, prev)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := advanceTail(ctx, tx, e.CurrentHash); err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

// lockTail takes the single chain_tail row lock and returns the tail hash.
// Held until the surrounding transaction commits, it serializes all appends.
func lockTail(ctx context.Context, tx *sql.Tx) (string, error) {
	var tail string
	err := tx.QueryRowContext(ctx, `select current_hash from chain_tail where id=1 for update`).Scan(&tail)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("chain_tail row missing; run migrations")
	}
	return tail, err
}

func advanceTail(ctx context.Context, tx *sql.Tx, hash string) error {
	_, err := tx.ExecContext(ctx, `update chain_tail set current_hash=$1 where id=1`, hash)
	return err
}

func entryExists(ctx context.Context, tx *sql.Tx, column, value string) (bool, error) {
	var exists bool
	q := fmt.Sprintf(`select exists(select 1 from transactions where %s=$1)`, column)
	err := tx.QueryRowContext(ctx, q, value).Scan(&exists)
	return exists, err
}

// insertEntry hashes the record against prev and writes it. Callers hold the
// chain_tail lock and have already rejected duplicate references.
func insertEntry(ctx context.Context, tx *sql.Tx, p ledger.AppendParams, prev string) (ledger.Entry, error) {
	e := ledger.Entry{
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
		CreatedAt:         ledger.AppendTime(),
		PreviousHash:      prev,
	}
	e.CurrentHash = ledger.ComputeHash(e)

	err := tx.QueryRowContext(ctx, `
		insert into transactions(
			sender_account_id, receiver_account_id, amount, currency, transaction_type,
			description, status, hash_status, correlation_id, external_ref,
			created_at, previous_hash, current_hash)
		values (nullif($1,'')::uuid, nullif($2,'')::uuid, $3, $4, $5,
			nullif($6,''), $7, $8, nullif($9,''), nullif($10,''),
			$11, $12, $13)
		returning id
	`, e.SenderAccountID, e.ReceiverAccountID, e.Amount, e.Currency, e.Type,
		e.Description, e.Status, e.HashStatus, e.CorrelationID, e.ExternalRef,
		e.CreatedAt, e.PreviousHash, e.CurrentHash).Scan(&e.ID)
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *Store) LatestHash(ctx context.Context) (string, error) {
	var tail string
	err := s.db.QueryRowContext(ctx, `select current_hash from chain_tail where id=1`).Scan(&tail)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tail, err
}

func (s *Store) GetEntry(ctx context.Context, id int64) (ledger.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`select `+entryColumns+` from transactions where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return e, err
}

func (s *Store) GetByCorrelationID(ctx context.Context, correlationID string) (ledger.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`select `+entryColumns+` from transactions where correlation_id=$1`, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return e, err
}

func (s *Store) getByExternalRef(ctx context.Context, ref string) (ledger.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`select `+entryColumns+` from transactions where external_ref=$1`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return e, err
}

func (s *Store) ListAccountEntries(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if _, err := uuid.Parse(accountID); err != nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+entryColumns+`
		from transactions
		where sender_account_id=$1 or receiver_account_id=$1
		order by created_at desc, id desc
		limit $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, upd ledger.StatusUpdate) (ledger.Entry, error) {
	if strings.TrimSpace(upd.Status) == "" {
		return ledger.Entry{}, fmt.Errorf("%w: status is required", ledger.ErrValidation)
	}
	e, err := scanEntry(s.db.QueryRowContext(ctx, `
		update transactions
		set status=$2,
			error_note    = case when $3 <> '' then left($3, 100) else error_note end,
			chain_tx_hash = case when $4 <> '' then $4 else chain_tx_hash end,
			gateway_ref   = case when $5 <> '' then $5 else gateway_ref end
		where id=$1 and status not in ($6, $7)
		returning `+entryColumns,
		id, upd.Status, ledger.TruncateNote(upd.Note), upd.ChainTxHash, upd.GatewayRef,
		ledger.StatusConfirmedSuccess, ledger.StatusConfirmedFailed))
	if errors.Is(err, sql.ErrNoRows) {
		// Either the record is gone or it already reached a terminal state.
		if _, gerr := s.GetEntry(ctx, id); gerr == nil {
			return ledger.Entry{}, fmt.Errorf("%w: record %d is terminally confirmed", ledger.ErrValidation, id)
		}
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return e, err
}

// --- batch ingest ---

func (s *Store) IngestDeposit(ctx context.Context, p ledger.DepositParams) (ledger.Entry, bool, error) {
	ref := strings.TrimSpace(p.ExternalRef)
	if ref == "" {
		return ledger.Entry{}, false, fmt.Errorf("%w: external ref is required", ledger.ErrValidation)
	}
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		return ledger.Entry{}, false, fmt.Errorf("%w: email is required", ledger.ErrValidation)
	}

	// Replay fast path before taking any locks.
	if prior, err := s.getByExternalRef(ctx, ref); err == nil {
		return prior, true, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Entry{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := lockTail(ctx, tx)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	// Re-check under the tail lock: a concurrent ingest of the same batch row
	// may have committed while we waited.
	prior, err := scanEntry(tx.QueryRowContext(ctx,
		`select `+entryColumns+` from transactions where external_ref=$1`, ref))
	if err == nil {
		return prior, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, err
	}

	accountID, err := findOrCreateAccountTx(ctx, tx, p.HolderName, email)
	if err != nil {
		return ledger.Entry{}, false, err
	}

	e, err := insertEntry(ctx, tx, ledger.AppendParams{
		ReceiverAccountID: accountID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Type:              p.Type,
		Description:       p.Description,
		Status:            ledger.StatusConfirmedSuccess,
		ExternalRef:       ref,
	}, prev)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if err := advanceTail(ctx, tx, e.CurrentHash); err != nil {
		return ledger.Entry{}, false, err
	}
	if err := creditTx(ctx, tx, accountID, e.Currency, e.Amount); err != nil {
		return ledger.Entry{}, false, err
	}
	for _, serial := range p.BanknoteSerials {
		serial = strings.TrimSpace(serial)
		if serial == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			insert into banknote_serials(serial, account_id)
			values ($1, $2) on conflict (serial) do nothing
		`, serial, accountID); err != nil {
			return ledger.Entry{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, false, err
	}
	return e, false, nil
}

func findOrCreateAccountTx(ctx context.Context, tx *sql.Tx, holder, email string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `select id::text from accounts where email=$1`, email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		insert into accounts(id, holder_name, email, created_at)
		values ($1, $2, $3, $4)
	`, id, strings.TrimSpace(holder), email, time.Now().UTC())
	return id, err
}

func creditTx(ctx context.Context, tx *sql.Tx, accountID, currency string, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		insert into balances(account_id, currency, amount)
		values ($1, $2, $3)
		on conflict (account_id, currency) do update
		set amount = balances.amount + excluded.amount
	`, accountID, currency, amount)
	return err
}

// --- verifier scan ---

func (s *Store) ForEachInChainOrder(ctx context.Context, fn func(ledger.Entry) error) error {
	rows, err := s.db.QueryContext(ctx, `
		select `+entryColumns+`
		from transactions
		order by created_at asc, id asc
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
