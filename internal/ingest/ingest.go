// Package ingest books encrypted bank batch deposits into the ledger. A batch
// is a text file with one token per line; each token is
// base64(24-byte nonce || secretbox ciphertext) under a shared 32-byte key,
// and the plaintext is a single JSON deposit entry. Booking is idempotent on
// the entry's external transaction id.
package ingest

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/ebnrushd/corporate-ledger/internal/audit"
	"github.com/ebnrushd/corporate-ledger/internal/ids"
	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/obs"
	"github.com/ebnrushd/corporate-ledger/internal/stream"
)

const (
	// KeySize is the secretbox key length; the env carries it hex-encoded.
	KeySize = 32

	nonceSize = 24

	// maxTokenBytes bounds one batch line. Entries carry at most a few
	// banknote serials, so anything near this size is garbage input.
	maxTokenBytes = 1 << 20
)

// Entry is the plaintext schema of one batch line. Amount is a decimal string
// or JSON number in major units ("100.50").
type Entry struct {
	ExternalID      string      `json:"transaction_id_external"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	Timestamp       string      `json:"timestamp"`
	HolderName      string      `json:"account_holder_name"`
	Email           string      `json:"email"`
	Description     string      `json:"description,omitempty"`
	Type            string      `json:"transaction_type,omitempty"`
	BanknoteSerials []string    `json:"banknote_serials,omitempty"`
}

// Processor decrypts and books batch entries.
type Processor struct {
	store  ledger.Store
	events *stream.Stream
	key    [KeySize]byte
}

// NewProcessor wires a processor. events may be nil.
func NewProcessor(store ledger.Store, key []byte, events *stream.Stream) (*Processor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("ingest key must be %d bytes, have %d", KeySize, len(key))
	}
	p := &Processor{store: store, events: events}
	copy(p.key[:], key)
	return p, nil
}

// KeyFromHex decodes the hex form the environment carries.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("ingest key is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("ingest key must be %d bytes, have %d", KeySize, len(key))
	}
	return key, nil
}

// Seal produces one batch token from a plaintext entry. The bank side of the
// pipe runs this; tests and fixtures use it to build inputs.
func Seal(plaintext, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("ingest key must be %d bytes, have %d", KeySize, len(key))
	}
	var k [KeySize]byte
	copy(k[:], key)
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("draw nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &k)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Outcome reports how one token was handled.
type Outcome struct {
	Entry     ledger.Entry
	Duplicate bool
}

// ProcessEntry decrypts, validates and books a single token. Replays of an
// already-booked external id return Duplicate without touching the ledger.
func (p *Processor) ProcessEntry(ctx context.Context, token string) (Outcome, error) {
	entry, err := p.decode(token)
	if err != nil {
		return Outcome{}, err
	}
	if err := entry.normalize(); err != nil {
		return Outcome{}, err
	}
	minor, err := ledger.ParseAmount(entry.Amount.String())
	if err != nil {
		return Outcome{}, err
	}
	currency, err := ledger.NormalizeCurrency(entry.Currency)
	if err != nil {
		return Outcome{}, err
	}

	booked, dup, err := p.store.IngestDeposit(ctx, ledger.DepositParams{
		ExternalRef:     entry.ExternalID,
		HolderName:      entry.HolderName,
		Email:           entry.Email,
		Amount:          minor,
		Currency:        currency,
		Type:            entry.Type,
		Description:     entry.Description,
		BanknoteSerials: entry.BanknoteSerials,
	})
	if err != nil {
		return Outcome{}, err
	}
	if dup {
		obs.IncDepositIngested("duplicate")
		return Outcome{Entry: booked, Duplicate: true}, nil
	}

	obs.IncDepositIngested("booked")
	_ = audit.LogEvent(ctx, "deposit.ingested", map[string]any{
		"transaction_id": booked.ID,
		"external_ref":   booked.ExternalRef,
		"account_id":     booked.ReceiverAccountID,
		"amount_minor":   booked.Amount,
		"currency":       booked.Currency,
	})
	if p.events != nil {
		p.events.Publish(stream.Event{
			Type:          stream.EventDepositIngested,
			CorrelationID: booked.ExternalRef,
			AccountID:     booked.ReceiverAccountID,
			Amount:        booked.Amount,
			Currency:      booked.Currency,
			Status:        booked.Status,
		})
	}
	return Outcome{Entry: booked}, nil
}

func (p *Processor) decode(token string) (Entry, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: token is not base64: %v", ledger.ErrValidation, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return Entry{}, fmt.Errorf("%w: token too short", ledger.ErrValidation)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &p.key)
	if !ok {
		return Entry{}, fmt.Errorf("%w: token failed decryption", ledger.ErrValidation)
	}
	var e Entry
	if err := json.Unmarshal(plain, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: entry is not valid JSON: %v", ledger.ErrValidation, err)
	}
	return e, nil
}

// normalize trims, checks required fields and applies the batch defaults.
func (e *Entry) normalize() error {
	e.ExternalID = strings.TrimSpace(e.ExternalID)
	e.Currency = strings.TrimSpace(e.Currency)
	e.Timestamp = strings.TrimSpace(e.Timestamp)
	e.HolderName = strings.TrimSpace(e.HolderName)
	e.Email = strings.TrimSpace(e.Email)
	e.Type = strings.TrimSpace(e.Type)
	e.Description = strings.TrimSpace(e.Description)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"transaction_id_external", e.ExternalID},
		{"amount", e.Amount.String()},
		{"currency", e.Currency},
		{"timestamp", e.Timestamp},
		{"account_holder_name", e.HolderName},
		{"email", e.Email},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ledger.ErrValidation, strings.Join(missing, ", "))
	}

	if e.Type == "" {
		e.Type = ledger.TypeDeposit
	}
	if e.Description == "" {
		e.Description = fmt.Sprintf("Transaction %s processed on %s", e.ExternalID, e.Timestamp)
	}
	return nil
}

// Summary totals one batch run.
type Summary struct {
	BatchID    string `json:"batch_id"`
	Lines      int    `json:"lines"`
	Booked     int    `json:"booked"`
	Duplicates int    `json:"duplicates"`
	Invalid    int    `json:"invalid"`
	Failed     int    `json:"failed"`
}

// Clean reports whether every line was booked or replayed.
func (s Summary) Clean() bool { return s.Invalid == 0 && s.Failed == 0 }

// ProcessBatch reads one token per line, books each, and logs per-line
// outcomes. Blank lines are skipped. A bad line never stops the batch; store
// or read failures of the batch itself do.
func (p *Processor) ProcessBatch(ctx context.Context, r io.Reader) (Summary, error) {
	sum := Summary{BatchID: ids.New()}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxTokenBytes)

	line := 0
	for sc.Scan() {
		line++
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Lines++

		out, err := p.ProcessEntry(ctx, token)
		switch {
		case err == nil && out.Duplicate:
			sum.Duplicates++
			obs.Event("info", "deposit entry replayed", map[string]any{
				"batch_id":     sum.BatchID,
				"line":         line,
				"external_ref": out.Entry.ExternalRef,
			})
		case err == nil:
			sum.Booked++
			obs.Event("info", "deposit booked", map[string]any{
				"batch_id":       sum.BatchID,
				"line":           line,
				"transaction_id": out.Entry.ID,
				"external_ref":   out.Entry.ExternalRef,
				"amount_minor":   out.Entry.Amount,
				"currency":       out.Entry.Currency,
			})
		case errors.Is(err, ledger.ErrValidation) || errors.Is(err, ledger.ErrInvalidAmount) || errors.Is(err, ledger.ErrInvalidCurrency):
			sum.Invalid++
			obs.IncDepositIngested("invalid")
			obs.Error("deposit entry rejected", map[string]any{
				"batch_id": sum.BatchID,
				"line":     line,
				"error":    err.Error(),
			})
		default:
			sum.Failed++
			obs.IncDepositIngested("failed")
			obs.Error("deposit entry failed", map[string]any{
				"batch_id": sum.BatchID,
				"line":     line,
				"error":    err.Error(),
			})
		}
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("read batch: %w", err)
	}

	obs.Event("info", "batch complete", map[string]any{
		"batch_id":   sum.BatchID,
		"lines":      sum.Lines,
		"booked":     sum.Booked,
		"duplicates": sum.Duplicates,
		"invalid":    sum.Invalid,
		"failed":     sum.Failed,
	})
	return sum, nil
}
