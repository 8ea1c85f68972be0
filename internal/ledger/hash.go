package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// canonicalTimeLayout renders a UTC instant as ISO-8601 with microsecond
// precision and an explicit numeric offset ("2025-06-01T10:00:00.000001+00:00").
const canonicalTimeLayout = "2006-01-02T15:04:05.000000-07:00"

// CanonicalTimestamp formats t for hashing. Timestamps must already be
// truncated to microseconds so the stored column round-trips bit-for-bit.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(canonicalTimeLayout)
}

// AppendTime returns the current UTC instant truncated to microsecond
// precision, the resolution of the stored created_at column.
func AppendTime() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CanonicalString builds the hash preimage of a record: the canonical field
// names in lexicographic order, each rendered as "name:value", joined with
// "|". Absent optionals render as empty strings, the amount is fixed to two
// decimals, and the status is the append-time snapshot (hash_status).
func CanonicalString(e Entry) string {
	pairs := [...][2]string{
		{"amount", FormatAmount(e.Amount)},
		{"created_at", CanonicalTimestamp(e.CreatedAt)},
		{"currency", e.Currency},
		{"description", e.Description},
		{"previous_transaction_hash", e.PreviousHash},
		{"receiver_account_id", e.ReceiverAccountID},
		{"sender_account_id", e.SenderAccountID},
		{"status", e.HashStatus},
		{"transaction_type", e.Type},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p[0]+":"+p[1])
	}
	return strings.Join(parts, "|")
}

// ComputeHash returns the lowercase hex SHA-256 of the record's canonical
// string. The entry must carry its previous_hash and hash_status.
func ComputeHash(e Entry) string {
	sum := sha256.Sum256([]byte(CanonicalString(e)))
	return hex.EncodeToString(sum[:])
}
