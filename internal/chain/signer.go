package chain

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// Signer holds the backend's ed25519 key and hands out strictly increasing
// transaction nonces. One signer instance per process; nonce allocation is
// serialized so concurrent saga calls never reuse a nonce.
type Signer struct {
	mu    sync.Mutex
	key   ed25519.PrivateKey
	nonce uint64
	addr  string
}

// NewSignerFromHex builds a Signer from a hex-encoded 32-byte ed25519 seed.
func NewSignerFromHex(seedHex string) (*Signer, error) {
	seedHex = strings.TrimSpace(strings.TrimPrefix(seedHex, "0x"))
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Signer{key: key, addr: deriveAddress(key.Public().(ed25519.PublicKey))}, nil
}

// deriveAddress renders a public key as a 20-byte hex address.
func deriveAddress(pub ed25519.PublicKey) string {
	return "0x" + hex.EncodeToString(pub[:20])
}

// Address returns the signer's derived address.
func (s *Signer) Address() string { return s.addr }

// PublicKeyHex returns the hex-encoded public key shipped with each
// transaction so the node can verify the signature.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Sign returns the hex-encoded ed25519 signature over payload.
func (s *Signer) Sign(payload []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.key, payload))
}

// NextNonce allocates the next transaction nonce.
func (s *Signer) NextNonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce++
	return s.nonce
}
