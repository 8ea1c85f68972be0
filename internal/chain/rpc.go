package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Config wires a Client to its node and contract.
type Config struct {
	RPCURL       string
	ContractAddr string
	Signer       *Signer
	// HTTPTimeout bounds each individual RPC round trip.
	HTTPTimeout time.Duration
	// ReceiptPoll is the interval between receipt lookups.
	ReceiptPoll time.Duration
	// ReceiptWait caps the receipt wait when the caller's context carries no
	// deadline of its own.
	ReceiptWait time.Duration
}

// Client submits signed contract transactions over JSON-RPC 2.0 and polls for
// their receipts. A Client with a missing signer or contract address still
// answers health probes but refuses contract calls with ErrNotConfigured.
type Client struct {
	cfg    Config
	httpc  *http.Client
	nextID atomic.Int64
}

// NewClient builds a Client. It never fails: an incomplete configuration
// produces a client whose contract calls refuse with ErrNotConfigured, so the
// service can come up, report unhealthy, and be fixed without crash-looping.
func NewClient(cfg Config) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 500 * time.Millisecond
	}
	if cfg.ReceiptWait <= 0 {
		cfg.ReceiptWait = 30 * time.Second
	}
	cfg.ContractAddr = strings.TrimSpace(cfg.ContractAddr)
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (c *Client) SignerLoaded() bool   { return c.cfg.Signer != nil }
func (c *Client) ContractLoaded() bool { return c.cfg.ContractAddr != "" }

func (c *Client) SignerAddress() string {
	if c.cfg.Signer == nil {
		return ""
	}
	return c.cfg.Signer.Address()
}

func (c *Client) InitiateTopUp(ctx context.Context, topUpID, userAddress string, amountMinor int64, cardRef string) (string, error) {
	return c.submit(ctx, "initiateTopUp", []any{topUpID, userAddress, amountMinor, cardRef})
}

func (c *Client) ConfirmTopUp(ctx context.Context, topUpID string, success bool, message string) (string, error) {
	return c.submit(ctx, "confirmTopUp", []any{topUpID, success, message})
}

// BlockNumber asks the node for its latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "chain_blockNumber", []any{})
	if err != nil {
		return 0, err
	}
	var height uint64
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return height, nil
}

// txEnvelope is the canonical call description the backend signs. Field order
// is fixed by the struct so both sides marshal identical bytes.
type txEnvelope struct {
	Contract string `json:"contract"`
	Method   string `json:"method"`
	Args     []any  `json:"args"`
	From     string `json:"from"`
	Nonce    uint64 `json:"nonce"`
	IssuedAt string `json:"issued_at"`
}

type signedTx struct {
	Envelope  txEnvelope `json:"envelope"`
	PublicKey string     `json:"public_key"`
	Signature string     `json:"signature"`
}

type receipt struct {
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"`
	BlockNumber uint64 `json:"block_number"`
}

// submit signs the call, sends it, then waits for its receipt.
func (c *Client) submit(ctx context.Context, method string, args []any) (string, error) {
	if !c.SignerLoaded() || !c.ContractLoaded() {
		return "", ErrNotConfigured
	}
	env := txEnvelope{
		Contract: c.cfg.ContractAddr,
		Method:   method,
		Args:     args,
		From:     c.cfg.Signer.Address(),
		Nonce:    c.cfg.Signer.NextNonce(),
		IssuedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	tx := signedTx{
		Envelope:  env,
		PublicKey: c.cfg.Signer.PublicKeyHex(),
		Signature: c.cfg.Signer.Sign(payload),
	}

	raw, err := c.call(ctx, "chain_sendTransaction", []any{tx})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", fmt.Errorf("decode tx hash: %w", err)
	}
	if err := c.awaitReceipt(ctx, txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// awaitReceipt polls chain_getTransactionReceipt until the transaction is
// mined or the deadline passes. A reverted receipt is an error.
func (c *Client) awaitReceipt(ctx context.Context, txHash string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ReceiptWait)
		defer cancel()
	}
	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		raw, err := c.call(ctx, "chain_getTransactionReceipt", []any{txHash})
		if err != nil {
			return err
		}
		if !bytes.Equal(raw, []byte("null")) {
			var rec receipt
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode receipt: %w", err)
			}
			if rec.Status != "ok" {
				return fmt.Errorf("transaction %s %s", txHash, rec.Status)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("receipt for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.cfg.RPCURL == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain node: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chain node: unexpected status %s", resp.Status)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("chain node: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if out.Result == nil {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}

var _ Caller = (*Client)(nil)
