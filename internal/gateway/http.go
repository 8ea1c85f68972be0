package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPClient talks to a real processor endpoint. Amounts go over the wire as
// two-decimal strings; authentication is a bearer API key.
type HTTPClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewHTTPClient builds a client for the processor at baseURL.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type topUpRequest struct {
	TopUpID      string `json:"top_up_id"`
	CardLastFour string `json:"card_last_four"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
}

func (c *HTTPClient) RequestTopUp(ctx context.Context, topUpID, cardLastFour string, amountMinor int64, currency string) (Result, error) {
	payload := topUpRequest{
		TopUpID:      topUpID,
		CardLastFour: cardLastFour,
		Amount:       decimal.New(amountMinor, -2).StringFixed(2),
		Currency:     currency,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/card/topup", body)
}

func (c *HTTPClient) GetTopUpStatus(ctx context.Context, ref string) (Result, error) {
	return c.do(ctx, http.MethodGet, c.baseURL+"/card/topup/"+url.PathEscape(ref), nil)
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body []byte) (Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Result{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("gateway: unexpected status %s", resp.Status)
	}
	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("gateway: decode response: %w", err)
	}
	if out.Status == "" {
		return Result{}, fmt.Errorf("gateway: response carries no status")
	}
	return out, nil
}

var _ Client = (*HTTPClient)(nil)
