// Command smoke-topup drives one full top-up saga against a running instance:
// create an account, initiate with a pending card, deliver the webhook, check
// the balance, replay the webhook and check nothing moved twice.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	log.SetFlags(0)
	base := os.Getenv("LEDGER_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}

	var acc struct {
		ID string `json:"id"`
	}
	post(client, base+"/v1/accounts", map[string]any{
		"holder_name": "Smoke Test Holder",
	}, http.StatusCreated, &acc)

	var initiated struct {
		InternalTxID int64  `json:"internal_transaction_id"`
		TopUpID      string `json:"smart_contract_top_up_id"`
		ChainTxHash  string `json:"smart_contract_tx_hash"`
		VisaStatus   string `json:"visa_api_status"`
	}
	post(client, base+"/topup/initiate", map[string]any{
		"user_id":             acc.ID,
		"amount":              20.00,
		"visa_card_last_four": "4242",
	}, http.StatusAccepted, &initiated)
	if initiated.TopUpID == "" || initiated.ChainTxHash == "" {
		log.Fatalf("initiate returned incomplete tracking record: %+v", initiated)
	}
	if initiated.VisaStatus != "PENDING" {
		log.Fatalf("visa_api_status = %q, want PENDING", initiated.VisaStatus)
	}

	webhook := map[string]any{
		"topUpId":                  initiated.TopUpID,
		"status":                   "SUCCESS",
		"message":                  "Smoke settlement.",
		"processor_transaction_id": "smoke-proc-1",
	}
	var confirmed struct {
		FinalStatus string `json:"final_ledger_status"`
	}
	post(client, base+"/topup/webhook/visa_confirmation", webhook, http.StatusOK, &confirmed)
	if confirmed.FinalStatus != "CONFIRMED_SUCCESS" {
		log.Fatalf("final status = %q, want CONFIRMED_SUCCESS", confirmed.FinalStatus)
	}

	if bal := balance(client, base, acc.ID); bal != 2000 {
		log.Fatalf("balance = %d minor units, want 2000", bal)
	}

	// Replay must be a no-op.
	post(client, base+"/topup/webhook/visa_confirmation", webhook, http.StatusOK, &confirmed)
	if confirmed.FinalStatus != "CONFIRMED_SUCCESS" {
		log.Fatalf("replayed final status = %q", confirmed.FinalStatus)
	}
	if bal := balance(client, base, acc.ID); bal != 2000 {
		log.Fatalf("balance after replay = %d minor units, want 2000", bal)
	}

	var listing struct {
		Count int `json:"count"`
	}
	get(client, base+"/transactions?user_id="+url.QueryEscape(acc.ID), http.StatusOK, &listing)
	if listing.Count != 1 {
		log.Fatalf("transaction count = %d, want 1", listing.Count)
	}

	fmt.Printf("top-up smoke test passed: account=%s transaction=%d\n", acc.ID, initiated.InternalTxID)
}

func balance(client *http.Client, base, accountID string) int64 {
	var bal struct {
		Amount int64 `json:"amount"`
	}
	get(client, base+"/v1/accounts/"+accountID+"/balance?currency=USD", http.StatusOK, &bal)
	return bal.Amount
}

func post(client *http.Client, target string, body map[string]any, wantStatus int, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", target, err)
	}
	resp, err := client.Post(target, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST %s: %v", target, err)
	}
	readInto(resp, target, wantStatus, out)
}

func get(client *http.Client, target string, wantStatus int, out any) {
	resp, err := client.Get(target)
	if err != nil {
		log.Fatalf("GET %s: %v", target, err)
	}
	readInto(resp, target, wantStatus, out)
}

func readInto(resp *http.Response, target string, wantStatus int, out any) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read %s: %v", target, err)
	}
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s -> %d (want %d): %s", target, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("decode %s: %v", target, err)
		}
	}
}
