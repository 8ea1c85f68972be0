package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ebnrushd/corporate-ledger/internal/ledger"
)

type initiateRequest struct {
	UserID       string      `json:"user_id"`
	Amount       json.Number `json:"amount"`
	CardLastFour string      `json:"visa_card_last_four"`
}

type initiateResponse struct {
	Message              string `json:"message"`
	InternalTxID         int64  `json:"internal_transaction_id"`
	SmartContractTopUpID string `json:"smart_contract_top_up_id"`
	SmartContractTxHash  string `json:"smart_contract_tx_hash"`
	VisaAPIStatus        string `json:"visa_api_status"`
	VisaTransactionID    string `json:"visa_transaction_id,omitempty"`
}

type webhookRequest struct {
	TopUpID      string `json:"topUpId"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	ProcessorRef string `json:"processor_transaction_id"`
}

type webhookResponse struct {
	Message           string `json:"message"`
	InternalTxID      int64  `json:"internal_transaction_id"`
	ConfirmTxHash     string `json:"smart_contract_confirm_tx_hash,omitempty"`
	FinalLedgerStatus string `json:"final_ledger_status"`
}

type listTransactionsResponse struct {
	UserID       string         `json:"user_id"`
	Count        int            `json:"count"`
	Transactions []ledger.Entry `json:"transactions"`
}

// handleTopUpInitiate accepts a card top-up request and runs the forward leg
// of the saga. 202 means the request was durably recorded and handed to the
// external systems, not that the money arrived.
func (a *API) handleTopUpInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req initiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Amount == "" {
		writeError(w, r, http.StatusBadRequest, "amount is required")
		return
	}

	res, err := a.topups.Initiate(r.Context(), req.UserID, req.Amount.String(), req.CardLastFour)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, initiateResponse{
		Message:              "Top-up initiated and pending confirmation.",
		InternalTxID:         res.Entry.ID,
		SmartContractTopUpID: res.Entry.CorrelationID,
		SmartContractTxHash:  res.ChainTxHash,
		VisaAPIStatus:        string(res.GatewayStatus),
		VisaTransactionID:    res.GatewayRef,
	})
}

// handleVisaWebhook reconciles the gateway's asynchronous outcome. Replayed
// deliveries answer 200 with the stored result so the gateway stops retrying.
func (a *API) handleVisaWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req webhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.TopUpID) == "" || strings.TrimSpace(req.Status) == "" {
		writeError(w, r, http.StatusBadRequest, "topUpId and status are required")
		return
	}

	res, err := a.topups.Confirm(r.Context(), req.TopUpID, req.Status, req.Message, req.ProcessorRef)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	msg := "Top-up confirmation processed."
	if res.Replayed {
		msg = "Top-up already processed."
	}
	writeJSON(w, http.StatusOK, webhookResponse{
		Message:           msg,
		InternalTxID:      res.Entry.ID,
		ConfirmTxHash:     res.ConfirmTxHash,
		FinalLedgerStatus: res.FinalStatus,
	})
}

// handleTransactions lists the 100 most recent records touching an account,
// newest first.
func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	if _, err := uuid.Parse(userID); err != nil {
		writeError(w, r, http.StatusBadRequest, "user_id must be a UUID")
		return
	}

	if _, err := a.store.GetAccount(r.Context(), userID); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	entries, err := a.store.ListAccountEntries(r.Context(), userID, 100)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{
		UserID:       userID,
		Count:        len(entries),
		Transactions: entries,
	})
}
