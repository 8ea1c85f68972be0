package httpapi

import (
	"net/http"
	"strings"

	"github.com/ebnrushd/corporate-ledger/internal/ledger"
)

type createAccountRequest struct {
	HolderName   string `json:"holder_name"`
	Email        string `json:"email"`
	ChainAddress string `json:"chain_address"`
}

type reconcileRequest struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAccount(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/balance") {
		id := strings.TrimSuffix(path, "/balance")
		id = strings.TrimSuffix(id, "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "account not found")
			return
		}
		a.getBalance(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getAccount(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.HolderName) == "" {
		writeError(w, r, http.StatusBadRequest, "holder_name is required")
		return
	}

	acc, err := a.store.CreateAccount(r.Context(), ledger.NewAccount{
		HolderName:   req.HolderName,
		Email:        req.Email,
		ChainAddress: req.ChainAddress,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "account.created", map[string]any{
		"account_id":  acc.ID,
		"holder_name": acc.HolderName,
	})

	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	acc, err := a.store.GetAccount(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request, id string) {
	currency := strings.TrimSpace(r.URL.Query().Get("currency"))
	if currency == "" {
		writeError(w, r, http.StatusBadRequest, "currency query parameter is required")
		return
	}
	mon, err := a.store.GetBalance(r.Context(), id, currency)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mon)
}

// handleReconcile runs one ERP reconciliation pass for an account. A balance
// mismatch is reported in the body, not as an HTTP error.
func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.recon == nil {
		writeError(w, r, http.StatusServiceUnavailable, "reconciliation disabled")
		return
	}
	var req reconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AccountID) == "" || strings.TrimSpace(req.Currency) == "" {
		writeError(w, r, http.StatusBadRequest, "account_id and currency are required")
		return
	}

	report, err := a.recon.Reconcile(r.Context(), req.AccountID, req.Currency)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "erp.reconciled", map[string]any{
		"account_id": report.AccountID,
		"currency":   report.Currency,
		"in_sync":    report.InSync,
		"delta":      report.Delta,
	})
	writeJSON(w, http.StatusOK, report)
}
