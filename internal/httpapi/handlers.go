// Package httpapi is the HTTP shell of the ledger service: routing, input
// validation, middleware, and the mapping from domain errors to status codes.
// All business decisions live in internal/topup and internal/ledger.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ebnrushd/corporate-ledger/internal/audit"
	"github.com/ebnrushd/corporate-ledger/internal/chain"
	"github.com/ebnrushd/corporate-ledger/internal/erp"
	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/obs"
	"github.com/ebnrushd/corporate-ledger/internal/stream"
	"github.com/ebnrushd/corporate-ledger/internal/topup"
)

const serviceName = "corporate-ledger"

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	store   ledger.Store
	topups  *topup.Coordinator
	chain   chain.Caller
	recon   *erp.Reconciler
	stream  *stream.Stream
	version string

	rateBurst  int
	ratePerSec int
}

// New wires the routes. recon and events may be nil; the corresponding
// endpoints answer 503 then.
func New(store ledger.Store, coord *topup.Coordinator, chainc chain.Caller, recon *erp.Reconciler, events *stream.Stream, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		store:      store,
		topups:     coord,
		chain:      chainc,
		recon:      recon,
		stream:     events,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// Top-up saga surface.
	a.mux.HandleFunc("/topup/initiate", a.handleTopUpInitiate)
	a.mux.HandleFunc("/topup/webhook/visa_confirmation", a.handleVisaWebhook)
	a.mux.HandleFunc("/transactions", a.handleTransactions)
	a.mux.HandleFunc("/health", a.handleHealth)

	// Administrative surface.
	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/erp/reconcile", a.handleReconcile)
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	// Probes and metadata.
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// ConfigureRateLimit overrides the default per-IP limiter parameters. Call
// before Handler.
func (a *API) ConfigureRateLimit(burst, perSec int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// handleHealth is the composite dependency probe of the top-up surface: the
// database, the chain node, and the contract/signer bindings.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := a.store.Ping(ctx) == nil
	_, nodeErr := a.chain.BlockNumber(ctx)
	nodeOK := nodeErr == nil
	signerOK := a.chain.SignerLoaded()
	contractOK := a.chain.ContractLoaded()

	status := "ok"
	code := http.StatusOK
	if !dbOK || !nodeOK || !signerOK || !contractOK {
		status = "issues_detected"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":               status,
		"database_connected":   dbOK,
		"chain_node_connected": nodeOK,
		"signer_loaded":        signerOK,
		"contract_loaded":      contractOK,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleLedgerError is the single funnel from domain errors to HTTP codes.
func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidCurrency):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrUnconfigured):
		writeError(w, r, http.StatusServiceUnavailable, "chain operations are not configured")
	case errors.Is(err, ledger.ErrDependency):
		writeError(w, r, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
