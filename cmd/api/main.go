package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ebnrushd/corporate-ledger/internal/chain"
	"github.com/ebnrushd/corporate-ledger/internal/erp"
	"github.com/ebnrushd/corporate-ledger/internal/gateway"
	"github.com/ebnrushd/corporate-ledger/internal/httpapi"
	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/obs"
	"github.com/ebnrushd/corporate-ledger/internal/store/pg"
	"github.com/ebnrushd/corporate-ledger/internal/stream"
	"github.com/ebnrushd/corporate-ledger/internal/topup"
)

var version = "0.3.1"

func main() {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()
	obs.Init()

	// Ledger store: Postgres when a DSN is configured, in-memory otherwise
	// (demo mode; nothing survives a restart).
	var store ledger.Store
	var closeStore func() error
	if dsn := os.Getenv("LEDGER_PG_DSN"); dsn != "" {
		pgs, err := pg.Open(dsn)
		if err != nil {
			obs.Critical("open postgres store", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		store = pgs
		closeStore = pgs.Close
	} else {
		obs.Event("warn", "LEDGER_PG_DSN not set; using in-memory store", nil)
		store = ledger.NewInMemory()
	}

	chainc := buildChainCaller()
	gw := buildGateway()
	events := stream.New()
	coord := topup.NewCoordinator(store, chainc, gw, events)
	recon := erp.NewReconciler(store, erp.NewSim())

	// Outbox worker: finishes chain confirmations the webhook could not.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := topup.NewWorker(store, chainc, events, durationEnv("LEDGER_CONFIRM_INTERVAL", 5*time.Second))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	api := httpapi.New(store, coord, chainc, recon, events, version)
	api.ConfigureRateLimit(intEnv("LEDGER_RATE_BURST"), intEnv("LEDGER_RATE_PER_SEC"))

	srv := &http.Server{
		Addr:              getenv("LEDGER_HTTP_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Event("info", "starting corporate-ledger api", map[string]any{
		"version": version,
		"addr":    srv.Addr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Critical("listen", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	obs.Event("info", "shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	stopWorker()
	select {
	case <-workerDone:
	case <-ctx.Done():
	}

	if closeStore != nil {
		_ = closeStore()
	}
	obs.Event("info", "stopped", nil)
}

// buildChainCaller wires the contract client. LEDGER_CHAIN_MODE=sim selects
// the deterministic in-process chain; otherwise a JSON-RPC client is built,
// possibly unconfigured (it then refuses contract calls and /health reports
// the missing pieces instead of the process crash-looping).
func buildChainCaller() chain.Caller {
	if getenv("LEDGER_CHAIN_MODE", "rpc") == "sim" {
		obs.Event("warn", "chain simulator active; no real contract is driven", nil)
		return chain.NewSim()
	}

	var signer *chain.Signer
	if seed := os.Getenv("LEDGER_CHAIN_KEY"); seed != "" {
		s, err := chain.NewSignerFromHex(seed)
		if err != nil {
			obs.Critical("invalid LEDGER_CHAIN_KEY; chain calls will be refused", map[string]any{
				"error": err.Error(),
			})
		} else {
			signer = s
		}
	} else {
		obs.Critical("LEDGER_CHAIN_KEY not set; chain calls will be refused", nil)
	}
	contractAddr := os.Getenv("LEDGER_CONTRACT_ADDR")
	if contractAddr == "" {
		obs.Critical("LEDGER_CONTRACT_ADDR not set; chain calls will be refused", nil)
	}

	return chain.NewClient(chain.Config{
		RPCURL:       getenv("LEDGER_CHAIN_RPC_URL", "http://localhost:8545"),
		ContractAddr: contractAddr,
		Signer:       signer,
		HTTPTimeout:  10 * time.Second,
	})
}

func buildGateway() gateway.Client {
	if base := os.Getenv("LEDGER_GATEWAY_URL"); base != "" {
		return gateway.NewHTTPClient(base, os.Getenv("LEDGER_GATEWAY_API_KEY"), 10*time.Second)
	}
	obs.Event("warn", "LEDGER_GATEWAY_URL not set; using gateway simulator", nil)
	return gateway.NewSim()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return fallback
}
