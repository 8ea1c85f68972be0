// Command verify-chain runs the offline integrity pass over the transaction
// chain: every stored hash is recomputed and every link checked. Exit code 1
// means the chain is broken and needs manual investigation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ebnrushd/corporate-ledger/internal/ledger"
	"github.com/ebnrushd/corporate-ledger/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("LEDGER_PG_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 5*time.Minute, "scan timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or LEDGER_PG_DSN")
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := ledger.Verify(ctx, store)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}

	fmt.Printf("checked %d transactions\n", report.Checked)
	for _, issue := range report.Issues {
		fmt.Printf("  transaction %d: %s (%s)\n", issue.ID, issue.Kind, issue.Detail)
	}
	if !report.OK() {
		fmt.Printf("chain integrity FAILED: %d issue(s)\n", len(report.Issues))
		os.Exit(1)
	}
	fmt.Println("chain integrity OK")
}
