// Command ingest books a bank batch file into the ledger: one encrypted
// deposit entry per line. Replayed entries are reported, never double-booked.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/ebnrushd/corporate-ledger/internal/ingest"
	"github.com/ebnrushd/corporate-ledger/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()
	var (
		dsn     = flag.String("dsn", os.Getenv("LEDGER_PG_DSN"), "PostgreSQL DSN")
		file    = flag.String("file", "", "batch file (default stdin)")
		keyHex  = flag.String("key", os.Getenv("LEDGER_INGEST_KEY"), "hex batch key (32 bytes)")
		timeout = flag.Duration("timeout", 10*time.Minute, "batch timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or LEDGER_PG_DSN")
	}
	key, err := ingest.KeyFromHex(*keyHex)
	if err != nil {
		log.Fatalf("batch key: %v", err)
	}

	var in io.Reader = os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatalf("open batch file: %v", err)
		}
		defer f.Close()
		in = f
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	proc, err := ingest.NewProcessor(store, key, nil)
	if err != nil {
		log.Fatalf("processor: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sum, err := proc.ProcessBatch(ctx, in)
	if err != nil {
		log.Fatalf("batch %s: %v", sum.BatchID, err)
	}

	fmt.Printf("batch %s: %d lines, %d booked, %d duplicates, %d invalid, %d failed\n",
		sum.BatchID, sum.Lines, sum.Booked, sum.Duplicates, sum.Invalid, sum.Failed)
	if !sum.Clean() {
		os.Exit(1)
	}
}
