package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"afripay.org/internal/access"
	"afripay.org/internal/audit"
	"afripay.org/internal/config"
	"afripay.org/internal/obs"
	"afripay.org/internal/permission"
	"afripay.org/internal/store/pg"
)

// Standalone expiry sweeper, for deployments that prefer a single
// writer over per-instance ticker loops in the API.
func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("AFRIPAY_PG_DSN is required")
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ledger := audit.NewLedger(store.Audit())
	registry := permission.NewRegistry(store.Permissions(), ledger)
	workflow := access.NewWorkflow(store.Access(), store.Users(), registry, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	log.Printf("Starting sweeper, interval %s", cfg.SweepInterval)
	access.NewSweeper(workflow, cfg.SweepInterval).Run(ctx)
	log.Println("Stopped")
}
