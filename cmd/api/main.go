package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"afripay.org/internal/access"
	"afripay.org/internal/audit"
	"afripay.org/internal/config"
	"afripay.org/internal/httpapi"
	"afripay.org/internal/obs"
	"afripay.org/internal/permission"
	"afripay.org/internal/session"
	"afripay.org/internal/store/pg"
	"afripay.org/internal/user"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		db        *sql.DB
		userStore user.Store
		permStore permission.Store
		auditSt   audit.Store
		accessSt  access.Store
		sessStore session.Store
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		db = store.DB()
		userStore = store.Users()
		permStore = store.Permissions()
		auditSt = store.Audit()
		accessSt = store.Access()
		sessStore = store.Sessions()
	} else {
		// In-memory backends for local runs without a database.
		log.Println("AFRIPAY_PG_DSN not set, using in-memory stores")
		userStore = user.NewInMemory()
		permStore = permission.NewInMemory()
		auditSt = audit.NewInMemory()
		accessSt = access.NewInMemory()
		sessStore = session.NewInMemory()
	}

	ledger := audit.NewLedger(auditSt)
	registry := permission.NewRegistry(permStore, ledger)
	workflow := access.NewWorkflow(accessSt, userStore, registry, ledger)

	manager, err := session.NewManager(sessStore, userStore, workflow, session.NewInMemoryTTL(), ledger, cfg.JWTSecret,
		session.WithIssuer(cfg.Issuer),
		session.WithAccessTTL(cfg.AccessTokenTTL),
		session.WithRefreshTTL(cfg.RefreshTokenTTL),
		session.WithOTPTTL(cfg.OTPTTL),
	)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, manager, registry, workflow, ledger)

	handler := httpapi.Logging(
		httpapi.SecurityHeaders(
			httpapi.MaxBodyBytes(
				httpapi.RateLimit(api.Handler(), 20, 10),
				1<<20)))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Background sweep of overdue pending requests.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweeper := access.NewSweeper(workflow, cfg.SweepInterval)
	go sweeper.Run(sweepCtx)

	log.Printf("Starting afripay-identity %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
