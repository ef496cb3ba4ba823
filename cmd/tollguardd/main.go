package main

import (
	"context"
	"log"

	"tollguard/internal/config"
	"tollguard/internal/infra/db"
	httpinfra "tollguard/internal/infra/http"
	"tollguard/internal/policy"
	"tollguard/internal/usecase"
)

func main() {
	cfg := config.FromEnv()

	source, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("failed to load trust policy: %v", err)
	}

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	trustRepo := db.NewTrustRepository(store.DB)
	ledger := &usecase.TrustLedger{
		Readers: db.NewReaderRepository(store.DB),
		Trust:   trustRepo,
		Policy:  source,
	}
	reconciler := &usecase.Reconciler{
		Trust:      trustRepo,
		Nonces:     db.NewNonceRepository(store.DB),
		Suspicions: db.NewSuspicionRepository(store.DB),
		Ledger:     ledger,
		Policy:     source,
		Reloader:   source,
		Interval:   cfg.ReconcileInterval(),
	}
	reconciler.Start(context.Background())
	defer reconciler.Stop()

	srv, err := httpinfra.NewServer(cfg, store, source)
	if err != nil {
		log.Fatalf("failed to build server: %v", err)
	}
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
