package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/amaci/api"
	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/prover"
	"github.com/vocdoni/amaci/service"
	"github.com/vocdoni/amaci/storage"
)

func main() {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting amaci-coordinator", "version", Version)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage database
	log.Infow("initializing storage", "datadir", cfg.Datadir, "type", db.TypePebble)
	database, err := metadb.New(db.TypePebble, cfg.Datadir)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	stg := storage.New(database)
	defer stg.Close()

	// The prover is optional; without it batches are still processed and
	// committed, just not proven.
	var prv *prover.Prover
	if cfg.Prove {
		prv = prover.New()
	}

	// Start the coordinator service
	coordinator, err := service.New(stg, prv, cfg.Batch.Interval)
	if err != nil {
		log.Fatalf("failed to create coordinator: %v", err)
	}
	if err := coordinator.Start(ctx); err != nil {
		log.Fatalf("failed to start coordinator: %v", err)
	}
	defer func() {
		if err := coordinator.Stop(); err != nil {
			log.Warnw("failed to stop coordinator", "error", err.Error())
		}
	}()

	// Start the API server
	if _, err := api.New(&api.APIConfig{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		Storage:     stg,
		Coordinator: coordinator,
	}); err != nil {
		log.Fatalf("failed to start API: %v", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}
