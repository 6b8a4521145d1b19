package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yksanjo/agent-identity-hub/internal/attestation"
	"github.com/yksanjo/agent-identity-hub/internal/capability"
	"github.com/yksanjo/agent-identity-hub/internal/config"
	"github.com/yksanjo/agent-identity-hub/internal/crypto"
	"github.com/yksanjo/agent-identity-hub/internal/identity"
	"github.com/yksanjo/agent-identity-hub/internal/server"
	"github.com/yksanjo/agent-identity-hub/internal/storage"
	"github.com/yksanjo/agent-identity-hub/internal/trust"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.AdminSecret == "" {
		log.Fatal("HUB_ADMIN_SECRET environment variable (or admin_secret config key) is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}

	db, err := storage.NewDB(cfg.DataDir + "/hub.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	signer, err := crypto.LoadOrGenerateSigner(cfg.DataDir + "/hub.key")
	if err != nil {
		log.Fatalf("Failed to load hub key: %v", err)
	}
	log.Printf("[hub] signing key %s", hex.EncodeToString(signer.PublicKey()))

	dids := identity.NewService(db, nil)
	caps := capability.NewIssuer(db, signer)
	atts := attestation.NewService(db, signer, "did:agent:hub#key-1")
	engine := trust.NewEngine(db, cfg.Trust)
	detector := trust.NewDetector(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(db, cfg.AdminSecret, dids, caps, atts, engine, detector)
	srv.StartWorkers(ctx,
		time.Duration(cfg.SweepIntervalMinutes)*time.Minute,
		float64(cfg.SweepRatePerSecond))

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	fmt.Printf("Identity hub running on http://localhost:%s\n", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, srv))
}
