// Command deploy provisions a new escrow application on the configured store
// and funds its account with the minimum balance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/example/ride-escrow/internal/config"
	"github.com/example/ride-escrow/internal/escrow"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/logging"
	"github.com/example/ride-escrow/internal/models"
	"github.com/example/ride-escrow/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	deployer := flag.String("deployer", envOr("DEPLOYER_ADDRESS", "seed:deployer"), "address (or seed:<label>) that creates and funds the app")
	funding := flag.Uint64("funding", models.MicroUnitsPerUnit, "micro-units paid into the escrow account at creation")
	flag.Parse()

	cfg, err := config.LoadStoreConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Backend == "memory" {
		log.Printf("warning: memory store selected, the deployment will not outlive this process")
	}
	creator, err := models.ResolveAddress(*deployer)
	if err != nil {
		log.Fatalf("deployer: %v", err)
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	l := ledger.New(store, logging.NewLogger("escrow-deploy", "warn"))
	bal, err := l.Balance(ctx, creator)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	if bal < *funding {
		log.Fatalf("deployer %s holds %d micro-units, needs %d", creator, bal, *funding)
	}

	e, err := escrow.Provision(ctx, l, creator, *funding)
	if err != nil {
		log.Fatalf("deploy: %v", err)
	}
	fmt.Printf("App ID: %d\n", e.AppID())
	fmt.Printf("Escrow address: %s\n", e.EscrowAddress())
	fmt.Printf("Set APP_ID=%d for cmd/server\n", e.AppID())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
