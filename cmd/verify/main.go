// Command verify prints the state of a deployed escrow application.
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
	"github.com/example/ride-escrow/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file: %v", err)
	}
	appID := flag.Uint64("app-id", 0, "application to inspect")
	rideID := flag.Uint64("ride", 0, "also print this ride")
	flag.Parse()
	if *appID == 0 {
		log.Fatal("-app-id is required")
	}

	cfg, err := config.LoadStoreConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	l := ledger.New(store, logging.NewLogger("escrow-verify", "warn"))
	e, err := escrow.Open(ctx, l, *appID)
	if err != nil {
		log.Fatalf("open app %d: %v", *appID, err)
	}
	c, err := e.Counters(ctx)
	if err != nil {
		log.Fatal(err)
	}
	bal, err := e.Balance(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(e.GetPlatformInfo())
	fmt.Printf("App ID:          %d\n", e.AppID())
	fmt.Printf("Escrow address:  %s\n", e.EscrowAddress())
	fmt.Printf("Balance:         %d\n", bal)
	fmt.Printf("Held for rides:  %d\n", c.EscrowHeld)
	fmt.Printf("Ride counter:    %d\n", c.RideCounter)
	fmt.Printf("Rides created:   %d\n", c.TotalRidesCreated)
	fmt.Printf("Rides completed: %d\n", c.TotalCompleted)

	if *rideID != 0 {
		v, err := e.GetRide(ctx, *rideID)
		if err != nil {
			log.Fatalf("ride %d: %v", *rideID, err)
		}
		fmt.Printf("Ride %d: driver=%s price=%d seats=%d/%d active=%t completed=%t held=%d\n",
			v.ID, v.Driver, v.Price, v.SeatsTaken, v.Seats, v.Active, v.Completed, v.Held)
		for _, p := range v.Passengers {
			fmt.Printf("  slot %d: %s\n", p.Slot, p.Rider)
		}
	}
}
