// Command fund transfers native currency from the deployer to an address.
// With -stripe-intent the recipient and amount come from a captured card
// top-up instead of the arguments.
//
//	fund <address> [amount units]
//	fund -stripe-intent pi_123
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/example/ride-escrow/internal/config"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/logging"
	"github.com/example/ride-escrow/internal/models"
	"github.com/example/ride-escrow/internal/payments"
	"github.com/example/ride-escrow/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	from := flag.String("from", envOr("DEPLOYER_ADDRESS", "seed:deployer"), "funding account (address or seed:<label>)")
	intent := flag.String("stripe-intent", "", "capture this PaymentIntent and credit its top-up")
	flag.Parse()

	sender, err := models.ResolveAddress(*from)
	if err != nil {
		log.Fatalf("from: %v", err)
	}

	ctx := context.Background()
	var to models.Address
	var amount uint64
	if *intent != "" {
		topUp, err := payments.NewStripeClient().CaptureTopUp(ctx, *intent)
		if err != nil {
			log.Fatalf("capture %s: %v", *intent, err)
		}
		to, amount = topUp.Address, topUp.Amount
	} else {
		to, amount, err = parseArgs(flag.Args())
		if err != nil {
			fmt.Fprintln(os.Stderr, "usage: fund <address> [amount units]")
			log.Fatal(err)
		}
	}

	cfg, err := config.LoadStoreConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()
	l := ledger.New(store, logging.NewLogger("escrow-fund", "warn"))

	bal, err := l.Balance(ctx, sender)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	fmt.Printf("Funding account %s holds %d micro-units\n", sender, bal)
	if bal < amount {
		log.Fatalf("insufficient funds: need %d", amount)
	}

	if err := l.Transfer(ctx, models.Payment{Sender: sender, Receiver: to, Amount: amount}); err != nil {
		log.Fatalf("transfer: %v", err)
	}
	after, err := l.Balance(ctx, to)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	fmt.Printf("Sent %d micro-units to %s (balance now %d)\n", amount, to, after)
}

// parseArgs reads "<address> [units]"; units defaults to 10.
func parseArgs(args []string) (models.Address, uint64, error) {
	if len(args) < 1 || len(args) > 2 {
		return models.Address{}, 0, fmt.Errorf("expected 1 or 2 arguments, got %d", len(args))
	}
	to, err := models.ResolveAddress(args[0])
	if err != nil {
		return models.Address{}, 0, err
	}
	units := uint64(10)
	if len(args) == 2 {
		units, err = strconv.ParseUint(args[1], 10, 64)
		if err != nil || units == 0 {
			return models.Address{}, 0, fmt.Errorf("invalid amount %q", args[1])
		}
	}
	if units > ^uint64(0)/models.MicroUnitsPerUnit {
		return models.Address{}, 0, fmt.Errorf("amount %d overflows", units)
	}
	return to, units * models.MicroUnitsPerUnit, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
