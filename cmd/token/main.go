// Command token issues an API bearer token for an address.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/ride-escrow/internal/auth"
	"github.com/example/ride-escrow/internal/models"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file: %v", err)
	}
	if len(os.Args) != 2 {
		log.Fatal("usage: token <address|seed:label>")
	}
	addr, err := models.ResolveAddress(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "ride-escrow"
	}
	ttl := 24 * time.Hour
	if v := os.Getenv("JWT_TTL"); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			log.Fatalf("invalid JWT_TTL: %v", err)
		}
	}

	token, err := auth.NewIssuer(secret, issuer, ttl).Issue(addr)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}
	fmt.Printf("Address: %s\n", addr)
	fmt.Println(token)
}
