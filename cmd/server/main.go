package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-escrow/internal/auth"
	"github.com/example/ride-escrow/internal/config"
	"github.com/example/ride-escrow/internal/dispatch"
	"github.com/example/ride-escrow/internal/escrow"
	"github.com/example/ride-escrow/internal/events"
	httpapi "github.com/example/ride-escrow/internal/http"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/logging"
	"github.com/example/ride-escrow/internal/models"
	"github.com/example/ride-escrow/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger("escrow-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		fatal(logger, "store open failed", err)
	}
	defer store.Close()
	l := ledger.New(store, logger)

	ws := dispatch.NewWSRegistry(logger)
	publishers := events.Multi{ws}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publishers = append(publishers, kp)
	}
	if cfg.WebhookURL != "" {
		publishers = append(publishers, dispatch.NewWebhookPublisher(cfg.WebhookURL))
	}

	opts := []escrow.Option{
		escrow.WithPenalty(cfg.Penalty),
		escrow.WithMinBalance(cfg.MinBalance),
		escrow.WithPublisher(publishers),
		escrow.WithLogger(logger),
	}
	esc, err := openEscrow(ctx, cfg, l, opts)
	if err != nil {
		fatal(logger, "escrow open failed", err)
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	api := httpapi.NewServer(esc, l, issuer, ws, httpapi.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
		TrustProxy:         cfg.TrustProxy,
		Logger:             logger,
	})
	go api.Limiter().RunCleanup(ctx, 10*time.Minute)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("ride-escrow listening",
		"addr", cfg.HTTPAddr,
		"store", cfg.Store.Backend,
		"app_id", esc.AppID(),
		"escrow_address", esc.EscrowAddress().String(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "http server failed", err)
	}
	logger.Info("ride-escrow stopped")
}

// openEscrow attaches to APP_ID, or on the memory store seeds the genesis
// accounts and provisions a fresh instance funded by the deployer.
func openEscrow(ctx context.Context, cfg config.ServerConfig, l *ledger.Ledger, opts []escrow.Option) (*escrow.Escrow, error) {
	if cfg.AppID != 0 {
		return escrow.Open(ctx, l, cfg.AppID, opts...)
	}
	allocs, err := ledger.ParseGenesis(cfg.GenesisAllocs)
	if err != nil {
		return nil, err
	}
	if err := l.ApplyGenesis(ctx, allocs); err != nil {
		return nil, err
	}
	deployer, err := models.ResolveAddress(cfg.Deployer)
	if err != nil {
		return nil, err
	}
	return escrow.Provision(ctx, l, deployer, cfg.MinBalance+models.MicroUnitsPerUnit, opts...)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
