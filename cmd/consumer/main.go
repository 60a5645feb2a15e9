package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-escrow/internal/config"
	"github.com/example/ride-escrow/internal/events"
	"github.com/example/ride-escrow/internal/logging"
	"github.com/example/ride-escrow/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_messages_consumed_total",
		Help: "Total escrow events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_messages_invalid_total",
		Help: "Total undecodable messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_redis_updates_total",
		Help: "Total successful feed projections",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger("escrow-feed", cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	radapter := &redisAdapter{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		ev, err := events.Decode(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err, "offset", m.Offset)
			continue
		}

		if err := updateRedisWithRetry(ctx, radapter, ev, cfg.FeedKey, cfg.StatsKey, cfg.FeedLength, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("feed update failed", "event_id", ev.ID, "ride_id", ev.RideID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// FeedUpdater is the subset of redis operations the projector needs.
type FeedUpdater interface {
	PushFeed(ctx context.Context, key string, entry []byte, maxLen int64) error
	IncrStats(ctx context.Context, key string, incr map[string]int64) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) PushFeed(ctx context.Context, key string, entry []byte, maxLen int64) error {
	pipe := r.c.TxPipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *redisAdapter) IncrStats(ctx context.Context, key string, incr map[string]int64) error {
	pipe := r.c.TxPipeline()
	for field, n := range incr {
		pipe.HIncrBy(ctx, key, field, n)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// statsDelta is what one event adds to the stats hash: a count per event
// type plus the micro-units it moved.
func statsDelta(ev models.Event) map[string]int64 {
	out := map[string]int64{string(ev.Type): 1}
	var moved uint64
	for _, p := range ev.Payments {
		moved += p.Amount
	}
	if moved > 0 {
		out["micro_units_moved"] = int64(moved)
	}
	return out
}

// updateRedisWithRetry projects ev onto the activity feed and stats hash,
// retrying each step with doubling delay.
func updateRedisWithRetry(ctx context.Context, rc FeedUpdater, ev models.Event, feedKey, statsKey string, feedLen int64, attempts int, delay time.Duration) error {
	entry, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pushed := false
	for i := 0; i < attempts; i++ {
		if !pushed {
			if err := rc.PushFeed(ctx, feedKey, entry, feedLen); err != nil {
				if i == attempts-1 {
					return err
				}
				time.Sleep(delay)
				delay *= 2
				continue
			}
			pushed = true
		}
		if err := rc.IncrStats(ctx, statsKey, statsDelta(ev)); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
