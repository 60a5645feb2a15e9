package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the escrow API process.
// Values come from an optional YAML file (CONFIG_PATH) and are then
// overridden by environment variables, so the binary runs locally without
// any file at all.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Store StoreConfig `yaml:"store"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	WebhookURL   string   `yaml:"webhook_url"`

	AppID         uint64 `yaml:"app_id"`
	Penalty       uint64 `yaml:"penalty"`
	MinBalance    uint64 `yaml:"min_balance"`
	Deployer      string `yaml:"deployer"`
	GenesisAllocs string `yaml:"genesis_allocs"`

	JWTSecret string        `yaml:"jwt_secret"`
	JWTIssuer string        `yaml:"jwt_issuer"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`

	RateLimitPerMinute int  `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int  `yaml:"rate_limit_burst"`
	TrustProxy         bool `yaml:"trust_proxy"`

	LogLevel string `yaml:"log_level"`
}

// StoreConfig selects and configures the box store backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // memory | redis | postgres
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	PGDSN         string `yaml:"pg_dsn"`
	RunMigrations bool   `yaml:"run_migrations"`
}

// ConsumerConfig configures the activity feed projector.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	FeedKey       string
	StatsKey      string
	FeedLength    int64
	LogLevel      string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		Store: StoreConfig{
			Backend:     "memory",
			RedisPrefix: "escrow:box:",
		},
		KafkaTopic:         "escrow-events",
		Penalty:            100_000,
		MinBalance:         100_000,
		Deployer:           "seed:deployer",
		GenesisAllocs:      "seed:deployer=1000000000000",
		JWTIssuer:          "ride-escrow",
		JWTTTL:             24 * time.Hour,
		RateLimitPerMinute: 120,
		RateLimitBurst:     20,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStoreFromEnv(&cfg.Store, &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.WebhookURL, "WEBHOOK_URL")

	setUintFromEnv(&cfg.AppID, "APP_ID", &errs)
	setUintFromEnv(&cfg.Penalty, "ESCROW_PENALTY", &errs)
	setUintFromEnv(&cfg.MinBalance, "ESCROW_MIN_BALANCE", &errs)
	setStringFromEnv(&cfg.Deployer, "DEPLOYER_ADDRESS")
	setStringFromEnv(&cfg.GenesisAllocs, "GENESIS_ALLOCS")

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	setStringFromEnv(&cfg.JWTIssuer, "JWT_ISSUER")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)

	setIntFromEnv(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE", &errs)
	setIntFromEnv(&cfg.RateLimitBurst, "RATE_LIMIT_BURST", &errs)
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		cfg.TrustProxy = strings.EqualFold(v, "true")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if cfg.AppID == 0 && cfg.Store.Backend != "memory" {
		errs = append(errs, fmt.Errorf("APP_ID is required with the %s store; run cmd/deploy first", cfg.Store.Backend))
	}
	if cfg.RateLimitPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be > 0"))
	}
	if cfg.RateLimitBurst <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be > 0"))
	}
	if err := cfg.Store.validate(); err != nil {
		errs = append(errs, err)
	}

	return cfg, errors.Join(errs...)
}

// LoadStoreConfig reads only the store settings. Used by the CLI tools.
func LoadStoreConfig() (StoreConfig, error) {
	cfg := defaultServerConfig().Store
	var errs []error
	setStoreFromEnv(&cfg, &errs)
	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "escrow-events",
		KafkaGroup:   "escrow-feed-projector",
		RedisAddr:    "localhost:6379",
		FeedKey:      "escrow:feed",
		StatsKey:     "escrow:stats",
		FeedLength:   100,
		LogLevel:     "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.FeedKey, "FEED_KEY")
	setStringFromEnv(&cfg.StatsKey, "STATS_KEY")

	var feedLen int
	if v := os.Getenv("FEED_LENGTH"); v != "" {
		setIntFromEnv(&feedLen, "FEED_LENGTH", &errs)
		cfg.FeedLength = int64(feedLen)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}
	if cfg.FeedLength <= 0 {
		errs = append(errs, fmt.Errorf("FEED_LENGTH must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func (s StoreConfig) validate() error {
	switch s.Backend {
	case "memory":
		return nil
	case "redis":
		if s.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store")
		}
		return nil
	case "postgres":
		if s.PGDSN == "" {
			return fmt.Errorf("PG_DSN is required for the postgres store")
		}
		return nil
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", s.Backend)
	}
}

func setStoreFromEnv(s *StoreConfig, errs *[]error) {
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		s.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	setStringFromEnv(&s.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		s.RedisPassword = v
	}
	setIntFromEnv(&s.RedisDB, "REDIS_DB", errs)
	setStringFromEnv(&s.RedisPrefix, "REDIS_PREFIX")
	setStringFromEnv(&s.PGDSN, "PG_DSN")
	if v := os.Getenv("MIGRATE"); v != "" {
		s.RunMigrations = strings.EqualFold(v, "true")
	}
}

func loadYAML(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setUintFromEnv(target *uint64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		u, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = u
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
