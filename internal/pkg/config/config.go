package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Feed drivers select where live change events come from.
const (
	FeedMongo = "mongo" // MongoDB change streams; needs a replica set
	FeedRedis = "redis" // Redis Pub/Sub, published by the write path
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	JWTSecret string `env:"JWT_SECRET, required"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	Mongo    MongoConfig
	Redis    RedisConfig
	Ingest   IngestConfig
	Tracking TrackingConfig
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=tracking"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,     default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,       default=0"`
}

type IngestConfig struct {
	Workers     int           `env:"INGEST_WORKERS,      default=8"`
	DedupWindow time.Duration `env:"PING_DEDUP_WINDOW,   default=15m"`
}

type TrackingConfig struct {
	FeedDriver    string        `env:"FEED_DRIVER,             default=mongo"`
	RetryInitial  time.Duration `env:"TRACKING_RETRY_INITIAL,  default=500ms"`
	RetryMax      time.Duration `env:"TRACKING_RETRY_MAX,      default=30s"`
	RetryAttempts uint64        `env:"TRACKING_RETRY_ATTEMPTS, default=8"`
	Heartbeat     time.Duration `env:"STREAM_HEARTBEAT,        default=15s"`
	DetachTimeout time.Duration `env:"TRACKING_DETACH_TIMEOUT, default=5s"`
}

// IsProduction reports whether the service runs with production defaults
// (JSON logs, no swagger banner).
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Tracking.FeedDriver {
	case FeedMongo, FeedRedis:
	default:
		errs = append(errs, fmt.Errorf("FEED_DRIVER must be %q or %q, got %q", FeedMongo, FeedRedis, c.Tracking.FeedDriver))
	}
	if c.Tracking.RetryInitial <= 0 || c.Tracking.RetryMax < c.Tracking.RetryInitial {
		errs = append(errs, errors.New("TRACKING_RETRY_MAX must be at least TRACKING_RETRY_INITIAL, both positive"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, errors.New("INGEST_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}
