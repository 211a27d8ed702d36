package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	EditsAllowed  bool
}

// Postgres holds the connection settings for the authoritative store. An
// empty DSN selects the in-memory stores (dev mode, tests).
type Postgres struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Redis configures the redirect-resolution cache. Empty URL disables it.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit fanout. Empty brokers disables publishing; audit
// entries still land in the store.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Config is passed explicitly to constructors; no ambient global state.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("ROLLCALL_ADDR", ":8080"),
			JWTSigningKey: envOr("ROLLCALL_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			EditsAllowed:  envOr("ROLLCALL_EDITS_ALLOWED", "true") == "true",
		},
		Postgres: Postgres{
			DSN:          os.Getenv("ROLLCALL_POSTGRES_DSN"),
			MaxOpenConns: envIntOr("ROLLCALL_POSTGRES_MAX_OPEN", 16),
			MaxIdleConns: envIntOr("ROLLCALL_POSTGRES_MAX_IDLE", 4),
		},
		Redis: Redis{
			URL:          os.Getenv("ROLLCALL_REDIS_URL"),
			PoolSize:     envIntOr("ROLLCALL_REDIS_POOL_SIZE", 8),
			MinIdleConns: envIntOr("ROLLCALL_REDIS_MIN_IDLE", 1),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("ROLLCALL_KAFKA_BROKERS")),
			Topic:   envOr("ROLLCALL_KAFKA_AUDIT_TOPIC", "rollcall.audit"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
