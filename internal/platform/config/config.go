package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	Redis         RedisConfig
	Kafka         KafkaConfig
	Postgres      PostgresConfig
	Limits        LimitDefaults
}

// PostgresConfig controls the municipality registry database. An empty DSN
// keeps the registry in memory, seeded from defaults.
type PostgresConfig struct {
	DSN string
}

// RedisConfig controls the shared cache store connection.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig controls the security-audit publisher. Empty seeds disable the
// Kafka sink and audit events fall back to structured logs.
type KafkaConfig struct {
	Seeds []string
	Topic string
}

// LimitDefaults are the conservative fallbacks used for municipalities that
// have no profile in the registry.
type LimitDefaults struct {
	APIRequestsPerWindow        int
	ValidationRequestsPerWindow int
	Window                      time.Duration
	DDoSThreshold               int
	DDoSWindow                  time.Duration
	DDoSBlockDuration           time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("KOMPETENS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("KOMPETENS_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	kafkaTopic := os.Getenv("KOMPETENS_KAFKA_AUDIT_TOPIC")
	if kafkaTopic == "" {
		kafkaTopic = "kompetens.audit.security"
	}

	var seeds []string
	if s := os.Getenv("KOMPETENS_KAFKA_SEEDS"); s != "" {
		for _, seed := range strings.Split(s, ",") {
			if seed = strings.TrimSpace(seed); seed != "" {
				seeds = append(seeds, seed)
			}
		}
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		Redis: RedisConfig{
			URL:          os.Getenv("KOMPETENS_REDIS_URL"),
			PoolSize:     envInt("KOMPETENS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("KOMPETENS_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Seeds: seeds,
			Topic: kafkaTopic,
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("KOMPETENS_POSTGRES_DSN"),
		},
		Limits: DefaultLimits(),
	}
}

// DefaultLimits returns the fallback admission limits for unconfigured
// municipalities. The values are deliberately conservative: unknown tenants
// get the smallest budget rather than an error.
func DefaultLimits() LimitDefaults {
	return LimitDefaults{
		APIRequestsPerWindow:        100,
		ValidationRequestsPerWindow: 50,
		Window:                      time.Minute,
		DDoSThreshold:               1000,
		DDoSWindow:                  5 * time.Minute,
		DDoSBlockDuration:           15 * time.Minute,
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
