package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "proofgate/pkg/platform/strings"
)

// Config aggregates per-subsystem configuration so main stays lean.
type Config struct {
	Server    Server
	Auth      Auth
	RateLimit RateLimit
	Audit     Audit
	Redis     Redis
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	RequestTimeout time.Duration
}

// Auth configures bearer-token validation on the verification endpoint.
type Auth struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
	RequiredScope string
}

// RateLimit configures token-bucket admission control. Burst is the bucket
// capacity; RefillRate is tokens added per second.
type RateLimit struct {
	Burst          int
	RefillRate     float64
	Disabled       bool
	ExemptSubjects []string
}

// Audit configures the encrypted audit log. Exactly one of KeyHex or
// Passphrase must be set; Passphrase is stretched with argon2id.
type Audit struct {
	KeyHex     string
	Passphrase string
	Salt       string
	FilePath   string
	BestEffort bool
	QueueSize  int
}

// Redis configures the optional Redis-backed bucket store. An empty URL
// selects the in-memory store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds the full configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:           envString("PROOFGATE_ADDR", ":8080"),
			RequestTimeout: envDuration("PROOFGATE_REQUEST_TIMEOUT", 10*time.Second),
		},
		Auth: Auth{
			// Use a default for development - must be overridden in production.
			JWTSigningKey: envString("PROOFGATE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:        envString("PROOFGATE_JWT_ISSUER", "proofgate"),
			Audience:      envString("PROOFGATE_JWT_AUDIENCE", "proofgate-api"),
			RequiredScope: envString("PROOFGATE_REQUIRED_SCOPE", "proof:verify"),
		},
		RateLimit: RateLimit{
			Burst:          envInt("PROOFGATE_RATELIMIT_BURST", 10),
			RefillRate:     envFloat("PROOFGATE_RATELIMIT_REFILL_RATE", 1.0),
			Disabled:       os.Getenv("PROOFGATE_RATELIMIT_DISABLED") == "true",
			ExemptSubjects: envList("PROOFGATE_RATELIMIT_EXEMPT_SUBJECTS"),
		},
		Audit: Audit{
			KeyHex:     os.Getenv("PROOFGATE_AUDIT_KEY"),
			Passphrase: os.Getenv("PROOFGATE_AUDIT_PASSPHRASE"),
			Salt:       envString("PROOFGATE_AUDIT_SALT", "proofgate-audit-v1"),
			FilePath:   os.Getenv("PROOFGATE_AUDIT_FILE"),
			BestEffort: os.Getenv("PROOFGATE_AUDIT_BEST_EFFORT") == "true",
			QueueSize:  envInt("PROOFGATE_AUDIT_QUEUE_SIZE", 1024),
		},
		Redis: Redis{
			URL:          os.Getenv("PROOFGATE_REDIS_URL"),
			PoolSize:     envInt("PROOFGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("PROOFGATE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("PROOFGATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("PROOFGATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("PROOFGATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(v, ","))
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
