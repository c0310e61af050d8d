package server

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the server reads from the environment.
// A .env file is honored via godotenv's autoload import in server.go.
type Config struct {
	Port int

	// GracePeriod is how long a disconnected player keeps their seat before
	// eviction. Distinct from the long-lived SessionTTL.
	GracePeriod time.Duration

	// SessionTTL bounds how long an inactive session token stays valid.
	SessionTTL time.Duration

	// SweepInterval paces the background cleanup of expired sessions and
	// abandoned rooms.
	SweepInterval time.Duration

	// DealFlash is the display window before a pile's newly-dealt flags are
	// cleared and re-broadcast.
	DealFlash time.Duration

	// RandomFirstPlayer switches game start from the deterministic index 0
	// opener to a random one.
	RandomFirstPlayer bool

	// RateLimit is the per-connection inbound message budget per second.
	RateLimit int
}

func LoadConfig() Config {
	return Config{
		Port:              envInt("PORT", 3005),
		GracePeriod:       envDuration("GRACE_PERIOD", 90*time.Second),
		SessionTTL:        envDuration("SESSION_TTL", 24*time.Hour),
		SweepInterval:     envDuration("SWEEP_INTERVAL", time.Hour),
		DealFlash:         envDuration("DEAL_FLASH", 2500*time.Millisecond),
		RandomFirstPlayer: envBool("RANDOM_FIRST_PLAYER", false),
		RateLimit:         envInt("RATE_LIMIT_PER_SEC", 10),
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
