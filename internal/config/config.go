// Package config loads runtime settings from the environment. A local
// .env file is honored when present so development does not need
// exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the API binary needs at startup.
type Config struct {
	Addr       string
	PGDSN      string
	RedisAddr  string
	AuthSecret string
	CacheTTL   time.Duration
	RateLimit  float64
	RateBurst  int
}

// Load reads the environment, preloading .env if one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:       envOr("ACCESSGRID_ADDR", ":8080"),
		PGDSN:      os.Getenv("ACCESSGRID_PG_DSN"),
		RedisAddr:  os.Getenv("ACCESSGRID_REDIS_ADDR"),
		AuthSecret: os.Getenv("ACCESSGRID_AUTH_SECRET"),
	}

	ttl, err := envDuration("ACCESSGRID_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTL = ttl

	limit, err := envFloat("ACCESSGRID_RATE_LIMIT", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimit = limit

	burst, err := envInt("ACCESSGRID_RATE_BURST", 100)
	if err != nil {
		return Config{}, err
	}
	cfg.RateBurst = burst

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
