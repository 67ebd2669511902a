// Package config loads process configuration from the environment. All
// values are read once at startup and treated as read-only afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage engine selectors.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// Config is the full configuration surface of the service.
type Config struct {
	Addr string

	AuthSecret string
	TokenTTL   time.Duration
	BcryptCost int

	StoreEngine  string
	SQLitePath   string
	PostgresDSN  string
	StoreTimeout time.Duration

	DefaultTenant  string
	DefaultCountry string

	RateBurst  int
	RatePerSec int
}

// Load reads configuration from ECONLAB_* environment variables,
// applying defaults for everything except the auth secret.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:           getenv("ECONLAB_ADDR", ":8080"),
		AuthSecret:     strings.TrimSpace(os.Getenv("ECONLAB_AUTH_SECRET")),
		StoreEngine:    strings.ToLower(getenv("ECONLAB_STORE", EngineSQLite)),
		SQLitePath:     getenv("ECONLAB_SQLITE_PATH", "econlab.db"),
		PostgresDSN:    os.Getenv("ECONLAB_PG_DSN"),
		DefaultTenant:  getenv("ECONLAB_DEFAULT_TENANT", "default"),
		DefaultCountry: os.Getenv("ECONLAB_DEFAULT_COUNTRY"),
	}
	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("ECONLAB_AUTH_SECRET is required")
	}
	switch cfg.StoreEngine {
	case EngineSQLite, EnginePostgres:
	default:
		return nil, fmt.Errorf("unsupported store engine %q", cfg.StoreEngine)
	}
	if cfg.StoreEngine == EnginePostgres && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("ECONLAB_PG_DSN is required for the postgres engine")
	}

	var err error
	if cfg.TokenTTL, err = getduration("ECONLAB_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = getduration("ECONLAB_STORE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getint("ECONLAB_BCRYPT_COST", 0); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = getint("ECONLAB_RATE_BURST", 20); err != nil {
		return nil, err
	}
	if cfg.RatePerSec, err = getint("ECONLAB_RATE_PER_SEC", 10); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
