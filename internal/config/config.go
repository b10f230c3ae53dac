package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"

	DefaultGapHours = 6.0
)

type AppConfig struct {
	StoreBackend string
	DatabaseURL  string
	SQLitePath   string
	RedisURL     string

	HTTPAddr string

	Roster     []string
	RosterFile string
	GapHours   float64

	ReconcileInterval time.Duration
}

// Tracker is the explicit settings value handed to the session engine on every call.
type Tracker struct {
	Roster   []string
	GapHours float64
	// Venues, when non-empty, restricts the venue labels a match may carry.
	Venues []string
}

// Tracker returns the env-derived engine settings.
func (c *AppConfig) Tracker() Tracker {
	return Tracker{Roster: append([]string(nil), c.Roster...), GapHours: c.GapHours}
}

// Load reads the environment (and .env when present) into an AppConfig.
func Load() (*AppConfig, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &AppConfig{
		StoreBackend: BackendMemory,
		HTTPAddr:     ":8080",
		SQLitePath:   "tracker.db",
		GapHours:     DefaultGapHours,
	}

	if v := strings.TrimSpace(os.Getenv("STORE_BACKEND")); v != "" {
		cfg.StoreBackend = strings.ToLower(v)
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}

	cfg.Roster = splitList(os.Getenv("ROSTER"))
	cfg.RosterFile = strings.TrimSpace(os.Getenv("ROSTER_FILE"))

	if v := strings.TrimSpace(os.Getenv("SESSION_GAP_HOURS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.GapHours = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("RECONCILE_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.ReconcileInterval = d
		}
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for postgres backend")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for redis backend")
		}
	default:
		return nil, errors.New("STORE_BACKEND must be one of memory, postgres, sqlite, redis")
	}

	if len(cfg.Roster) == 0 && cfg.RosterFile == "" {
		return nil, errors.New("ROSTER or ROSTER_FILE is required")
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range strings.Split(v, ",") {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
