/*
config.go - Environment-driven configuration

PURPOSE:
  Loads all runtime configuration from the environment, with a .env file
  picked up for local development. Every knob has a sane default so a
  bare `turfd serve` works out of the box against a local SQLite file.

KEYS:
  TURF_HTTP_ADDR          listen address           (default :8080)
  TURF_SQLITE_PATH        sqlite database file     (default turf.db)
  TURF_DATABASE_URL       postgres URL; when set, postgres is used
  TURF_SESSION_HASH_KEY   base64, 32 or 64 bytes
  TURF_SESSION_BLOCK_KEY  base64, 16/24/32 bytes
  TURF_SLOT_MINUTES       slot length              (default 60)
  TURF_POINT_VALUE        currency per point       (default 1)
  TURF_EARN_SPEND         currency per point earned (default 100)
  TURF_OPEN_HOUR          first bookable hour      (default 9)
  TURF_CLOSE_HOUR         closing hour, exclusive  (default 21)
  TURF_CORS_ORIGINS       comma-separated origins

SESSION KEYS:
  When the keys are absent, random ones are generated at startup. That
  is fine for development but invalidates sessions on every restart, so
  production deployments should pin both keys.
*/
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/turf-engine/booking"
)

type Config struct {
	HTTPAddr    string
	SQLitePath  string
	DatabaseURL string

	SessionHashKey  []byte
	SessionBlockKey []byte

	Rates booking.Rates

	OpenHour  int
	CloseHour int

	AllowedOrigins []string
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:    getenv("TURF_HTTP_ADDR", ":8080"),
		SQLitePath:  getenv("TURF_SQLITE_PATH", "turf.db"),
		DatabaseURL: os.Getenv("TURF_DATABASE_URL"),
		OpenHour:    getenvInt("TURF_OPEN_HOUR", 9),
		CloseHour:   getenvInt("TURF_CLOSE_HOUR", 21),
	}

	var err error
	if cfg.SessionHashKey, err = keyFromEnv("TURF_SESSION_HASH_KEY", 64); err != nil {
		return nil, err
	}
	if cfg.SessionBlockKey, err = keyFromEnv("TURF_SESSION_BLOCK_KEY", 32); err != nil {
		return nil, err
	}

	cfg.Rates = booking.Rates{
		SlotDuration: time.Duration(getenvInt("TURF_SLOT_MINUTES", 60)) * time.Minute,
		PointValue:   getenvDecimal("TURF_POINT_VALUE", decimal.NewFromInt(1)),
		EarnSpend:    getenvDecimal("TURF_EARN_SPEND", decimal.NewFromInt(100)),
	}
	if err := cfg.Rates.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rates: %w", err)
	}

	if cfg.OpenHour < 0 || cfg.CloseHour > 24 || cfg.OpenHour >= cfg.CloseHour {
		return nil, fmt.Errorf("invalid open hours %d-%d", cfg.OpenHour, cfg.CloseHour)
	}

	if raw := os.Getenv("TURF_CORS_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	} else {
		cfg.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	return cfg, nil
}

// UsePostgres reports whether the postgres store should back the server.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return d
}

// keyFromEnv decodes a base64 key, or generates a random one when the
// variable is unset.
func keyFromEnv(key string, genSize int) ([]byte, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return securecookie.GenerateRandomKey(genSize), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", key, err)
	}
	return decoded, nil
}
