package config_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/turf-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "turf.db", cfg.SQLitePath)
	assert.False(t, cfg.UsePostgres())
	assert.Equal(t, time.Hour, cfg.Rates.SlotDuration)
	assert.True(t, cfg.Rates.PointValue.Equal(decimal.NewFromInt(1)))
	assert.True(t, cfg.Rates.EarnSpend.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 9, cfg.OpenHour)
	assert.Equal(t, 21, cfg.CloseHour)

	// Missing keys are generated, not rejected.
	assert.Len(t, cfg.SessionHashKey, 64)
	assert.Len(t, cfg.SessionBlockKey, 32)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TURF_HTTP_ADDR", ":9000")
	t.Setenv("TURF_DATABASE_URL", "postgres://localhost/turf")
	t.Setenv("TURF_SLOT_MINUTES", "30")
	t.Setenv("TURF_POINT_VALUE", "0.5")
	t.Setenv("TURF_EARN_SPEND", "50")
	t.Setenv("TURF_OPEN_HOUR", "6")
	t.Setenv("TURF_CLOSE_HOUR", "23")
	t.Setenv("TURF_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TURF_SESSION_HASH_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.True(t, cfg.UsePostgres())
	assert.Equal(t, 30*time.Minute, cfg.Rates.SlotDuration)
	assert.True(t, cfg.Rates.PointValue.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, cfg.Rates.EarnSpend.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 6, cfg.OpenHour)
	assert.Equal(t, 23, cfg.CloseHour)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Len(t, cfg.SessionHashKey, 32)
}

func TestLoad_Rejections(t *testing.T) {
	t.Run("bad session key", func(t *testing.T) {
		t.Setenv("TURF_SESSION_HASH_KEY", "%%not-base64%%")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("inverted open hours", func(t *testing.T) {
		t.Setenv("TURF_OPEN_HOUR", "22")
		t.Setenv("TURF_CLOSE_HOUR", "9")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("zero slot length", func(t *testing.T) {
		t.Setenv("TURF_SLOT_MINUTES", "0")
		_, err := config.Load()
		assert.Error(t, err)
	})
}
