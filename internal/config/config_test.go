package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://launch.meme/connection/websocket", cfg.WSURL)
	assert.Equal(t, "meteora-tokenUpdates", cfg.TokenChannel)
	assert.Equal(t, 10*time.Second, cfg.SnapshotTimeout)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.True(t, cfg.UseFallbackData)
	assert.Equal(t, 1000, cfg.UpdateBuffer)
	assert.Equal(t, float64(5), cfg.PriceShockPct)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.ClickHouseEnabled())
	assert.Equal(t, ":8090", cfg.APIAddr)
	assert.Empty(t, cfg.TradePairs)
	assert.False(t, cfg.APIDevMode)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FEED_WS_URL", "ws://localhost:8000/connection/websocket")
	t.Setenv("SNAPSHOT_TIMEOUT_SECONDS", "3")
	t.Setenv("USE_FALLBACK_DATA", "false")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PRICE_SHOCK_PCT", "12.5")
	t.Setenv("UPDATE_BUFFER", "not-a-number")
	t.Setenv("TRADE_PAIRS", "PairA, ,PairB,")
	t.Setenv("API_DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8000/connection/websocket", cfg.WSURL)
	assert.Equal(t, 3*time.Second, cfg.SnapshotTimeout)
	assert.False(t, cfg.UseFallbackData)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 12.5, cfg.PriceShockPct)
	// Unparseable values fall back to the default.
	assert.Equal(t, 1000, cfg.UpdateBuffer)
	assert.Equal(t, []string{"PairA", "PairB"}, cfg.TradePairs)
	assert.True(t, cfg.APIDevMode)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"http scheme", "FEED_WS_URL", "http://example.com"},
		{"zero timeout", "SNAPSHOT_TIMEOUT_SECONDS", "0"},
		{"zero buffer", "UPDATE_BUFFER", "0"},
		{"negative shock", "PRICE_SHOCK_PCT", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "eyJh****9xYz", maskSecret("eyJhbGciOiJIUzI1NiJ9xYz"))

	cfg := &Config{WSToken: "abcdefghijkl"}
	assert.Equal(t, "abcd****ijkl", cfg.MaskedWSToken())
}
