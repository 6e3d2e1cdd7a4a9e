package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10, cfg.HwidRateLimit)
	assert.Equal(t, 20, cfg.IPRateLimit)
	assert.Equal(t, 60*time.Second, cfg.RateWindow)
	assert.Equal(t, time.Duration(0), cfg.RateBlock)
	assert.Equal(t, 30*24*time.Hour, cfg.RetentionPeriod)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Len(t, cfg.EncryptionKey, 32)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HWID_RATE_LIMIT", "25")
	t.Setenv("RATE_WINDOW", "90s")
	t.Setenv("RETENTION_PERIOD", "168h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 25, cfg.HwidRateLimit)
	assert.Equal(t, 90*time.Second, cfg.RateWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.RetentionPeriod)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("IP_RATE_LIMIT", "lots")
	t.Setenv("RATE_WINDOW", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.IPRateLimit)
	assert.Equal(t, 60*time.Second, cfg.RateWindow)
}

func TestLoadParsesAdminDiscordIDs(t *testing.T) {
	t.Setenv("ADMIN_DISCORD_IDS", "123, 456 ,,789")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"123", "456", "789"}, cfg.AdminDiscordIDs)
}
