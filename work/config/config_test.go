package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultMatchesReferenceLimits(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10*time.Minute, cfg.CacheDuration)
	assert.Equal(t, 6*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 6*time.Hour, cfg.LinkLifetime)
	assert.Equal(t, int64(512*1024), cfg.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.StreamTimeout)
	assert.Equal(t, 50, cfg.MaxIdleConns)
	assert.Equal(t, 100, cfg.MaxConnsPerHost)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, DefaultReqReferrer, cfg.ReqReferrer)
	assert.Equal(t, DefaultReqOrigin, cfg.ReqOrigin)
	assert.True(t, cfg.LegacyProxyEnabled)
}

func TestLoadFromFileParsesDurations(t *testing.T) {
	path := writeConfig(t, `{
		"baseURL": "https://watch.example.com/",
		"cacheDuration": "5m",
		"tokenTTL": "0",
		"linkLifetime": "2h",
		"streamTimeout": "90s",
		"legacyProxyEnabled": false,
		"keepAlive": {"enabled": true, "interval": "1m"}
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://watch.example.com", cfg.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.CacheDuration)
	assert.Equal(t, time.Duration(0), cfg.TokenTTL, "explicit zero keeps tokens forever")
	assert.Equal(t, 10*time.Minute, cfg.TokenSweepInterval)
	assert.Equal(t, 2*time.Hour, cfg.LinkLifetime)
	assert.Equal(t, 90*time.Second, cfg.StreamTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.False(t, cfg.LegacyProxyEnabled)
	assert.True(t, cfg.KeepAlive.Enabled)
	assert.Equal(t, time.Minute, cfg.KeepAlive.Interval)
}

func TestLoadFromFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `{"cacheDuration": "ten minutes"}`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cacheDuration")
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NotNil(t, cfg)
	assert.Equal(t, ":8000", cfg.ListenAddr)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("RENDER_EXTERNAL_URL", "https://app.onrender.com/")

	cfg, err := LoadFromFile(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "https://app.onrender.com/health", cfg.KeepAlive.URL)
	assert.Equal(t, "https://app.onrender.com", cfg.BaseURL)
}

func TestCreateExampleConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	require.NoError(t, CreateExampleConfig(path))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, cfg.TokenTTL)
}
