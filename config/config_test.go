package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghosttrack/beacon/config"
	"ghosttrack/beacon/tracker"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "POLL_INTERVAL", "EVENTS_LIMIT", "GHOSTTRACK_URL", "GHOSTTRACK_SITE_ID", "GHOSTTRACK_DEBUG", "ANALYTICS_API_URL", "DASHBOARD_SITE_ID"} {
		t.Setenv(k, "")
	}
	cfg := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 20, cfg.EventsLimit)
	assert.Equal(t, "http://localhost:8000/api/v1", cfg.AnalyticsURL)
	assert.Equal(t, tracker.DefaultEndpointURL, cfg.Tracker.EndpointURL)
	assert.Equal(t, "ghosttrack-test-dashboard", cfg.Tracker.SiteID)
	assert.False(t, cfg.Tracker.DebugLogging)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnvFile(t *testing.T) {
	for _, k := range []string{"POLL_INTERVAL", "GHOSTTRACK_URL", "GHOSTTRACK_DEBUG", "EVENTS_LIMIT"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"POLL_INTERVAL=30s\nGHOSTTRACK_URL=https://collect.example.com/track\nGHOSTTRACK_DEBUG=true\nEVENTS_LIMIT=many\n",
	), 0o600))

	cfg := config.Load(path)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, "https://collect.example.com/track", cfg.Tracker.EndpointURL)
	assert.True(t, cfg.Tracker.DebugLogging)
	assert.Equal(t, 20, cfg.EventsLimit)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "EVENTS_LIMIT")
}
