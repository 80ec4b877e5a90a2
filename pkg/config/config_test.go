package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REGION", "us-east")
	t.Setenv("PROJECT_ID", "proj-1")
	t.Setenv("COCKROACH_DB_URL", "postgres://localhost:26257/fleetcore")
}

func TestLoad_AppliesDefaultsWhenOptionalVarsAbsent(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "0.0.0.0", cfg.ListenHost)
	assert.Equal(t, 8080, cfg.ListenPort)
	assert.Equal(t, "/run/containerd/containerd.sock", cfg.ContainerdSocket)
	assert.Equal(t, "/var/lib/fleetcore/healer.db", cfg.HealerCachePath)
	assert.Equal(t, 3, cfg.MaxHealAttempts)
	assert.False(t, cfg.SlackEnabled())
}

func TestLoad_FailsWhenRequiredVarMissing(t *testing.T) {
	t.Setenv("PROJECT_ID", "proj-1")
	t.Setenv("COCKROACH_DB_URL", "postgres://localhost:26257/fleetcore")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsWhenListenPortOutOfRange(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTEN_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestSlackEnabled_RequiresBothTokenAndChannel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.SlackEnabled())

	t.Setenv("SLACK_ALERT_CHANNEL", "#fleet-alerts")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.SlackEnabled())
}

func TestListenAddr_CombinesHostAndPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTEN_HOST", "127.0.0.1")
	t.Setenv("LISTEN_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr())
}
