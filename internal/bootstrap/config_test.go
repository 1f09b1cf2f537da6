package bootstrap

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocs-portal/portal-auth/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, config.LogConfig{Level: "info", Format: config.LogFormatJSON})
		logger.Debug("hidden")
		logger.Info("hello", "user_id", "u1")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "hello", line["msg"])
		assert.Equal(t, "u1", line["user_id"])
	})

	t.Run("text without color off a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, config.LogConfig{Level: "debug", Format: config.LogFormatText})
		logger.Debug("visible", "k", "v")

		assert.Contains(t, buf.String(), "visible")
		assert.Contains(t, buf.String(), "k=v")
		assert.NotContains(t, buf.String(), "\x1b[")
	})
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	t.Setenv("DEV", "true")
	t.Setenv("AUTH_MODE", "mock")
	t.Setenv("AUTH_RULES_SOURCE", "static")
	t.Setenv("SERVICES", "http")
	t.Setenv("SESSION_BACKEND", "postgres")
	t.Setenv("DEV_AUTH_GROUPS", "All_Staff;Finance")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.AuthModeMock, cfg.Auth.Mode)
	assert.Equal(t, config.RulesSourceStatic, cfg.Auth.RulesSource)
	assert.Equal(t, config.SessionBackendPostgres, cfg.Session.Backend)
	assert.Equal(t, []string{"All_Staff", "Finance"}, cfg.Auth.DevAuth.Groups)
	assert.Equal(t, config.LogFormatText, cfg.Log.Format)
	assert.True(t, cfg.IsHTTPServerEnabled())
	assert.False(t, cfg.IsSweeperEnabled())
}

func TestLoadConfigRejectsMockOutsideDev(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	t.Setenv("DEV", "false")
	t.Setenv("AUTH_MODE", "mock")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_MODE=mock requires DEV=true")
}
