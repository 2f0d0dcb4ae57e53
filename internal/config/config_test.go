package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "xueqiu", cfg.Data.Source)
	assert.Equal(t, 100, cfg.Engine.LotSize)
	assert.Equal(t, 17, cfg.Engine.CloseHour)
	assert.Equal(t, ":8089", cfg.Server.Addr)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
data:
  source: binance
  root: /tmp/kline
engine:
  lot_size: 1
  heartbeat_ms: 50
server:
  enabled: true
  addr: ":9000"
profile: configs/profiles.yaml
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "binance", cfg.Data.Source)
	assert.Equal(t, "/tmp/kline", cfg.Data.Root)
	assert.Equal(t, 1, cfg.Engine.LotSize)
	assert.Equal(t, 50, cfg.Engine.HeartbeatMS)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "configs/profiles.yaml", cfg.Profile)
}

func TestLoadRejectsBadSource(t *testing.T) {
	path := writeConfig(t, "data:\n  source: bloomberg\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := writeConfig(t, "log:\n  level: verbose\n")
	_, err := Load(path)
	assert.Error(t, err)
}
