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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "data/ledger_state.json", cfg.Ledger.StateFile)
	assert.Equal(t, 7*24*time.Hour, cfg.Ledger.RewardInterval)
	assert.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, "0 0 12 * * 1", cfg.Schedule.RewardCron)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.TelegramEnabled())
	require.Error(t, cfg.Validate(), "no admins configured")
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
ledger:
  state_file: /var/lib/pool/state.json
  reward_interval: 1h
access:
  admins: [admin]
  reward_depositors: [team]
reward:
  auto_amount: 500
  depositor: team
`)
	t.Setenv("HTTP_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("POOL_REWARD_DEPOSITORS", "team, ops ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/pool/state.json", cfg.Ledger.StateFile)
	assert.Equal(t, time.Hour, cfg.Ledger.RewardInterval)
	assert.Equal(t, []string{"admin"}, cfg.Access.Admins)
	assert.Equal(t, []string{"team", "ops"}, cfg.Access.RewardDepositors)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.ListenAddr)
	assert.Equal(t, uint64(500), cfg.Reward.AutoAmount)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("REWARD_AUTO_AMOUNT", "-3")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no admins", func(c *Config) { c.Access.Admins = nil }, true},
		{"auto reward without depositor", func(c *Config) { c.Reward.AutoAmount = 10 }, true},
		{"half telegram", func(c *Config) { c.Telegram.BotToken = "x" }, true},
		{"debug level", func(c *Config) { c.Log.Level = "DEBUG" }, false},
		{"unknown level", func(c *Config) { c.Log.Level = "chatty" }, true},
		{"negative interval", func(c *Config) { c.Ledger.RewardInterval = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
			require.NoError(t, err)
			cfg.Access.Admins = []string{"admin"}
			tt.mutate(cfg)
			if tt.wantErr {
				require.Error(t, cfg.Validate())
			} else {
				require.NoError(t, cfg.Validate())
			}
		})
	}
}
