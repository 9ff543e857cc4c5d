package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsEnvOnly(t *testing.T) {
	cfg, err := Load("", true)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 3, cfg.Oracle.MaxRetries)
	assert.Equal(t, 15*time.Second, cfg.Oracle.SkewTolerance)
	assert.Equal(t, float64(10), cfg.Settlement.TieThresholdBps)
	assert.True(t, cfg.Settlement.CaptureStartPrice)
	assert.True(t, cfg.Ledger.GuardRedistribution)
	assert.Equal(t, int64(100), cfg.Ledger.WinPoints)
	assert.Equal(t, 90*time.Minute, cfg.Generator.Duration)
	assert.Equal(t, 60*time.Second, cfg.Prediction.Cutoff)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.Auth.Window)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
app:
  env: prod
ledger:
  secret: file-secret
  win_points: 250
generator:
  assets:
    - symbol: SOL
      feed_id: "0xsol"
    - symbol: BONK
      feed_id: "0xbonk"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("BATTLES_LEDGER_SECRET", "env-secret")
	t.Setenv("BATTLES_SETTLEMENT_TIE_THRESHOLD_BPS", "25")

	cfg, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "env-secret", cfg.Ledger.Secret)
	assert.Equal(t, int64(250), cfg.Ledger.WinPoints)
	assert.Equal(t, float64(25), cfg.Settlement.TieThresholdBps)
	require.Len(t, cfg.Generator.Assets, 2)
	assert.Equal(t, "BONK", cfg.Generator.Assets[1].Symbol)
	assert.Equal(t, "0xsol", cfg.Generator.Assets[0].FeedID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	assert.Error(t, err)
}
