package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decimalFromTest(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const sampleConfig = `{
  "strategy_id": "grinder",
  "symbols": ["BNBUSDT"],
  "rules": {
    "BNBUSDT": {"tick_size": "0.01", "step_size": "0.001", "min_qty": "0.001", "min_notional": "5"}
  },
  "gates": {"max_spread_bps": "30", "fill_prob_threshold": "0.2"},
  "policy": {
    "levels_per_side": 3,
    "level_notional": "50",
    "base_spacing_bps": "20",
    "vol_spacing_coeff": "0.5",
    "reset_delta_pct": "0.5",
    "widen_enter_vol_bps": "40",
    "widen_exit_vol_bps": "30",
    "tighten_enter_vol_bps": "5",
    "tighten_exit_vol_bps": "10",
    "pause_enter_vol_bps": "120",
    "pause_exit_vol_bps": "80"
  },
  "router": {"amend_tolerance_bps": "10", "amend_allowed": true},
  "budget": {"daily_call_cap": 500, "daily_notional_cap": "100000"},
  "recon": {"mode": "plan-only"}
}`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeTemp(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "grinder", cfg.StrategyID)
	assert.Equal(t, int64(1000), cfg.Gates.RateWindowMs)
	assert.Equal(t, int64(300), cfg.Breaker.WindowSec)
	assert.Equal(t, "plan-only", cfg.Recon.Mode)
	assert.Equal(t, []string{"BNBUSDT"}, cfg.Router.Allowlist, "allowlist defaults to configured symbols")
	assert.Equal(t, int64(10000)/3, cfg.Leader.RenewEveryMs)
	assert.True(t, cfg.Gates.MaxSpreadBps.Equal(decimalFromTest("30")))
}

func TestLoadConfigRejectsMissingRules(t *testing.T) {
	broken := `{"symbols": ["BNBUSDT"], "policy": {"level_notional": "50", "base_spacing_bps": "20"}}`
	_, err := LoadConfig(writeTemp(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing venue rules")
}

func TestLoadConfigRejectsInvertedHysteresis(t *testing.T) {
	inverted := `{
	  "symbols": ["BNBUSDT"],
	  "rules": {"BNBUSDT": {"tick_size": "0.01"}},
	  "policy": {
	    "level_notional": "50", "base_spacing_bps": "20",
	    "widen_enter_vol_bps": "10", "widen_exit_vol_bps": "40"
	  }
	}`
	_, err := LoadConfig(writeTemp(t, inverted))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "widen_enter_vol_bps")
}

func TestLoadConfigRejectsInvertedTightenBand(t *testing.T) {
	inverted := `{
	  "symbols": ["BNBUSDT"],
	  "rules": {"BNBUSDT": {"tick_size": "0.01"}},
	  "policy": {
	    "level_notional": "50", "base_spacing_bps": "20",
	    "tighten_enter_vol_bps": "10", "tighten_exit_vol_bps": "5"
	  }
	}`
	_, err := LoadConfig(writeTemp(t, inverted))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tighten_exit_vol_bps")
}

func TestLoadConfigRejectsUnknownReconMode(t *testing.T) {
	bad := `{
	  "symbols": ["BNBUSDT"],
	  "rules": {"BNBUSDT": {"tick_size": "0.01"}},
	  "policy": {"level_notional": "50", "base_spacing_bps": "20"},
	  "recon": {"mode": "yolo"}
	}`
	_, err := LoadConfig(writeTemp(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown recon mode")
}
