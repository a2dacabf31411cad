package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
)

// LoadConfig reads the JSON config file, applies defaults and validates it.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.StrategyID == "" {
		cfg.StrategyID = "grinder"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "grinder_db"
	}
	if cfg.Gates.RateWindowMs == 0 {
		cfg.Gates.RateWindowMs = 1000
	}
	if cfg.Gates.MaxEventsPerWindow == 0 {
		cfg.Gates.MaxEventsPerWindow = 20
	}
	if cfg.Policy.LevelsPerSide == 0 {
		cfg.Policy.LevelsPerSide = 3
	}
	if cfg.Policy.VolSamples == 0 {
		cfg.Policy.VolSamples = 60
	}
	if cfg.Budget.DailyCallCap == 0 {
		cfg.Budget.DailyCallCap = 10000
	}
	if cfg.Budget.DailyNotionalCap.IsZero() {
		cfg.Budget.DailyNotionalCap = decimal.NewFromInt(1_000_000)
	}
	if cfg.Breaker.WindowSec == 0 {
		cfg.Breaker.WindowSec = 300
	}
	if cfg.Breaker.BlockRateThreshold.IsZero() {
		cfg.Breaker.BlockRateThreshold = decimal.NewFromInt(1)
	}
	if cfg.Breaker.MinSamples == 0 {
		cfg.Breaker.MinSamples = 10
	}
	if cfg.Leader.LeaseTTLMs == 0 {
		cfg.Leader.LeaseTTLMs = 10000
	}
	if cfg.Leader.RenewEveryMs == 0 {
		cfg.Leader.RenewEveryMs = cfg.Leader.LeaseTTLMs / 3
	}
	if cfg.Leader.ClockSkewMs == 0 {
		cfg.Leader.ClockSkewMs = 500
	}
	if cfg.Recon.Mode == "" {
		cfg.Recon.Mode = "detect-only"
	}
	if cfg.Recon.IntervalSec == 0 {
		cfg.Recon.IntervalSec = 30
	}
	if len(cfg.Router.Allowlist) == 0 {
		cfg.Router.Allowlist = cfg.Symbols
	}
}

// Validate rejects configs that would make the pipeline unsafe or
// non-deterministic.
func Validate(cfg *models.Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol is required")
	}
	for _, sym := range cfg.Symbols {
		if _, ok := cfg.Rules[sym]; !ok {
			return fmt.Errorf("config: missing venue rules for symbol %s", sym)
		}
	}
	if cfg.Policy.BaseSpacingBps.Sign() <= 0 {
		return fmt.Errorf("config: policy.base_spacing_bps must be positive")
	}
	if cfg.Policy.LevelNotional.Sign() <= 0 {
		return fmt.Errorf("config: policy.level_notional must be positive")
	}
	// Hysteresis bands must not invert, otherwise the regime chatters.
	p := cfg.Policy
	if p.WidenEnterVolBps.LessThan(p.WidenExitVolBps) {
		return fmt.Errorf("config: widen_enter_vol_bps below widen_exit_vol_bps")
	}
	if p.PauseEnterVolBps.LessThan(p.PauseExitVolBps) {
		return fmt.Errorf("config: pause_enter_vol_bps below pause_exit_vol_bps")
	}
	// TIGHTEN enters below the enter threshold and holds until vol rises
	// past the exit threshold, so the exit must sit at or above the enter.
	if !p.TightenExitVolBps.IsZero() && p.TightenExitVolBps.LessThan(p.TightenEnterVolBps) {
		return fmt.Errorf("config: tighten_exit_vol_bps below tighten_enter_vol_bps")
	}
	switch cfg.Recon.Mode {
	case "detect-only", "plan-only", "blocked", "execute-cancel-all", "execute-flatten":
	default:
		return fmt.Errorf("config: unknown recon mode %q", cfg.Recon.Mode)
	}
	return nil
}
