package models

import "github.com/shopspring/decimal"

// Config defines every tunable of the control plane. Loaded from a JSON
// file; decimal fields are decimal strings in the file, never binary floats.
type Config struct {
	StrategyID string   `json:"strategy_id"`
	Symbols    []string `json:"symbols"`
	DBPath     string   `json:"db_path"`

	Rules map[string]SymbolRules `json:"rules"` // per-symbol venue constraints

	Gates   GateConfig    `json:"gates"`
	Policy  PolicyConfig  `json:"policy"`
	Router  RouterConfig  `json:"router"`
	Budget  BudgetConfig  `json:"budget"`
	Breaker BreakerConfig `json:"breaker"`
	Leader  LeaderConfig  `json:"leader"`
	Recon   ReconConfig   `json:"recon"`

	Live LiveConfig `json:"live"`
	Log  LogConfig  `json:"log"`

	MetricsAddr string `json:"metrics_addr"` // e.g. ":9090", empty disables the endpoint
}

// GateConfig tunes the gating pipeline.
type GateConfig struct {
	MaxEventsPerWindow int             `json:"max_events_per_window"`
	RateWindowMs       int64           `json:"rate_window_ms"`
	MaxSpreadBps       decimal.Decimal `json:"max_spread_bps"`
	FillProbThreshold  decimal.Decimal `json:"fill_prob_threshold"` // opaque offline-model output; zero disables the gate
}

// PolicyConfig tunes regime selection and grid shaping.
type PolicyConfig struct {
	LevelsPerSide   int             `json:"levels_per_side"`
	LevelNotional   decimal.Decimal `json:"level_notional"`  // quote value per level
	BaseSpacingBps  decimal.Decimal `json:"base_spacing_bps"`
	VolSpacingCoeff decimal.Decimal `json:"vol_spacing_coeff"` // extra spacing bps per vol bps
	ResetDeltaPct   decimal.Decimal `json:"reset_delta_pct"`   // spacing jump (fraction) that forces an explicit reset

	// Hysteresis bands on the realized-vol signal (bps). Enter thresholds
	// must exceed exit thresholds so the regime cannot chatter at a boundary.
	WidenEnterVolBps   decimal.Decimal `json:"widen_enter_vol_bps"`
	WidenExitVolBps    decimal.Decimal `json:"widen_exit_vol_bps"`
	TightenEnterVolBps decimal.Decimal `json:"tighten_enter_vol_bps"`
	TightenExitVolBps  decimal.Decimal `json:"tighten_exit_vol_bps"`
	PauseEnterVolBps   decimal.Decimal `json:"pause_enter_vol_bps"`
	PauseExitVolBps    decimal.Decimal `json:"pause_exit_vol_bps"`

	VolSamples int `json:"vol_samples"` // rolling window length for the vol estimator
}

// RouterConfig tunes the execution router.
type RouterConfig struct {
	AmendToleranceBps decimal.Decimal `json:"amend_tolerance_bps"`
	AmendAllowed      bool            `json:"amend_allowed"`
	Allowlist         []string        `json:"allowlist"`
}

// BudgetConfig sets the daily safety caps. MaxDailyLossQuote is the
// realized-loss threshold of the drawdown guard; zero disables it.
type BudgetConfig struct {
	DailyCallCap      int64           `json:"daily_call_cap"`
	DailyNotionalCap  decimal.Decimal `json:"daily_notional_cap"`
	MaxDailyLossQuote decimal.Decimal `json:"max_daily_loss_quote"`
}

// BreakerConfig tunes the block-rate circuit breaker.
type BreakerConfig struct {
	WindowSec          int64           `json:"window_sec"`
	BlockRateThreshold decimal.Decimal `json:"block_rate_threshold"` // e.g. "1" trips on a 100% block rate
	MinSamples         int             `json:"min_samples"`
}

// LeaderConfig tunes the lease-based mutual exclusion.
type LeaderConfig struct {
	LeaseTTLMs    int64 `json:"lease_ttl_ms"`
	RenewEveryMs  int64 `json:"renew_every_ms"`
	ClockSkewMs   int64 `json:"clock_skew_ms"`
}

// ReconConfig tunes the reconciliation engine. Mode is the staged-rollout
// dial; it is external configuration, never computed at runtime.
type ReconConfig struct {
	Mode              string          `json:"mode"` // detect-only|plan-only|blocked|execute-cancel-all|execute-flatten
	IntervalSec       int64           `json:"interval_sec"`
	PositionTolerance decimal.Decimal `json:"position_tolerance"`
	Armed             bool            `json:"armed"` // explicit operator arming flag for the execute path
}

// LiveConfig selects venue endpoints for live mode. Keys come from the
// environment, never from this file.
type LiveConfig struct {
	UseTestnet bool `json:"use_testnet"`
}

// LogConfig defines logging output, mirroring the zap + lumberjack setup.
type LogConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // console, file, both
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"`    // MB per file
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`
}
