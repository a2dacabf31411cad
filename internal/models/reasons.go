package models

// Every enum in this file is a closed, append-only set. Values are part of
// the telemetry and audit-log contract: new values may be appended, existing
// values must never be renamed or removed.

// GateID identifies one gate of the gating pipeline, in evaluation order.
type GateID string

const (
	GateRateLimit GateID = "RATE_LIMIT"
	GateDrawdown  GateID = "DRAWDOWN"
	GateToxicity  GateID = "TOXICITY"
	GateFillProb  GateID = "FILL_PROBABILITY"
)

// Verdict is the outcome of a single gate.
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictBlock Verdict = "BLOCK"
)

// GateReason explains a gate verdict.
type GateReason string

const (
	ReasonOK                 GateReason = "OK"
	ReasonEventRateExceeded  GateReason = "EVENT_RATE_EXCEEDED"
	ReasonDrawdownActive     GateReason = "DRAWDOWN_ACTIVE"
	ReasonKillSwitch         GateReason = "KILL_SWITCH"
	ReasonWideSpread         GateReason = "WIDE_SPREAD"
	ReasonLowFillProbability GateReason = "LOW_FILL_PROBABILITY"
)

// Regime classifies market conditions for spacing selection.
type Regime string

const (
	RegimeBase    Regime = "BASE"
	RegimeWiden   Regime = "WIDEN"
	RegimeTighten Regime = "TIGHTEN"
	RegimePause   Regime = "PAUSE"
)

// PlanReason explains an explicit grid reset.
type PlanReason string

const (
	PlanReasonNone         PlanReason = ""
	PlanReasonRegimeChange PlanReason = "REGIME_CHANGE"
	PlanReasonSpacingJump  PlanReason = "SPACING_JUMP"
	PlanReasonPaused       PlanReason = "PAUSED"
)

// DecisionKind is the action chosen by the execution router for one
// (desired level, open order) comparison.
type DecisionKind string

const (
	DecisionAmend         DecisionKind = "AMEND"
	DecisionCancelReplace DecisionKind = "CANCEL_REPLACE"
	DecisionNoop          DecisionKind = "NOOP"
	DecisionPlace         DecisionKind = "PLACE"
	DecisionCancel        DecisionKind = "CANCEL"
)

// DecisionReason explains a router decision.
type DecisionReason string

const (
	DecisionReasonInTolerance  DecisionReason = "WITHIN_TOLERANCE"
	DecisionReasonPriceDrift   DecisionReason = "PRICE_DRIFT"
	DecisionReasonExcessDrift  DecisionReason = "EXCESS_DRIFT"
	DecisionReasonAmendBlocked DecisionReason = "AMEND_DISALLOWED"
	DecisionReasonNewLevel     DecisionReason = "NEW_LEVEL"
	DecisionReasonStaleOrder   DecisionReason = "STALE_ORDER"
	DecisionReasonRemediation  DecisionReason = "REMEDIATION"
	DecisionReasonFlatten      DecisionReason = "FLATTEN"
)

// BudgetDenyReason explains a denied budget reservation.
type BudgetDenyReason string

const (
	BudgetDenyNone           BudgetDenyReason = ""
	BudgetDenyDailyCallCap   BudgetDenyReason = "DAILY_CALL_CAP"
	BudgetDenyNotionalCap    BudgetDenyReason = "DAILY_NOTIONAL_CAP"
	BudgetDenyBreakerTripped BudgetDenyReason = "BREAKER_TRIPPED"
)

// Severity ranks a reconciliation mismatch. Within one reconciliation pass
// severity only escalates, never decays.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "NONE"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Max returns the higher of the two severities.
func (s Severity) Max(other Severity) Severity {
	if other > s {
		return other
	}
	return s
}
