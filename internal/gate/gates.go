package gate

import (
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
)

// Context carries the per-event decision inputs that are produced outside
// the pipeline: the drawdown/kill-switch flags owned by risk accounting and
// the fill probability produced by the offline model (opaque here).
type Context struct {
	DrawdownActive  bool
	KillSwitch      bool
	FillProbability decimal.Decimal
	FillThreshold   decimal.Decimal
}

// Gate is one stage of the pipeline. A gate is a pure function of the
// snapshot and its own rolling state; gates never call the exchange.
type Gate interface {
	ID() models.GateID
	Check(snap models.Snapshot, ctx Context) models.GatingResult
}

// rateGate blocks when too many events arrived inside the rolling window.
// The window is measured on snapshot timestamps, not wall clock, so replays
// reproduce the live verdicts exactly.
type rateGate struct {
	window    time.Duration
	maxEvents int
	recent    []time.Time
}

func newRateGate(cfg models.GateConfig) *rateGate {
	return &rateGate{
		window:    time.Duration(cfg.RateWindowMs) * time.Millisecond,
		maxEvents: cfg.MaxEventsPerWindow,
	}
}

func (g *rateGate) ID() models.GateID { return models.GateRateLimit }

func (g *rateGate) Check(snap models.Snapshot, _ Context) models.GatingResult {
	cutoff := snap.TS.Add(-g.window)
	kept := g.recent[:0]
	for _, ts := range g.recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.recent = append(kept, snap.TS)

	observed := decimal.NewFromInt(int64(len(g.recent)))
	if g.maxEvents > 0 && len(g.recent) > g.maxEvents {
		return models.GatingResult{
			Gate:     g.ID(),
			Verdict:  models.VerdictBlock,
			Reason:   models.ReasonEventRateExceeded,
			Observed: observed,
		}
	}
	return models.GatingResult{Gate: g.ID(), Verdict: models.VerdictAllow, Reason: models.ReasonOK, Observed: observed}
}

// drawdownGate blocks while the drawdown guard or the kill switch is active.
type drawdownGate struct{}

func (drawdownGate) ID() models.GateID { return models.GateDrawdown }

func (drawdownGate) Check(_ models.Snapshot, ctx Context) models.GatingResult {
	switch {
	case ctx.KillSwitch:
		return models.GatingResult{Gate: models.GateDrawdown, Verdict: models.VerdictBlock, Reason: models.ReasonKillSwitch, Observed: decimal.NewFromInt(1)}
	case ctx.DrawdownActive:
		return models.GatingResult{Gate: models.GateDrawdown, Verdict: models.VerdictBlock, Reason: models.ReasonDrawdownActive, Observed: decimal.NewFromInt(1)}
	default:
		return models.GatingResult{Gate: models.GateDrawdown, Verdict: models.VerdictAllow, Reason: models.ReasonOK, Observed: decimal.Zero}
	}
}

// toxicityGate blocks when the quoted spread signals short-term adverse
// selection risk.
type toxicityGate struct {
	maxSpreadBps decimal.Decimal
}

func (g toxicityGate) ID() models.GateID { return models.GateToxicity }

func (g toxicityGate) Check(snap models.Snapshot, _ Context) models.GatingResult {
	spread := snap.SpreadBps()
	if !g.maxSpreadBps.IsZero() && spread.GreaterThan(g.maxSpreadBps) {
		return models.GatingResult{Gate: g.ID(), Verdict: models.VerdictBlock, Reason: models.ReasonWideSpread, Observed: spread}
	}
	return models.GatingResult{Gate: g.ID(), Verdict: models.VerdictAllow, Reason: models.ReasonOK, Observed: spread}
}

// fillProbGate blocks when the externally supplied fill probability is below
// threshold. The probability itself is an opaque model output.
type fillProbGate struct{}

func (fillProbGate) ID() models.GateID { return models.GateFillProb }

func (fillProbGate) Check(_ models.Snapshot, ctx Context) models.GatingResult {
	if !ctx.FillThreshold.IsZero() && ctx.FillProbability.LessThan(ctx.FillThreshold) {
		return models.GatingResult{Gate: models.GateFillProb, Verdict: models.VerdictBlock, Reason: models.ReasonLowFillProbability, Observed: ctx.FillProbability}
	}
	return models.GatingResult{Gate: models.GateFillProb, Verdict: models.VerdictAllow, Reason: models.ReasonOK, Observed: ctx.FillProbability}
}
