// Package recon verifies that local belief (open orders, position) matches
// what the venue reports, and drives staged remediation. Detection is
// always read-only and safe to run on any instance; submission goes through
// the same budget, lifecycle and leader gates as ordinary trading actions.
package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/exchange"
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/router"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mode is the rollout stage of remediation capability. The mode comes from
// configuration; this engine never escalates it on its own.
type Mode string

const (
	ModeDetectOnly       Mode = "detect-only"
	ModePlanOnly         Mode = "plan-only"
	ModeBlocked          Mode = "blocked"
	ModeExecuteCancelAll Mode = "execute-cancel-all"
	ModeExecuteFlatten   Mode = "execute-flatten"
)

// Submitter is the single submission path shared with the trading pipeline.
// It applies the budget, lifecycle and leader gates; remediation has no
// privileged bypass.
type Submitter interface {
	Submit(ctx context.Context, symbol string, d models.RouterDecision, ts time.Time) error
}

// PositionSource exposes the pipeline's belief of the net position.
type PositionSource interface {
	ExpectedPosition(symbol string) decimal.Decimal
}

// Engine runs one reconciliation pass per symbol on a fixed cadence.
type Engine struct {
	cfg       models.ReconConfig
	rules     map[string]models.SymbolRules
	port      exchange.Port
	view      *router.OpenOrderView
	positions PositionSource
	submit    Submitter
	metrics   *telemetry.Metrics
	logger    *zap.SugaredLogger

	// onPositionReduced fires when the venue reports a smaller absolute
	// position than we expect, which is the observed signal that risk
	// came off (a flatten landed or an external close happened).
	onPositionReduced func(symbol string, delta decimal.Decimal)

	seq uint64
}

func NewEngine(cfg models.ReconConfig, rules map[string]models.SymbolRules, port exchange.Port, view *router.OpenOrderView, positions PositionSource, submit Submitter, metrics *telemetry.Metrics, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		cfg:       cfg,
		rules:     rules,
		port:      port,
		view:      view,
		positions: positions,
		submit:    submit,
		metrics:   metrics,
		logger:    logger,
	}
}

// OnPositionReduced registers the lifecycle callback.
func (e *Engine) OnPositionReduced(fn func(symbol string, delta decimal.Decimal)) {
	e.onPositionReduced = fn
}

// Run drives passes for every symbol on the configured cadence until ctx
// is cancelled. refPrice supplies the current reference price per symbol.
func (e *Engine) Run(ctx context.Context, symbols []string, refPrice func(symbol string) decimal.Decimal) {
	ticker := time.NewTicker(time.Duration(e.cfg.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sym := range symbols {
				if _, _, err := e.RunOnce(ctx, sym, refPrice(sym), now); err != nil {
					e.logger.Errorw("reconciliation pass failed", "symbol", sym, "error", err)
				}
			}
		}
	}
}

// RunOnce performs one detect, plan, execute pass for the symbol.
// refPrice prices a flatten order when one is planned; ts stamps the pass
// and the client ids it mints. The returned plan is what the pass computed,
// whether or not the mode allowed submitting it.
func (e *Engine) RunOnce(ctx context.Context, symbol string, refPrice decimal.Decimal, ts time.Time) (models.ReconciliationDelta, []models.RouterDecision, error) {
	delta, venueOrders, venuePos, err := e.detect(ctx, symbol)
	if err != nil {
		return models.ReconciliationDelta{}, nil, err
	}

	if e.metrics != nil {
		e.metrics.ReconDeltas.WithLabelValues(delta.Severity.String()).Inc()
	}
	if !delta.Clean() {
		e.logger.Warnw("reconciliation mismatch",
			"symbol", symbol,
			"severity", delta.Severity,
			"positionDelta", delta.PositionDelta.String(),
			"missingOnVenue", delta.MissingOnVenue,
			"unknownOnVenue", delta.UnknownOnVenue)
	}

	expected := e.positions.ExpectedPosition(symbol)
	if e.onPositionReduced != nil && venuePos.Abs().LessThan(expected.Abs()) {
		e.onPositionReduced(symbol, delta.PositionDelta)
	}

	mode := Mode(e.cfg.Mode)
	if delta.Clean() || mode == ModeDetectOnly {
		return delta, nil, nil
	}

	plan := e.plan(mode, symbol, venueOrders, venuePos, refPrice, ts)
	switch mode {
	case ModePlanOnly:
		e.logPlan(symbol, plan, "plan-only stage, not submitting")
		return delta, plan, nil
	case ModeBlocked:
		e.logPlan(symbol, plan, "remediation blocked by rollout stage")
		return delta, plan, nil
	}

	if !e.cfg.Armed {
		e.logPlan(symbol, plan, "operator arming flag not set")
		return delta, plan, nil
	}
	for _, d := range plan {
		if err := e.submit.Submit(ctx, symbol, d, ts); err != nil {
			return delta, plan, fmt.Errorf("remediation %s: %w", d.Kind, err)
		}
	}
	return delta, plan, nil
}

// detect is the read-only path. It never mutates the order view.
func (e *Engine) detect(ctx context.Context, symbol string) (models.ReconciliationDelta, []models.OpenOrder, decimal.Decimal, error) {
	venueOrders, err := e.port.QueryOpenOrders(ctx, symbol)
	if err != nil {
		return models.ReconciliationDelta{}, nil, decimal.Zero, fmt.Errorf("query open orders: %w", err)
	}
	venuePos, err := e.port.QueryPosition(ctx, symbol)
	if err != nil {
		return models.ReconciliationDelta{}, nil, decimal.Zero, fmt.Errorf("query position: %w", err)
	}

	local := e.view.Snapshot(symbol)
	onVenue := make(map[string]bool, len(venueOrders))
	for _, o := range venueOrders {
		onVenue[o.OrderID] = true
	}
	known := make(map[string]bool, len(local))
	for _, o := range local {
		known[o.OrderID] = true
	}

	delta := models.ReconciliationDelta{Symbol: symbol}
	for _, o := range local {
		if !onVenue[o.OrderID] {
			delta.MissingOnVenue = append(delta.MissingOnVenue, o.OrderID)
		}
	}
	for _, o := range venueOrders {
		if !known[o.OrderID] {
			delta.UnknownOnVenue = append(delta.UnknownOnVenue, o.OrderID)
		}
	}
	delta.PositionDelta = venuePos.Sub(e.positions.ExpectedPosition(symbol))

	// Severity only ratchets up within a pass.
	sev := models.SeverityNone
	if !delta.PositionDelta.IsZero() {
		sev = sev.Max(models.SeverityInfo)
	}
	if len(delta.MissingOnVenue) > 0 || len(delta.UnknownOnVenue) > 0 {
		sev = sev.Max(models.SeverityWarn)
	}
	if delta.PositionDelta.Abs().GreaterThan(e.cfg.PositionTolerance) {
		sev = sev.Max(models.SeverityCritical)
	}
	delta.Severity = sev
	return delta, venueOrders, venuePos, nil
}

// plan computes the remediation decision set without submitting anything.
// Cancel-all targets every order the venue reports, including ones we do
// not know about. Flatten adds one reduce-only order closing the venue's
// position at refPrice.
func (e *Engine) plan(mode Mode, symbol string, venueOrders []models.OpenOrder, venuePos, refPrice decimal.Decimal, ts time.Time) []models.RouterDecision {
	var plan []models.RouterDecision
	for _, o := range venueOrders {
		plan = append(plan, models.RouterDecision{
			Kind:          models.DecisionCancel,
			Reason:        models.DecisionReasonRemediation,
			TargetOrderID: o.OrderID,
		})
	}

	wantFlatten := mode == ModeExecuteFlatten || mode == ModePlanOnly || mode == ModeBlocked
	if !wantFlatten || venuePos.IsZero() || refPrice.IsZero() {
		return plan
	}

	side := models.Sell
	if venuePos.IsNegative() {
		side = models.Buy
	}
	qty := venuePos.Abs()
	price := refPrice
	if rules, ok := e.rules[symbol]; ok {
		qty = rules.RoundQtyToStep(qty)
		price = rules.RoundPriceToTick(price)
	}
	if qty.IsZero() {
		return plan
	}

	e.seq++
	intent := models.NewOrderIntent("recon", symbol, side, price, qty, e.seq, ts)
	intent.ReduceOnly = true
	plan = append(plan, models.RouterDecision{
		Kind:   models.DecisionPlace,
		Reason: models.DecisionReasonFlatten,
		Intent: &intent,
	})
	return plan
}

func (e *Engine) logPlan(symbol string, plan []models.RouterDecision, why string) {
	kinds := make([]string, len(plan))
	for i, d := range plan {
		kinds[i] = string(d.Kind)
	}
	e.logger.Infow("remediation plan held", "symbol", symbol, "plan", kinds, "why", why)
}
