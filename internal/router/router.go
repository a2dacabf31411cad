// Package router converges the venue toward a desired grid plan with the
// minimal-risk set of actions. Given the same (plan, order view, constraints)
// it always produces the same decisions in the same order.
package router

import (
	"fmt"
	"sort"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var tenK = decimal.NewFromInt(10000)

// IntentFactory mints an OrderIntent for a new desired order. The engine
// supplies one backed by its per-symbol sequence counter so client ids stay
// deterministic under replay.
type IntentFactory func(side models.Side, price, qty decimal.Decimal) models.OrderIntent

// Router owns the OpenOrderView and derives decisions from it. Routing is
// pure: the view is only read here and mutated once the venue acknowledges.
type Router struct {
	cfg       models.RouterConfig
	rules     map[string]models.SymbolRules
	allowlist map[string]bool
	view      *OpenOrderView
	metrics   *telemetry.Metrics
	logger    *zap.SugaredLogger
}

// New builds a router over the given view.
func New(cfg models.RouterConfig, rules map[string]models.SymbolRules, view *OpenOrderView, metrics *telemetry.Metrics, logger *zap.SugaredLogger) *Router {
	allow := make(map[string]bool, len(cfg.Allowlist))
	for _, s := range cfg.Allowlist {
		allow[s] = true
	}
	return &Router{cfg: cfg, rules: rules, allowlist: allow, view: view, metrics: metrics, logger: logger}
}

// View exposes the order view to its other authorized mutator, the
// reconciliation engine.
func (r *Router) View() *OpenOrderView {
	return r.view
}

// Route compares the desired plan against the current order view and emits
// the minimal decision set. riskLocked reflects an active drawdown or
// kill-switch gate: with it set, no emitted decision may increase the open
// notional on either side.
func (r *Router) Route(plan models.GridPlan, riskLocked bool, newIntent IntentFactory) ([]models.RouterDecision, error) {
	if !r.allowlist[plan.Symbol] {
		return nil, fmt.Errorf("router: symbol %s not in active allowlist", plan.Symbol)
	}
	rules := r.rules[plan.Symbol]

	open := r.view.Snapshot(plan.Symbol)
	var decisions []models.RouterDecision
	for _, side := range []models.Side{models.Buy, models.Sell} {
		decisions = append(decisions, r.routeSide(plan, side, open, rules, newIntent)...)
	}

	if riskLocked {
		kept := decisions[:0]
		for _, d := range decisions {
			if d.IncreasesRisk {
				r.logger.Infow("suppressing risk-increasing decision under risk lock",
					"symbol", plan.Symbol, "decision", d.Kind, "reason", d.Reason)
				continue
			}
			kept = append(kept, d)
		}
		decisions = kept
	}

	for _, d := range decisions {
		if r.metrics != nil {
			r.metrics.ObserveDecision(d)
		}
		r.logDecision(plan.Symbol, d)
	}
	return decisions, nil
}

// routeSide pairs desired levels with open orders of one side, both sorted
// by price ascending, and classifies each pair.
func (r *Router) routeSide(plan models.GridPlan, side models.Side, open []models.OpenOrder, rules models.SymbolRules, newIntent IntentFactory) []models.RouterDecision {
	var desired []models.GridLevel
	for _, lvl := range plan.Levels {
		if lvl.Side == side {
			desired = append(desired, lvl)
		}
	}
	var resting []models.OpenOrder
	for _, o := range open {
		if o.Intent.Side == side {
			resting = append(resting, o)
		}
	}
	sort.Slice(resting, func(i, j int) bool {
		if !resting[i].Intent.Price.Equal(resting[j].Intent.Price) {
			return resting[i].Intent.Price.LessThan(resting[j].Intent.Price)
		}
		return resting[i].OrderID < resting[j].OrderID
	})

	var out []models.RouterDecision
	n := len(desired)
	if len(resting) < n {
		n = len(resting)
	}

	for i := 0; i < n; i++ {
		out = append(out, r.classifyPair(resting[i], desired[i], rules, newIntent))
	}
	// Open orders with no desired counterpart are stale.
	for i := n; i < len(resting); i++ {
		out = append(out, models.RouterDecision{
			Kind:          models.DecisionCancel,
			Reason:        models.DecisionReasonStaleOrder,
			TargetOrderID: resting[i].OrderID,
		})
	}
	// Desired levels with no resting counterpart are new.
	for i := n; i < len(desired); i++ {
		lvl := desired[i]
		if !rules.Validate(lvl.Price, lvl.Qty) {
			r.logger.Warnw("dropping level violating venue rules",
				"symbol", plan.Symbol, "side", lvl.Side, "price", lvl.Price, "qty", lvl.Qty)
			continue
		}
		intent := newIntent(lvl.Side, lvl.Price, lvl.Qty)
		out = append(out, models.RouterDecision{
			Kind:          models.DecisionPlace,
			Reason:        models.DecisionReasonNewLevel,
			Intent:        &intent,
			IncreasesRisk: true,
		})
	}
	return out
}

func (r *Router) classifyPair(cur models.OpenOrder, want models.GridLevel, rules models.SymbolRules, newIntent IntentFactory) models.RouterDecision {
	driftBps := decimal.Zero
	if !want.Price.IsZero() {
		driftBps = cur.Intent.Price.Sub(want.Price).Abs().Mul(tenK).Div(want.Price)
	}
	withinTolerance := driftBps.LessThanOrEqual(r.cfg.AmendToleranceBps)

	// NOOP is reserved for an order already sitting exactly on the level.
	// Any drift, however small, converges via AMEND while the tolerance
	// still allows it.
	if cur.Intent.Price.Equal(want.Price) && cur.Intent.Qty.Equal(want.Qty) {
		return models.RouterDecision{
			Kind:          models.DecisionNoop,
			Reason:        models.DecisionReasonInTolerance,
			TargetOrderID: cur.OrderID,
		}
	}

	intent := newIntent(want.Side, want.Price, want.Qty)
	increases := intent.Notional().GreaterThan(cur.Notional())

	if withinTolerance {
		if !r.cfg.AmendAllowed {
			return models.RouterDecision{
				Kind:          models.DecisionCancelReplace,
				Reason:        models.DecisionReasonAmendBlocked,
				TargetOrderID: cur.OrderID,
				Intent:        &intent,
				IncreasesRisk: increases,
			}
		}
		return models.RouterDecision{
			Kind:          models.DecisionAmend,
			Reason:        models.DecisionReasonPriceDrift,
			TargetOrderID: cur.OrderID,
			Intent:        &intent,
			IncreasesRisk: increases,
		}
	}

	return models.RouterDecision{
		Kind:          models.DecisionCancelReplace,
		Reason:        models.DecisionReasonExcessDrift,
		TargetOrderID: cur.OrderID,
		Intent:        &intent,
		IncreasesRisk: increases,
	}
}

func (r *Router) logDecision(symbol string, d models.RouterDecision) {
	fields := []interface{}{"symbol", symbol, "decision", string(d.Kind), "reason", string(d.Reason)}
	if d.TargetOrderID != "" {
		fields = append(fields, "target", d.TargetOrderID)
	}
	if d.Intent != nil {
		fields = append(fields, "price", d.Intent.Price.String(), "qty", d.Intent.Qty.String(), "client_id", d.Intent.ClientID)
	}
	r.logger.Infow("router decision", fields...)
}
