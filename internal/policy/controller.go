// Package policy maps an admitted snapshot and its rolling features to a
// desired grid plan. Compute is a pure, replayable function: same inputs,
// same plan, no timers, no wall clock.
package policy

import (
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	tenK    = decimal.NewFromInt(10000)

	widenMultiplier   = decimal.RequireFromString("2")
	tightenMultiplier = decimal.RequireFromString("0.5")
)

// Controller computes grid plans for one strategy.
type Controller struct {
	cfg   models.PolicyConfig
	rules map[string]models.SymbolRules
}

// NewController builds a controller from policy config and venue rules.
func NewController(cfg models.PolicyConfig, rules map[string]models.SymbolRules) *Controller {
	return &Controller{cfg: cfg, rules: rules}
}

// Compute derives the desired ladder for one admitted snapshot. The prior
// plan is only consulted for hysteresis and reset detection; it is never
// mutated.
func (c *Controller) Compute(snap models.Snapshot, feat RollingFeatures, prior *models.GridPlan) models.GridPlan {
	priorRegime := models.RegimeBase
	if prior != nil {
		priorRegime = prior.Regime
	}
	regime := c.nextRegime(priorRegime, feat.VolBps)

	plan := models.GridPlan{
		TS:     snap.TS,
		Symbol: snap.Symbol,
		Regime: regime,
	}

	if regime == models.RegimePause {
		// A paused plan is an explicit, logged reset to an empty ladder.
		plan.SpacingBps = decimal.Zero
		plan.Reset = true
		plan.ResetReason = models.PlanReasonPaused
		return plan
	}

	plan.SpacingBps = c.spacingBps(regime, feat.VolBps)
	plan.Levels = c.buildLevels(snap, plan.SpacingBps)

	if prior != nil {
		switch {
		case prior.Regime != regime:
			plan.Reset = true
			plan.ResetReason = models.PlanReasonRegimeChange
		case c.spacingJumped(prior.SpacingBps, plan.SpacingBps):
			plan.Reset = true
			plan.ResetReason = models.PlanReasonSpacingJump
		}
	}
	return plan
}

// nextRegime classifies volatility with hysteresis: a regime is entered at
// its enter threshold and only left once vol crosses the matching exit
// threshold, so the boundary cannot chatter.
func (c *Controller) nextRegime(prior models.Regime, volBps decimal.Decimal) models.Regime {
	p := c.cfg

	if prior == models.RegimePause && !p.PauseExitVolBps.IsZero() {
		if volBps.GreaterThanOrEqual(p.PauseExitVolBps) {
			return models.RegimePause
		}
	}
	if !p.PauseEnterVolBps.IsZero() && volBps.GreaterThanOrEqual(p.PauseEnterVolBps) {
		return models.RegimePause
	}

	if prior == models.RegimeWiden && !p.WidenExitVolBps.IsZero() {
		if volBps.GreaterThanOrEqual(p.WidenExitVolBps) {
			return models.RegimeWiden
		}
	}
	if !p.WidenEnterVolBps.IsZero() && volBps.GreaterThanOrEqual(p.WidenEnterVolBps) {
		return models.RegimeWiden
	}

	if prior == models.RegimeTighten && !p.TightenExitVolBps.IsZero() {
		if volBps.LessThanOrEqual(p.TightenExitVolBps) {
			return models.RegimeTighten
		}
	}
	if !p.TightenEnterVolBps.IsZero() && volBps.LessThanOrEqual(p.TightenEnterVolBps) {
		return models.RegimeTighten
	}

	return models.RegimeBase
}

// spacingBps is the volatility-to-spacing formula: the regime scales the
// base spacing, and realized vol adds a linear term. Spacing is monotone in
// vol within a regime.
func (c *Controller) spacingBps(regime models.Regime, volBps decimal.Decimal) decimal.Decimal {
	spacing := c.cfg.BaseSpacingBps
	switch regime {
	case models.RegimeWiden:
		spacing = spacing.Mul(widenMultiplier)
	case models.RegimeTighten:
		spacing = spacing.Mul(tightenMultiplier)
	}
	if !c.cfg.VolSpacingCoeff.IsZero() {
		spacing = spacing.Add(c.cfg.VolSpacingCoeff.Mul(volBps))
	}
	return spacing
}

func (c *Controller) spacingJumped(prior, next decimal.Decimal) bool {
	if c.cfg.ResetDeltaPct.IsZero() || prior.IsZero() {
		return false
	}
	jump := next.Sub(prior).Abs().Div(prior)
	return jump.GreaterThan(c.cfg.ResetDeltaPct)
}

// buildLevels lays out LevelsPerSide buys below the mid and sells above it,
// ordered by price ascending, all rounded to the venue grid and sized to
// satisfy min quantity and min notional.
func (c *Controller) buildLevels(snap models.Snapshot, spacingBps decimal.Decimal) []models.GridLevel {
	rules := c.rules[snap.Symbol]
	mid := snap.Mid()
	if mid.IsZero() {
		return nil
	}
	step := mid.Mul(spacingBps).Div(tenK)

	levels := make([]models.GridLevel, 0, c.cfg.LevelsPerSide*2)
	for i := c.cfg.LevelsPerSide; i >= 1; i-- {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		price := rules.RoundPriceToTick(mid.Sub(offset))
		if price.Sign() <= 0 {
			continue
		}
		levels = append(levels, models.GridLevel{Side: models.Buy, Price: price, Qty: c.sizeLevel(price, rules)})
	}
	for i := 1; i <= c.cfg.LevelsPerSide; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		price := rules.RoundPriceToTick(mid.Add(offset))
		levels = append(levels, models.GridLevel{Side: models.Sell, Price: price, Qty: c.sizeLevel(price, rules)})
	}
	return levels
}

// sizeLevel converts the per-level notional into a venue-legal quantity.
func (c *Controller) sizeLevel(price decimal.Decimal, rules models.SymbolRules) decimal.Decimal {
	qty := rules.RoundQtyToStep(c.cfg.LevelNotional.Div(price))
	if !rules.MinQty.IsZero() && qty.LessThan(rules.MinQty) {
		qty = rules.MinQty
	}
	if !rules.MinNotional.IsZero() && price.Mul(qty).LessThan(rules.MinNotional) {
		// Round the deficit up in whole lot steps.
		needed := rules.MinNotional.Div(price)
		if !rules.StepSize.IsZero() {
			needed = needed.Div(rules.StepSize).Ceil().Mul(rules.StepSize)
		}
		qty = needed
	}
	return qty
}
