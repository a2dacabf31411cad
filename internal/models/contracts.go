// Package models holds the immutable value objects shared by every component
// of the decision pipeline. All monetary and quantity fields use
// shopspring/decimal; float64 is forbidden here so that two runs over the
// same input stream stay byte-identical across platforms.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trading direction of an order or level.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

var bpsFactor = decimal.NewFromInt(10000)

// Snapshot is one market observation. Timestamps are strictly non-decreasing
// per symbol within a stream; the feed reader enforces this on ingestion.
type Snapshot struct {
	TS        time.Time       `json:"ts"`
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	BidQty    decimal.Decimal `json:"bid_qty"`
	AskQty    decimal.Decimal `json:"ask_qty"`
	LastPrice decimal.Decimal `json:"last_price"`
	LastQty   decimal.Decimal `json:"last_qty"`
}

// Mid returns the bid/ask midpoint.
func (s Snapshot) Mid() decimal.Decimal {
	return s.BidPrice.Add(s.AskPrice).Div(decimal.NewFromInt(2))
}

// SpreadBps returns the bid/ask spread in basis points of the midpoint.
// Returns zero when the book is empty or crossed to zero.
func (s Snapshot) SpreadBps() decimal.Decimal {
	mid := s.Mid()
	if mid.IsZero() {
		return decimal.Zero
	}
	return s.AskPrice.Sub(s.BidPrice).Mul(bpsFactor).Div(mid)
}

// GatingResult is the verdict of one gate for one snapshot.
type GatingResult struct {
	Gate     GateID
	Verdict  Verdict
	Reason   GateReason
	Observed decimal.Decimal // the metric the gate looked at (spread bps, rate, probability, ...)
}

// GridLevel is one desired resting order of a grid plan.
type GridLevel struct {
	Side  Side
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// GridPlan is the desired order ladder for one symbol at one instant.
// Levels are ordered by price ascending. A reset is always explicit and
// carries a reason code; it is never inferred downstream.
type GridPlan struct {
	TS          time.Time
	Symbol      string
	Regime      Regime
	SpacingBps  decimal.Decimal
	Levels      []GridLevel
	Reset       bool
	ResetReason PlanReason
}

// OpenOrder is the local belief of one resting order on the venue.
// The Version field supports compare-and-check updates so the main pipeline
// and the reconciliation task never clobber each other on the same entry.
type OpenOrder struct {
	OrderID   string
	Intent    OrderIntent
	Version   uint64
	UpdatedTS time.Time
}

// Notional returns |price*qty| of the resting order.
func (o OpenOrder) Notional() decimal.Decimal {
	return o.Intent.Price.Mul(o.Intent.Qty).Abs()
}

// RouterDecision is one minimal action chosen by the execution router.
// IncreasesRisk is computed at construction against the order view the
// decision was derived from; it never flips afterwards.
type RouterDecision struct {
	Kind          DecisionKind
	Reason        DecisionReason
	TargetOrderID string       // set for AMEND, CANCEL_REPLACE, CANCEL
	Intent        *OrderIntent // nil for NOOP and CANCEL
	IncreasesRisk bool
}

// ReconciliationDelta is the expected-vs-observed mismatch for one symbol.
type ReconciliationDelta struct {
	TS             time.Time
	Symbol         string
	PositionDelta  decimal.Decimal // observed minus expected base quantity
	MissingOnVenue []string        // order ids we believe in but the venue does not report
	UnknownOnVenue []string        // order ids the venue reports but we do not know
	Severity       Severity
}

// Clean reports whether the delta requires no remediation.
func (d ReconciliationDelta) Clean() bool {
	return d.PositionDelta.IsZero() && len(d.MissingOnVenue) == 0 && len(d.UnknownOnVenue) == 0
}

// BudgetState is the persisted daily usage record of the safety budget.
// Counters never go negative; resets are explicit events.
type BudgetState struct {
	CallsUsed    int64           `json:"calls_used"`
	NotionalUsed decimal.Decimal `json:"notional_used"`
	CallCap      int64           `json:"call_cap"`
	NotionalCap  decimal.Decimal `json:"notional_cap"`
	LastResetTS  time.Time       `json:"last_reset_ts"`
}

// RoundTrip is one completed open->close position cycle with its realized
// economics. A round trip is closed exactly once and immutable afterwards.
type RoundTrip struct {
	Symbol      string
	OpenTS      time.Time
	CloseTS     time.Time
	Qty         decimal.Decimal
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Fees        decimal.Decimal
	Slippage    decimal.Decimal
	RealizedPnL decimal.Decimal
}

// SymbolRules are the venue constraints every produced price and quantity
// must satisfy.
type SymbolRules struct {
	TickSize    decimal.Decimal `json:"tick_size"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// RoundPriceToTick rounds the price down to the nearest tick.
func (r SymbolRules) RoundPriceToTick(p decimal.Decimal) decimal.Decimal {
	if r.TickSize.IsZero() {
		return p
	}
	return p.Div(r.TickSize).Floor().Mul(r.TickSize)
}

// RoundQtyToStep rounds the quantity down to the nearest lot step.
func (r SymbolRules) RoundQtyToStep(q decimal.Decimal) decimal.Decimal {
	if r.StepSize.IsZero() {
		return q
	}
	return q.Div(r.StepSize).Floor().Mul(r.StepSize)
}

// Validate reports whether (price, qty) satisfies tick, step, min quantity
// and min notional for this symbol.
func (r SymbolRules) Validate(price, qty decimal.Decimal) bool {
	if !r.TickSize.IsZero() && !price.Mod(r.TickSize).IsZero() {
		return false
	}
	if !r.StepSize.IsZero() && !qty.Mod(r.StepSize).IsZero() {
		return false
	}
	if !r.MinQty.IsZero() && qty.LessThan(r.MinQty) {
		return false
	}
	if !r.MinNotional.IsZero() && price.Mul(qty).LessThan(r.MinNotional) {
		return false
	}
	return true
}
