// Package engine wires the full decision chain: gates, policy, router,
// budget, lifecycle and leader checks, then the exchange port. One worker
// per symbol processes snapshots strictly in arrival order; all account-wide
// state is reached only through its owning component.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/budget"
	"github.com/bnzr-team/grinder-sub001/internal/exchange"
	"github.com/bnzr-team/grinder-sub001/internal/fsm"
	"github.com/bnzr-team/grinder-sub001/internal/gate"
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/policy"
	"github.com/bnzr-team/grinder-sub001/internal/router"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrBlocked marks a submission stopped by a safety gate rather than a
// venue failure. Blocked submissions are recorded and skipped, never
// retried.
var ErrBlocked = errors.New("submission blocked")

// LeaderSource is the slice of the leader coordinator the engine needs.
type LeaderSource interface {
	Token() (uint64, bool)
	ValidateToken(token uint64) error
}

// FillSource reports executions observed since the last call for one
// symbol. Replay runs cross the sim book against each snapshot; live runs
// poll order status for every order the view believes is resting.
type FillSource interface {
	Fills(ctx context.Context, symbol string, snap models.Snapshot) ([]exchange.Execution, error)
}

// Engine owns the per-symbol workers and the single submission path shared
// with reconciliation.
type Engine struct {
	cfg     *models.Config
	router  *router.Router
	budget  *budget.Budget
	breaker *budget.Breaker
	fsm     *fsm.Orchestrator
	leader  LeaderSource
	port    exchange.Port
	metrics *telemetry.Metrics
	logger  *zap.SugaredLogger

	digest *Digest
	trips  *RoundTripTracker
	fills  FillSource

	// fillProb estimates the fill probability the gate pipeline consumes.
	// The default is a top-of-book balance proxy; a fitted model can be
	// swapped in without touching the pipeline.
	fillProb func(models.Snapshot) decimal.Decimal

	sigMu    sync.Mutex
	drawdown bool
	kill     bool
}

func New(cfg *models.Config, r *router.Router, b *budget.Budget, br *budget.Breaker, orch *fsm.Orchestrator, ls LeaderSource, port exchange.Port, metrics *telemetry.Metrics, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		cfg:      cfg,
		router:   r,
		budget:   b,
		breaker:  br,
		fsm:      orch,
		leader:   ls,
		port:     port,
		metrics:  metrics,
		logger:   logger,
		digest:   NewDigest(),
		trips:    NewRoundTripTracker(),
		fillProb: bookBalanceProb,
	}
}

// Digest returns the run digest accumulator.
func (e *Engine) Digest() *Digest { return e.digest }

// SetFillSource wires execution detection. Without one the engine places
// and converges orders but never learns they traded.
func (e *Engine) SetFillSource(fs FillSource) { e.fills = fs }

// Trips returns the round-trip tracker, which also serves as the
// reconciliation position source.
func (e *Engine) Trips() *RoundTripTracker { return e.trips }

// SetDrawdown flips the account drawdown signal. Activation moves the
// lifecycle to DEGRADED; deactivation is left to an explicit recovery.
func (e *Engine) SetDrawdown(active bool, reason string, ts time.Time) {
	e.sigMu.Lock()
	e.drawdown = active
	e.sigMu.Unlock()
	if active {
		if err := e.fsm.Fire(fsm.EventDrawdownBreach, reason, ts); err != nil && !errors.Is(err, fsm.ErrInvalidTransition) {
			e.logger.Errorw("drawdown transition failed", "error", err)
		}
	}
}

// SetKillSwitch flips the operator kill switch.
func (e *Engine) SetKillSwitch(active bool) {
	e.sigMu.Lock()
	e.kill = active
	e.sigMu.Unlock()
}

// Run consumes snapshots from next until io.EOF or ctx cancellation,
// fanning them out to one worker per configured symbol. Returns the run
// digest.
func (e *Engine) Run(ctx context.Context, next func() (models.Snapshot, error)) (string, error) {
	var wg sync.WaitGroup
	inputs := make(map[string]chan models.Snapshot, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		ch := make(chan models.Snapshot, 256)
		inputs[sym] = ch
		w := e.newWorker(sym)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for snap := range ch {
				w.process(ctx, snap)
			}
		}()
	}
	drain := func() {
		for _, ch := range inputs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		snap, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			drain()
			return "", fmt.Errorf("feed: %w", err)
		}
		ch, ok := inputs[snap.Symbol]
		if !ok {
			continue
		}
		select {
		case ch <- snap:
		case <-ctx.Done():
			drain()
			return "", ctx.Err()
		}
	}
	drain()
	return e.digest.Sum(), nil
}

// worker holds the single-owner state for one symbol. Neither the gate
// pipeline nor the vol estimator is shared across symbols.
type worker struct {
	e        *Engine
	symbol   string
	pipeline *gate.Pipeline
	vol      *policy.VolEstimator
	policy   *policy.Controller
	prior    *models.GridPlan
	seq      uint64
}

func (e *Engine) newWorker(symbol string) *worker {
	return &worker{
		e:        e,
		symbol:   symbol,
		pipeline: gate.NewPipeline(e.cfg.Gates, e.metrics),
		vol:      policy.NewVolEstimator(e.cfg.Policy.VolSamples),
		policy:   policy.NewController(e.cfg.Policy, e.cfg.Rules),
	}
}

func (w *worker) process(ctx context.Context, snap models.Snapshot) {
	e := w.e

	// Executions are ingested before gating so the plan below already
	// reflects orders this snapshot traded through.
	if e.fills != nil {
		execs, err := e.fills.Fills(ctx, w.symbol, snap)
		if err != nil {
			e.logger.Errorw("fill detection failed", "symbol", w.symbol, "error", err)
		}
		for _, x := range execs {
			e.applyFill(x)
			e.digest.Fold(w.symbol, fmt.Sprintf("fill|%d|%s|%s|%s|%s",
				x.TS.UnixMilli(), x.OrderID, x.Side, x.Price, x.Qty))
		}
	}

	e.sigMu.Lock()
	gctx := gate.Context{
		DrawdownActive:  e.drawdown,
		KillSwitch:      e.kill,
		FillProbability: e.fillProb(snap),
		FillThreshold:   e.cfg.Gates.FillProbThreshold,
	}
	riskLocked := e.drawdown || e.kill
	e.sigMu.Unlock()

	results := w.pipeline.Evaluate(snap, gctx)
	for _, r := range results {
		e.digest.Fold(w.symbol, fmt.Sprintf("gate|%d|%s|%s|%s",
			snap.TS.UnixMilli(), r.Gate, r.Verdict, r.Reason))
	}
	admitted := gate.Admitted(results)
	e.breaker.Observe(snap.TS, !admitted)
	if e.breaker.Tripped() && e.fsm.State() != fsm.StateEmergency {
		if err := e.fsm.Fire(fsm.EventBreakerTrip, "gate block rate threshold crossed", snap.TS); err != nil && !errors.Is(err, fsm.ErrInvalidTransition) {
			e.logger.Errorw("breaker transition failed", "error", err)
		}
	}
	if !admitted {
		return
	}

	feat := w.vol.Update(snap)
	plan := w.policy.Compute(snap, feat, w.prior)
	w.prior = &plan
	e.digest.Fold(w.symbol, fmt.Sprintf("plan|%d|%s|%s|%d|reset=%t|%s",
		snap.TS.UnixMilli(), plan.Regime, plan.SpacingBps, len(plan.Levels), plan.Reset, plan.ResetReason))

	decisions, err := e.router.Route(plan, riskLocked, func(side models.Side, price, qty decimal.Decimal) models.OrderIntent {
		w.seq++
		return models.NewOrderIntent(e.cfg.StrategyID, w.symbol, side, price, qty, w.seq, snap.TS)
	})
	if err != nil {
		e.logger.Errorw("routing failed", "symbol", w.symbol, "error", err)
		return
	}

	for _, d := range decisions {
		e.digest.Fold(w.symbol, decisionLine(snap, d))
		if d.Kind == models.DecisionNoop {
			continue
		}
		if err := e.Submit(ctx, w.symbol, d, snap.TS); err != nil {
			if errors.Is(err, ErrBlocked) {
				e.digest.Fold(w.symbol, fmt.Sprintf("blocked|%d|%s|%v", snap.TS.UnixMilli(), d.Kind, err))
				continue
			}
			e.logger.Errorw("submission failed", "symbol", w.symbol, "decision", d.Kind, "error", err)
		}
	}
}

func decisionLine(snap models.Snapshot, d models.RouterDecision) string {
	line := fmt.Sprintf("decision|%d|%s|%s|%s", snap.TS.UnixMilli(), d.Kind, d.Reason, d.TargetOrderID)
	if d.Intent != nil {
		line += fmt.Sprintf("|%s|%s|%s", d.Intent.ClientID, d.Intent.Price, d.Intent.Qty)
	}
	return line
}

// applyFill folds one execution into the books: the order leaves the view,
// the round-trip tracker ingests the trade, and a realized loss beyond the
// configured limit raises the drawdown signal.
func (e *Engine) applyFill(x exchange.Execution) {
	view := e.router.View()
	intentPrice := x.Price
	if cur, found := view.Get(x.OrderID); found {
		intentPrice = cur.Intent.Price
		if err := view.Remove(x.OrderID, cur.Version); err != nil {
			e.logger.Warnw("filled order lost the view race", "orderID", x.OrderID, "error", err)
		}
	}
	e.trips.RecordFill(x.Symbol, x.Side, intentPrice, x.Price, x.Qty, x.Fee, x.TS)
	e.logger.Infow("fill recorded",
		"symbol", x.Symbol, "orderID", x.OrderID, "side", x.Side,
		"price", x.Price.String(), "qty", x.Qty.String())

	limit := e.cfg.Budget.MaxDailyLossQuote
	if limit.IsPositive() && e.trips.RealizedPnL(x.Symbol).LessThanOrEqual(limit.Neg()) {
		e.SetDrawdown(true, "realized loss limit breached", x.TS)
	}
}

// Submit is the single path to the venue, shared by the trading pipeline
// and reconciliation. ts is the processed timestamp stamping the budget
// day. The order of checks is fixed: breaker, budget, then a fresh
// lifecycle read, then the fencing token immediately before the port call.
func (e *Engine) Submit(ctx context.Context, symbol string, d models.RouterDecision, ts time.Time) error {
	if d.Kind == models.DecisionNoop {
		return nil
	}
	notional := decimal.Zero
	if d.Intent != nil {
		notional = d.Intent.Notional()
	}

	// A tripped breaker stops new risk before any budget is consumed.
	// Risk-reducing remediation still passes; the lifecycle check below
	// bounds what EMERGENCY admits.
	if d.IncreasesRisk && e.breaker.Tripped() {
		if e.metrics != nil {
			e.metrics.BudgetDenials.WithLabelValues(string(models.BudgetDenyBreakerTripped)).Inc()
		}
		return fmt.Errorf("%w: budget %s", ErrBlocked, models.BudgetDenyBreakerTripped)
	}
	if ok, reason := e.budget.CheckAndReserve(notional, ts); !ok {
		return fmt.Errorf("%w: budget %s", ErrBlocked, reason)
	}
	if !e.fsm.AllowDecision(d) {
		return fmt.Errorf("%w: lifecycle %s", ErrBlocked, e.fsm.State())
	}
	token, ok := e.leader.Token()
	if !ok {
		return fmt.Errorf("%w: not leader", ErrBlocked)
	}
	if err := e.leader.ValidateToken(token); err != nil {
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	}

	view := e.router.View()
	switch d.Kind {
	case models.DecisionPlace:
		ack, err := e.port.Place(ctx, *d.Intent)
		if err != nil {
			return err
		}
		return view.ApplyAck(ack.OrderID, ack.Intent, 0, ack.UpdatedTS)

	case models.DecisionCancel:
		return e.cancelOrder(ctx, symbol, d.TargetOrderID)

	case models.DecisionAmend:
		cur, found := view.Get(d.TargetOrderID)
		if !found {
			return fmt.Errorf("%w: amend target %s unknown", ErrBlocked, d.TargetOrderID)
		}
		ack, err := e.port.Amend(ctx, symbol, d.TargetOrderID, *d.Intent)
		if err != nil {
			return err
		}
		if ack.OrderID != d.TargetOrderID {
			// Venue amended via cancel-replace and minted a new id.
			if err := view.Remove(d.TargetOrderID, cur.Version); err != nil {
				return err
			}
			return view.ApplyAck(ack.OrderID, ack.Intent, 0, ack.UpdatedTS)
		}
		return view.ApplyAck(ack.OrderID, ack.Intent, cur.Version, ack.UpdatedTS)

	case models.DecisionCancelReplace:
		if err := e.cancelOrder(ctx, symbol, d.TargetOrderID); err != nil {
			return err
		}
		ack, err := e.port.Place(ctx, *d.Intent)
		if err != nil {
			return err
		}
		return view.ApplyAck(ack.OrderID, ack.Intent, 0, ack.UpdatedTS)
	}
	return fmt.Errorf("unhandled decision kind %s", d.Kind)
}

func (e *Engine) cancelOrder(ctx context.Context, symbol, orderID string) error {
	err := e.port.Cancel(ctx, symbol, orderID)
	if err != nil && exchange.CodeOf(err) != exchange.CodeUnknownOrder {
		return err
	}
	// Already-gone orders count as cancelled.
	view := e.router.View()
	if cur, found := view.Get(orderID); found {
		return view.Remove(orderID, cur.Version)
	}
	return nil
}

// bookBalanceProb is the default fill-probability proxy: a balanced top of
// book fills passives readily, a one-sided book does not.
func bookBalanceProb(snap models.Snapshot) decimal.Decimal {
	if !snap.BidQty.IsPositive() || !snap.AskQty.IsPositive() {
		return decimal.Zero
	}
	minQ := decimal.Min(snap.BidQty, snap.AskQty)
	maxQ := decimal.Max(snap.BidQty, snap.AskQty)
	return minQ.Div(maxQ)
}
