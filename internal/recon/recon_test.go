package recon

import (
	"context"
	"testing"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/exchange"
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/router"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testRules = map[string]models.SymbolRules{
	"BNBUSDT": {
		TickSize:    d("0.01"),
		StepSize:    d("0.001"),
		MinQty:      d("0.001"),
		MinNotional: d("5"),
	},
}

type stubPositions struct{ pos decimal.Decimal }

func (s stubPositions) ExpectedPosition(string) decimal.Decimal { return s.pos }

type recordingSubmitter struct {
	submitted []models.RouterDecision
}

func (r *recordingSubmitter) Submit(_ context.Context, _ string, dec models.RouterDecision, _ time.Time) error {
	r.submitted = append(r.submitted, dec)
	return nil
}

func newTestEngine(t *testing.T, cfg models.ReconConfig, sim *exchange.SimExchange, view *router.OpenOrderView, expected decimal.Decimal) (*Engine, *recordingSubmitter) {
	t.Helper()
	sub := &recordingSubmitter{}
	e := NewEngine(cfg, testRules, sim, view, stubPositions{pos: expected}, sub, nil, zap.NewNop().Sugar())
	return e, sub
}

var ts = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCleanPassProducesNoPlan(t *testing.T) {
	sim := exchange.NewSimExchange(testRules)
	view := router.NewOpenOrderView()

	o, err := sim.Place(context.Background(), models.OrderIntent{Symbol: "BNBUSDT", Side: models.Buy, Price: d("100.00"), Qty: d("1"), ClientID: "c1"})
	require.NoError(t, err)
	require.NoError(t, view.ApplyAck(o.OrderID, o.Intent, 0, ts))

	cfg := models.ReconConfig{Mode: "execute-flatten", PositionTolerance: d("0.01"), Armed: true}
	e, sub := newTestEngine(t, cfg, sim, view, decimal.Zero)

	delta, plan, err := e.RunOnce(context.Background(), "BNBUSDT", d("100.00"), ts)
	require.NoError(t, err)
	assert.True(t, delta.Clean())
	assert.Equal(t, models.SeverityNone, delta.Severity)
	assert.Empty(t, plan)
	assert.Empty(t, sub.submitted)
}

func TestDetectReportsOrderAndPositionMismatch(t *testing.T) {
	sim := exchange.NewSimExchange(testRules)
	view := router.NewOpenOrderView()

	// The venue has an order we do not know and a position we do not expect.
	venueOrder, err := sim.Place(context.Background(), models.OrderIntent{Symbol: "BNBUSDT", Side: models.Sell, Price: d("105.00"), Qty: d("1"), ClientID: "ghost"})
	require.NoError(t, err)
	sim.SetPosition("BNBUSDT", d("2"))

	// We believe in an order the venue does not have.
	require.NoError(t, view.ApplyAck("LOST-1", models.OrderIntent{Symbol: "BNBUSDT", Side: models.Buy, Price: d("99.00"), Qty: d("1")}, 0, ts))

	cfg := models.ReconConfig{Mode: "detect-only", PositionTolerance: d("0.01")}
	e, sub := newTestEngine(t, cfg, sim, view, decimal.Zero)

	delta, plan, err := e.RunOnce(context.Background(), "BNBUSDT", d("100.00"), ts)
	require.NoError(t, err)
	assert.Equal(t, []string{"LOST-1"}, delta.MissingOnVenue)
	assert.Equal(t, []string{venueOrder.OrderID}, delta.UnknownOnVenue)
	assert.True(t, delta.PositionDelta.Equal(d("2")))
	assert.Equal(t, models.SeverityCritical, delta.Severity)

	// Detect-only never plans, never submits.
	assert.Empty(t, plan)
	assert.Empty(t, sub.submitted)
}

func TestPlanOnlyComputesButDoesNotSubmit(t *testing.T) {
	sim := exchange.NewSimExchange(testRules)
	view := router.NewOpenOrderView()
	_, err := sim.Place(context.Background(), models.OrderIntent{Symbol: "BNBUSDT", Side: models.Sell, Price: d("105.00"), Qty: d("1"), ClientID: "ghost"})
	require.NoError(t, err)
	sim.SetPosition("BNBUSDT", d("1.5"))

	cfg := models.ReconConfig{Mode: "plan-only", PositionTolerance: d("0.01"), Armed: true}
	e, sub := newTestEngine(t, cfg, sim, view, decimal.Zero)

	_, plan, err := e.RunOnce(context.Background(), "BNBUSDT", d("100.00"), ts)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, models.DecisionCancel, plan[0].Kind)
	assert.Equal(t, models.DecisionReasonRemediation, plan[0].Reason)
	assert.Equal(t, models.DecisionPlace, plan[1].Kind)
	assert.Equal(t, models.DecisionReasonFlatten, plan[1].Reason)
	require.NotNil(t, plan[1].Intent)
	assert.True(t, plan[1].Intent.ReduceOnly)
	assert.Equal(t, models.Sell, plan[1].Intent.Side)
	assert.True(t, plan[1].Intent.Qty.Equal(d("1.5")))

	assert.Empty(t, sub.submitted)
}

func TestExecuteCancelAllSubmitsCancelsOnly(t *testing.T) {
	sim := exchange.NewSimExchange(testRules)
	view := router.NewOpenOrderView()
	_, err := sim.Place(context.Background(), models.OrderIntent{Symbol: "BNBUSDT", Side: models.Sell, Price: d("105.00"), Qty: d("1"), ClientID: "ghost"})
	require.NoError(t, err)
	sim.SetPosition("BNBUSDT", d("1"))

	cfg := models.ReconConfig{Mode: "execute-cancel-all", PositionTolerance: d("0.01"), Armed: true}
	e, sub := newTestEngine(t, cfg, sim, view, decimal.Zero)

	_, _, err = e.RunOnce(context.Background(), "BNBUSDT", d("100.00"), ts)
	require.NoError(t, err)
	require.Len(t, sub.submitted, 1)
	assert.Equal(t, models.DecisionCancel, sub.submitted[0].Kind)
}

func TestExecuteFlattenRequiresArming(t *testing.T) {
	sim := exchange.NewSimExchange(testRules)
	view := router.NewOpenOrderView()
	sim.SetPosition("BNBUSDT", d("1"))

	cfg := models.ReconConfig{Mode: "execute-flatten", PositionTolerance: d("0.01"), Armed: false}
	e, sub := newTestEngine(t, cfg, sim, view, decimal.Zero)

	_, plan, err := e.RunOnce(context.Background(), "BNBUSDT", d("100.00"), ts)
	require.NoError(t, err)
	assert.NotEmpty(t, plan, "the plan is still computed for observability")
	assert.Empty(t, sub.submitted, "disarmed remediation must not submit")
}

func TestFlattenBuysBackShortPosition(t *testing.T) {
	sim := exchange.NewSimExchange(testRules)
	view := router.NewOpenOrderView()
	sim.SetPosition("BNBUSDT", d("-0.7"))

	cfg := models.ReconConfig{Mode: "execute-flatten", PositionTolerance: d("0.01"), Armed: true}
	e, sub := newTestEngine(t, cfg, sim, view, decimal.Zero)

	_, _, err := e.RunOnce(context.Background(), "BNBUSDT", d("100.00"), ts)
	require.NoError(t, err)
	require.Len(t, sub.submitted, 1)
	dec := sub.submitted[0]
	assert.Equal(t, models.DecisionPlace, dec.Kind)
	assert.Equal(t, models.Buy, dec.Intent.Side, "a short position is closed by buying")
	assert.True(t, dec.Intent.Qty.Equal(d("0.7")))
}

func TestPositionReducedSignalFiresOnObservedReduction(t *testing.T) {
	sim := exchange.NewSimExchange(testRules)
	view := router.NewOpenOrderView()
	sim.SetPosition("BNBUSDT", d("0.5"))

	cfg := models.ReconConfig{Mode: "detect-only", PositionTolerance: d("10")}
	e, _ := newTestEngine(t, cfg, sim, view, d("2"))

	fired := false
	e.OnPositionReduced(func(symbol string, delta decimal.Decimal) {
		fired = true
		assert.Equal(t, "BNBUSDT", symbol)
		assert.True(t, delta.Equal(d("-1.5")))
	})

	_, _, err := e.RunOnce(context.Background(), "BNBUSDT", d("100.00"), ts)
	require.NoError(t, err)
	assert.True(t, fired)
}
