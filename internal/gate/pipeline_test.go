package gate

import (
	"testing"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snapWithSpread(midStr, spreadStr string) models.Snapshot {
	mid := d(midStr)
	half := d(spreadStr).Div(decimal.NewFromInt(2))
	return models.Snapshot{
		TS:        time.Unix(1700000000, 0).UTC(),
		Symbol:    "BNBUSDT",
		BidPrice:  mid.Sub(half),
		AskPrice:  mid.Add(half),
		BidQty:    d("5"),
		AskQty:    d("5"),
		LastPrice: mid,
		LastQty:   d("1"),
	}
}

func defaultCfg() models.GateConfig {
	return models.GateConfig{
		MaxEventsPerWindow: 100,
		RateWindowMs:       1000,
		MaxSpreadBps:       d("30"),
	}
}

// A 50 bps spread against a 30 bps toxicity threshold must be blocked with
// reason WIDE_SPREAD, and the result sequence must stop at the toxicity gate.
func TestToxicityBlocksWideSpread(t *testing.T) {
	p := NewPipeline(defaultCfg(), nil)

	// spread of 0.50 on a mid of 100 = 50 bps
	results := p.Evaluate(snapWithSpread("100", "0.5"), Context{})

	require.Len(t, results, 3, "rate, drawdown, toxicity; fill-probability never evaluated")
	last := results[len(results)-1]
	assert.Equal(t, models.GateToxicity, last.Gate)
	assert.Equal(t, models.VerdictBlock, last.Verdict)
	assert.Equal(t, models.ReasonWideSpread, last.Reason)
	assert.True(t, last.Observed.Equal(d("50")), "observed %s", last.Observed)
	assert.False(t, Admitted(results))
}

func TestPipelineAdmitsQuietMarket(t *testing.T) {
	p := NewPipeline(defaultCfg(), nil)

	results := p.Evaluate(snapWithSpread("100", "0.1"), Context{})

	require.Len(t, results, 4)
	assert.True(t, Admitted(results))
	for _, r := range results {
		assert.Equal(t, models.VerdictAllow, r.Verdict)
		assert.Equal(t, models.ReasonOK, r.Reason)
	}
}

func TestShortCircuitOrdering(t *testing.T) {
	p := NewPipeline(defaultCfg(), nil)

	results := p.Evaluate(snapWithSpread("100", "0.1"), Context{DrawdownActive: true})

	// Drawdown is gate #2; toxicity and fill-probability must not run.
	require.Len(t, results, 2)
	assert.Equal(t, models.GateRateLimit, results[0].Gate)
	assert.Equal(t, models.GateDrawdown, results[1].Gate)
	assert.Equal(t, models.ReasonDrawdownActive, results[1].Reason)
}

func TestKillSwitchOutranksDrawdownReason(t *testing.T) {
	p := NewPipeline(defaultCfg(), nil)

	results := p.Evaluate(snapWithSpread("100", "0.1"), Context{DrawdownActive: true, KillSwitch: true})
	last := results[len(results)-1]
	assert.Equal(t, models.ReasonKillSwitch, last.Reason)
}

func TestFillProbabilityGate(t *testing.T) {
	p := NewPipeline(defaultCfg(), nil)

	ctx := Context{FillProbability: d("0.10"), FillThreshold: d("0.25")}
	results := p.Evaluate(snapWithSpread("100", "0.1"), ctx)

	require.Len(t, results, 4)
	last := results[3]
	assert.Equal(t, models.GateFillProb, last.Gate)
	assert.Equal(t, models.VerdictBlock, last.Verdict)
	assert.Equal(t, models.ReasonLowFillProbability, last.Reason)
	assert.True(t, last.Observed.Equal(d("0.10")))

	// Zero threshold disables the gate.
	results = p.Evaluate(snapWithSpread("100", "0.1"), Context{FillProbability: d("0.10")})
	assert.True(t, Admitted(results))
}

func TestRateGateUsesSnapshotClock(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxEventsPerWindow = 2
	p := NewPipeline(cfg, nil)

	base := time.Unix(1700000000, 0).UTC()
	mk := func(offset time.Duration) models.Snapshot {
		s := snapWithSpread("100", "0.1")
		s.TS = base.Add(offset)
		return s
	}

	assert.True(t, Admitted(p.Evaluate(mk(0), Context{})))
	assert.True(t, Admitted(p.Evaluate(mk(100*time.Millisecond), Context{})))

	// Third event inside the 1s window breaches the cap.
	results := p.Evaluate(mk(200*time.Millisecond), Context{})
	require.Len(t, results, 1)
	assert.Equal(t, models.ReasonEventRateExceeded, results[0].Reason)

	// Once the window slides past the earlier events, flow resumes.
	assert.True(t, Admitted(p.Evaluate(mk(5*time.Second), Context{})))
}
