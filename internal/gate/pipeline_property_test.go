package gate

import (
	"fmt"
	"testing"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// Property: if gate k blocks, no gate after k is evaluated — the returned
// sequence ends exactly at the first BLOCK — and re-evaluating the same
// inputs on a fresh pipeline reproduces the same verdicts.
func TestPipelineShortCircuit_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sequence ends at the first block", prop.ForAll(
		func(spreadCents int, maxSpreadBps int, drawdown, killSwitch bool, probPct, thresholdPct int) bool {
			cfg := models.GateConfig{
				MaxEventsPerWindow: 100,
				RateWindowMs:       1000,
				MaxSpreadBps:       decimal.NewFromInt(int64(maxSpreadBps)),
			}
			ctx := Context{
				DrawdownActive:  drawdown,
				KillSwitch:      killSwitch,
				FillProbability: decimal.NewFromInt(int64(probPct)).Div(decimal.NewFromInt(100)),
				FillThreshold:   decimal.NewFromInt(int64(thresholdPct)).Div(decimal.NewFromInt(100)),
			}
			snap := snapWithSpread("100", fmt.Sprintf("0.%02d", spreadCents))
			snap.TS = time.Unix(1700000000, 0).UTC()

			results := NewPipeline(cfg, nil).Evaluate(snap, ctx)
			if len(results) == 0 || len(results) > 4 {
				return false
			}
			for i, r := range results {
				if r.Verdict == models.VerdictBlock && i != len(results)-1 {
					return false
				}
				if r.Verdict == models.VerdictAllow && i == len(results)-1 && len(results) != 4 {
					return false
				}
			}

			// Determinism: a fresh pipeline over the same inputs agrees.
			replay := NewPipeline(cfg, nil).Evaluate(snap, ctx)
			if len(replay) != len(results) {
				return false
			}
			for i := range replay {
				a, b := replay[i], results[i]
				if a.Gate != b.Gate || a.Verdict != b.Verdict || a.Reason != b.Reason || !a.Observed.Equal(b.Observed) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 99),
		gen.IntRange(1, 100),
		gen.Bool(),
		gen.Bool(),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
