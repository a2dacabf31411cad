// Package gate decides, per market event, whether any downstream action is
// permitted and why not when blocked.
package gate

import (
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
)

// Pipeline runs the gates in a fixed, documented order:
//
//	1. rate limit
//	2. drawdown / kill switch
//	3. toxicity (quoted spread)
//	4. fill probability threshold
//
// Evaluation short-circuits on the first BLOCK; the results accumulated so
// far are returned in order for auditability.
//
// A Pipeline is not safe for concurrent use: the engine creates one per
// symbol worker, which also keeps each gate's rolling state per symbol.
type Pipeline struct {
	gates   []Gate
	metrics *telemetry.Metrics
}

// NewPipeline builds the standard gate chain from config.
func NewPipeline(cfg models.GateConfig, metrics *telemetry.Metrics) *Pipeline {
	return &Pipeline{
		gates: []Gate{
			newRateGate(cfg),
			drawdownGate{},
			toxicityGate{maxSpreadBps: cfg.MaxSpreadBps},
			fillProbGate{},
		},
		metrics: metrics,
	}
}

// Evaluate runs the chain for one snapshot. Each gate's outcome increments
// the (gate, verdict, reason) counter before the short-circuit check.
func (p *Pipeline) Evaluate(snap models.Snapshot, ctx Context) []models.GatingResult {
	results := make([]models.GatingResult, 0, len(p.gates))
	for _, g := range p.gates {
		res := g.Check(snap, ctx)
		results = append(results, res)
		if p.metrics != nil {
			p.metrics.ObserveGate(res)
		}
		if res.Verdict == models.VerdictBlock {
			break
		}
	}
	return results
}

// Admitted reports whether a result sequence ended without a block.
func Admitted(results []models.GatingResult) bool {
	for _, r := range results {
		if r.Verdict == models.VerdictBlock {
			return false
		}
	}
	return true
}
