package policy

import (
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
)

// RollingFeatures are the market features the controller consumes. They are
// derived purely from the snapshot stream; no wall clock is involved.
type RollingFeatures struct {
	VolBps decimal.Decimal
}

// VolEstimator tracks realized volatility over a rolling window of
// midpoints as the mean absolute mid-to-mid move in basis points.
// Not safe for concurrent use; the engine keeps one per symbol worker.
type VolEstimator struct {
	maxSamples int
	mids       []decimal.Decimal
}

// NewVolEstimator returns an estimator over the given sample window.
func NewVolEstimator(samples int) *VolEstimator {
	if samples < 2 {
		samples = 2
	}
	return &VolEstimator{maxSamples: samples}
}

// Update folds one snapshot in stream order and returns current features.
func (v *VolEstimator) Update(snap models.Snapshot) RollingFeatures {
	mid := snap.Mid()
	if mid.IsZero() {
		return v.features()
	}
	v.mids = append(v.mids, mid)
	if len(v.mids) > v.maxSamples {
		v.mids = v.mids[1:]
	}
	return v.features()
}

func (v *VolEstimator) features() RollingFeatures {
	if len(v.mids) < 2 {
		return RollingFeatures{VolBps: decimal.Zero}
	}
	sum := decimal.Zero
	for i := 1; i < len(v.mids); i++ {
		prev := v.mids[i-1]
		if prev.IsZero() {
			continue
		}
		move := v.mids[i].Sub(prev).Abs().Mul(decimal.NewFromInt(10000)).Div(prev)
		sum = sum.Add(move)
	}
	n := decimal.NewFromInt(int64(len(v.mids) - 1))
	return RollingFeatures{VolBps: sum.Div(n)}
}
