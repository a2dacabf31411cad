// Package budget enforces the daily safety budget for order-mutating port
// calls. Every PLACE, AMEND and CANCEL_REPLACE submission must pass through
// CheckAndReserve before it reaches the exchange port. Counters survive
// restarts; they reset when the UTC day of the processed timestamp advances
// past the recorded reset day, never from wall-clock drift.
package budget

import (
	"sync"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/persistence"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Budget tracks the daily call and notional caps. Reservations are atomic:
// a call either fits under both caps and is recorded, or is denied and
// nothing is recorded.
type Budget struct {
	mu      sync.Mutex
	state   models.BudgetState
	repo    persistence.StateRepository
	metrics *telemetry.Metrics
	logger  *zap.SugaredLogger
}

// NewBudget restores the persisted counters if present, otherwise starts a
// fresh day at ts with the configured caps.
func NewBudget(cfg models.BudgetConfig, repo persistence.StateRepository, ts time.Time, metrics *telemetry.Metrics, logger *zap.SugaredLogger) (*Budget, error) {
	b := &Budget{repo: repo, metrics: metrics, logger: logger}

	saved, err := repo.LoadBudget()
	if err != nil {
		return nil, err
	}
	if saved != nil {
		b.state = *saved
		// Caps follow the current config, only usage is carried over.
		b.state.CallCap = cfg.DailyCallCap
		b.state.NotionalCap = cfg.DailyNotionalCap
		logger.Infow("budget counters restored",
			"callsUsed", b.state.CallsUsed,
			"notionalUsed", b.state.NotionalUsed.String(),
			"lastReset", b.state.LastResetTS)
		if dayAdvanced(b.state.LastResetTS, ts) {
			b.resetLocked(ts)
		}
	} else {
		b.state = models.BudgetState{
			CallCap:     cfg.DailyCallCap,
			NotionalCap: cfg.DailyNotionalCap,
			LastResetTS: ts.UTC(),
		}
	}
	if err := repo.SaveBudget(b.state); err != nil {
		return nil, err
	}
	return b, nil
}

// CheckAndReserve admits one port call carrying the given notional at the
// processed timestamp ts. The notional is the absolute order value; cancels
// pass decimal.Zero. Crossing into a new UTC day resets the counters before
// the check. Both caps are checked before either counter moves, so a
// denial leaves the state untouched.
func (b *Budget) CheckAndReserve(notional decimal.Decimal, ts time.Time) (bool, models.BudgetDenyReason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dayAdvanced(b.state.LastResetTS, ts) {
		b.resetLocked(ts)
	}

	if b.state.CallsUsed+1 > b.state.CallCap {
		b.deny(models.BudgetDenyDailyCallCap)
		return false, models.BudgetDenyDailyCallCap
	}
	if b.state.NotionalUsed.Add(notional).GreaterThan(b.state.NotionalCap) {
		b.deny(models.BudgetDenyNotionalCap)
		return false, models.BudgetDenyNotionalCap
	}

	b.state.CallsUsed++
	b.state.NotionalUsed = b.state.NotionalUsed.Add(notional)
	if err := b.repo.SaveBudget(b.state); err != nil {
		b.logger.Errorw("failed to persist budget counters", "error", err)
	}
	return true, models.BudgetDenyNone
}

// ResetDaily zeroes the counters explicitly, for operator intervention
// outside the automatic day boundary.
func (b *Budget) ResetDaily(ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked(ts)
}

func (b *Budget) resetLocked(ts time.Time) {
	b.logger.Infow("daily budget reset",
		"callsUsed", b.state.CallsUsed,
		"notionalUsed", b.state.NotionalUsed.String(),
		"newDay", ts.UTC().Format("2006-01-02"))
	b.state.CallsUsed = 0
	b.state.NotionalUsed = decimal.Zero
	b.state.LastResetTS = ts.UTC()
	if err := b.repo.SaveBudget(b.state); err != nil {
		b.logger.Errorw("failed to persist budget counters", "error", err)
	}
}

// dayAdvanced reports whether ts falls on a later UTC day than the last
// reset. An earlier day (replayed history) never resets.
func dayAdvanced(lastReset, ts time.Time) bool {
	last := lastReset.UTC().Truncate(24 * time.Hour)
	cur := ts.UTC().Truncate(24 * time.Hour)
	return cur.After(last)
}

// State returns a copy of the current counters.
func (b *Budget) State() models.BudgetState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Budget) deny(reason models.BudgetDenyReason) {
	if b.metrics != nil {
		b.metrics.BudgetDenials.WithLabelValues(string(reason)).Inc()
	}
	b.logger.Warnw("budget reservation denied",
		"reason", reason,
		"callsUsed", b.state.CallsUsed,
		"callCap", b.state.CallCap,
		"notionalUsed", b.state.NotionalUsed.String(),
		"notionalCap", b.state.NotionalCap.String())
}
