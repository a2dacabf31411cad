package fsm

import (
	"testing"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/persistence"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, persistence.StateRepository) {
	t.Helper()
	repo := persistence.NewMemoryRepository()
	return NewOrchestrator(repo, nil, zap.NewNop().Sugar()), repo
}

func fire(t *testing.T, o *Orchestrator, e Event) {
	t.Helper()
	require.NoError(t, o.Fire(e, "test", time.Now()))
}

func TestHappyPathTransitions(t *testing.T) {
	o, repo := newTestOrchestrator(t)
	assert.Equal(t, StateInit, o.State())

	fire(t, o, EventStartupComplete)
	assert.Equal(t, StateReady, o.State())

	fire(t, o, EventDrawdownBreach)
	assert.Equal(t, StateDegraded, o.State())

	fire(t, o, EventRecovered)
	assert.Equal(t, StateReady, o.State())

	recs, err := repo.Transitions()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "INIT", recs[0].From)
	assert.Equal(t, "READY", recs[0].To)
	assert.Equal(t, "READY", recs[2].To)
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	o, repo := newTestOrchestrator(t)

	err := o.Fire(EventRecovered, "not valid from INIT", time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateInit, o.State())

	// Rejections never reach the append-only log.
	recs, err := repo.Transitions()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEmergencyExitRequiresManualOverride(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	fire(t, o, EventStartupComplete)
	fire(t, o, EventBreakerTrip)
	require.Equal(t, StateEmergency, o.State())

	assert.ErrorIs(t, o.Fire(EventRecovered, "", time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, o.Fire(EventStartupComplete, "", time.Now()), ErrInvalidTransition)
	assert.Equal(t, StateEmergency, o.State())

	fire(t, o, EventManualOverride)
	assert.Equal(t, StateDegraded, o.State())
}

func riskIncreasing() models.RouterDecision {
	return models.RouterDecision{
		Kind:          models.DecisionPlace,
		Reason:        models.DecisionReasonNewLevel,
		Intent:        &models.OrderIntent{Qty: decimal.RequireFromString("1")},
		IncreasesRisk: true,
	}
}

// Once EMERGENCY is entered, no risk-increasing decision gets through until
// an explicit recovery transition.
func TestEmergencyBlocksRiskIncreasingDecisions(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	fire(t, o, EventStartupComplete)
	require.True(t, o.AllowDecision(riskIncreasing()))

	fire(t, o, EventEmergencyStop)
	assert.False(t, o.AllowDecision(riskIncreasing()))
	assert.False(t, o.AllowDecision(models.RouterDecision{Kind: models.DecisionAmend, Reason: models.DecisionReasonPriceDrift}))
	assert.False(t, o.AllowDecision(models.RouterDecision{Kind: models.DecisionCancelReplace, Reason: models.DecisionReasonExcessDrift}))

	// Cancels and reduce-only flatten orders remain available for remediation.
	assert.True(t, o.AllowDecision(models.RouterDecision{Kind: models.DecisionCancel, Reason: models.DecisionReasonStaleOrder}))
	assert.True(t, o.AllowDecision(models.RouterDecision{
		Kind:   models.DecisionPlace,
		Reason: models.DecisionReasonFlatten,
		Intent: &models.OrderIntent{ReduceOnly: true},
	}))

	fire(t, o, EventManualOverride)
	fire(t, o, EventRecovered)
	assert.True(t, o.AllowDecision(riskIncreasing()))
}

func TestDegradedAllowsOnlyRiskReducing(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	fire(t, o, EventStartupComplete)
	fire(t, o, EventDrawdownBreach)

	assert.False(t, o.AllowDecision(riskIncreasing()))
	assert.True(t, o.AllowDecision(models.RouterDecision{Kind: models.DecisionNoop, Reason: models.DecisionReasonInTolerance}))
	assert.True(t, o.AllowDecision(models.RouterDecision{Kind: models.DecisionCancel, Reason: models.DecisionReasonStaleOrder}))
}

func TestInitAdmitsNothing(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	assert.False(t, o.AllowDecision(models.RouterDecision{Kind: models.DecisionNoop}))
}
