// Package fsm owns the single global lifecycle state. It is the last gate a
// router decision passes before leaving the process, so a transition to
// EMERGENCY stops queued-but-unsubmitted actions as well as new ones.
package fsm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/persistence"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"go.uber.org/zap"
)

// State of the lifecycle machine.
type State string

const (
	StateInit      State = "INIT"
	StateReady     State = "READY"
	StateDegraded  State = "DEGRADED"
	StateEmergency State = "EMERGENCY"
)

// AllStates in metric registration order.
var AllStates = []State{StateInit, StateReady, StateDegraded, StateEmergency}

// Event names a condition that may move the machine. Events are append-only.
type Event string

const (
	EventStartupComplete Event = "STARTUP_COMPLETE"
	EventDrawdownBreach  Event = "DRAWDOWN_BREACH"
	EventBreakerTrip     Event = "BREAKER_TRIP"
	EventEmergencyStop   Event = "EMERGENCY_STOP"
	EventRecovered       Event = "RECOVERED"
	EventManualOverride  Event = "MANUAL_OVERRIDE"
)

// transitions is the entire machine. A (state, event) pair absent from the
// table is an invalid transition and is rejected without touching state.
var transitions = map[State]map[Event]State{
	StateInit: {
		EventStartupComplete: StateReady,
		EventEmergencyStop:   StateEmergency,
	},
	StateReady: {
		EventDrawdownBreach: StateDegraded,
		EventBreakerTrip:    StateEmergency,
		EventEmergencyStop:  StateEmergency,
	},
	StateDegraded: {
		EventRecovered:     StateReady,
		EventBreakerTrip:   StateEmergency,
		EventEmergencyStop: StateEmergency,
	},
	StateEmergency: {
		// Leaving EMERGENCY always requires an operator.
		EventManualOverride: StateDegraded,
	},
}

// ErrInvalidTransition is returned when the event is not in the table for
// the current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Orchestrator holds the state and the append-only transition log. It is
// the only writer of lifecycle state; everyone else reads through State()
// or AllowDecision().
type Orchestrator struct {
	mu      sync.Mutex
	state   State
	repo    persistence.StateRepository
	metrics *telemetry.Metrics
	logger  *zap.SugaredLogger
}

func NewOrchestrator(repo persistence.StateRepository, metrics *telemetry.Metrics, logger *zap.SugaredLogger) *Orchestrator {
	o := &Orchestrator{state: StateInit, repo: repo, metrics: metrics, logger: logger}
	o.setStateGauge()
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Fire applies one event. Valid transitions are logged, persisted and
// counted before the new state becomes visible. Invalid ones return
// ErrInvalidTransition and leave the state unchanged.
func (o *Orchestrator) Fire(event Event, reason string, ts time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, ok := transitions[o.state][event]
	if !ok {
		o.logger.Warnw("lifecycle transition rejected",
			"state", o.state, "event", event, "reason", reason)
		return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, o.state)
	}

	rec := persistence.TransitionRecord{
		From:   string(o.state),
		To:     string(next),
		Event:  string(event),
		Reason: reason,
		TS:     ts.UTC(),
	}
	if err := o.repo.AppendTransition(rec); err != nil {
		return fmt.Errorf("persist lifecycle transition: %w", err)
	}

	o.logger.Infow("lifecycle transition",
		"from", o.state, "to", next, "event", event, "reason", reason)
	if o.metrics != nil {
		o.metrics.FSMTransitions.WithLabelValues(string(o.state), string(next), reason).Inc()
	}
	o.state = next
	o.setStateGauge()
	return nil
}

// AllowDecision is the final fresh read before a decision is submitted.
// INIT admits nothing. READY admits everything. DEGRADED admits only
// decisions that do not increase risk. EMERGENCY admits only cancels and
// reduce-only placements.
func (o *Orchestrator) AllowDecision(d models.RouterDecision) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateReady:
		return true
	case StateDegraded:
		return !d.IncreasesRisk
	case StateEmergency:
		if d.Kind == models.DecisionCancel || d.Kind == models.DecisionNoop {
			return true
		}
		return d.Intent != nil && d.Intent.ReduceOnly
	default:
		return false
	}
}

func (o *Orchestrator) setStateGauge() {
	if o.metrics == nil {
		return
	}
	all := make([]string, len(AllStates))
	for i, s := range AllStates {
		all[i] = string(s)
	}
	o.metrics.SetFSMState(string(o.state), all)
}
