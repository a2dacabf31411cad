// Package telemetry exposes the Prometheus counters and gauges of the
// decision pipeline. Label values are a public contract: the (gate, verdict,
// reason) and (decision, reason) key sets are append-only — existing values
// are never renamed or removed.
package telemetry

import (
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every metric of the pipeline. Constructed once and shared;
// a fresh registry per instance keeps tests independent.
type Metrics struct {
	GateResults     *prometheus.CounterVec
	RouterDecisions *prometheus.CounterVec
	FSMState        *prometheus.GaugeVec
	FSMTransitions  *prometheus.CounterVec
	LeaderIsHolder  prometheus.Gauge
	BudgetDenials   *prometheus.CounterVec
	BreakerTripped  prometheus.Gauge
	ParseErrors     prometheus.Counter
	ReconDeltas     *prometheus.CounterVec
	PortCalls       *prometheus.CounterVec
	PortErrors      *prometheus.CounterVec
}

// New registers all pipeline metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GateResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grinder_gate_results_total",
				Help: "Gate outcomes keyed by gate, verdict and reason.",
			},
			[]string{"gate", "verdict", "reason"},
		),
		RouterDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grinder_router_decisions_total",
				Help: "Router decisions keyed by decision kind and reason.",
			},
			[]string{"decision", "reason"},
		),
		FSMState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "grinder_fsm_state",
				Help: "Current lifecycle state as 0/1 labeled series.",
			},
			[]string{"state"},
		),
		FSMTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grinder_fsm_transitions_total",
				Help: "Lifecycle transitions keyed by from, to and reason.",
			},
			[]string{"from", "to", "reason"},
		),
		LeaderIsHolder: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grinder_leader_is_holder",
				Help: "1 while this instance holds a valid leader lease.",
			},
		),
		BudgetDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grinder_budget_denials_total",
				Help: "Budget reservations denied, keyed by reason.",
			},
			[]string{"reason"},
		),
		BreakerTripped: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grinder_breaker_tripped",
				Help: "1 while the block-rate circuit breaker is tripped.",
			},
		),
		ParseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "grinder_feed_parse_errors_total",
				Help: "Malformed feed records rejected.",
			},
		),
		ReconDeltas: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grinder_recon_deltas_total",
				Help: "Reconciliation deltas keyed by severity.",
			},
			[]string{"severity"},
		),
		PortCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grinder_port_calls_total",
				Help: "Exchange port calls keyed by operation.",
			},
			[]string{"op"},
		),
		PortErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grinder_port_errors_total",
				Help: "Exchange port errors keyed by taxonomy code.",
			},
			[]string{"code"},
		),
	}

	reg.MustRegister(
		m.GateResults, m.RouterDecisions,
		m.FSMState, m.FSMTransitions,
		m.LeaderIsHolder,
		m.BudgetDenials, m.BreakerTripped,
		m.ParseErrors, m.ReconDeltas,
		m.PortCalls, m.PortErrors,
	)
	return m
}

// NewForTest returns metrics on a private registry.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveGate records one gate outcome.
func (m *Metrics) ObserveGate(r models.GatingResult) {
	m.GateResults.WithLabelValues(string(r.Gate), string(r.Verdict), string(r.Reason)).Inc()
}

// ObserveDecision records one router decision.
func (m *Metrics) ObserveDecision(d models.RouterDecision) {
	m.RouterDecisions.WithLabelValues(string(d.Kind), string(d.Reason)).Inc()
}

// SetFSMState flips the per-state gauge series so exactly one reads 1.
func (m *Metrics) SetFSMState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.FSMState.WithLabelValues(s).Set(v)
	}
}
