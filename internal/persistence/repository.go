package persistence

import (
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
)

// TransitionRecord is one entry of the append-only lifecycle transition log.
type TransitionRecord struct {
	Seq    uint64    `json:"seq"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Event  string    `json:"event"`
	Reason string    `json:"reason"`
	TS     time.Time `json:"ts"`
}

// LeaseRecord is the local cache of the distributed leader lease.
type LeaseRecord struct {
	Holder string    `json:"holder"`
	Expiry time.Time `json:"expiry"`
	Token  uint64    `json:"token"`
}

// StateRepository abstracts the storage of the three crash-resumable
// records: budget counters, the FSM transition log and the cached lease.
// Implementations must persist each record atomically.
type StateRepository interface {
	// SaveBudget atomically saves the budget counters.
	SaveBudget(state models.BudgetState) error

	// LoadBudget loads the budget counters. Returns (nil, nil) when no
	// record exists yet.
	LoadBudget() (*models.BudgetState, error)

	// AppendTransition appends one record to the transition log. Records
	// are never rewritten or deleted.
	AppendTransition(rec TransitionRecord) error

	// Transitions returns the full transition log in append order.
	Transitions() ([]TransitionRecord, error)

	// SaveLease caches the last observed lease.
	SaveLease(rec LeaseRecord) error

	// LoadLease loads the cached lease. Returns (nil, nil) when absent.
	LoadLease() (*LeaseRecord, error)

	// Close gracefully closes the underlying store.
	Close() error
}
