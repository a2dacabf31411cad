package persistence

import (
	"sync"

	"github.com/bnzr-team/grinder-sub001/internal/models"
)

// MemoryRepository is an in-memory StateRepository for tests and dry runs.
type MemoryRepository struct {
	mu          sync.Mutex
	budget      *models.BudgetState
	lease       *LeaseRecord
	transitions []TransitionRecord
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) SaveBudget(state models.BudgetState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := state
	m.budget = &cp
	return nil
}

func (m *MemoryRepository) LoadBudget() (*models.BudgetState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.budget == nil {
		return nil, nil
	}
	cp := *m.budget
	return &cp, nil
}

func (m *MemoryRepository) AppendTransition(rec TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Seq = uint64(len(m.transitions))
	m.transitions = append(m.transitions, rec)
	return nil
}

func (m *MemoryRepository) Transitions() ([]TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.transitions))
	copy(out, m.transitions)
	return out, nil
}

func (m *MemoryRepository) SaveLease(rec LeaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.lease = &cp
	return nil
}

func (m *MemoryRepository) LoadLease() (*LeaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease == nil {
		return nil, nil
	}
	cp := *m.lease
	return &cp, nil
}

func (m *MemoryRepository) Close() error { return nil }
