package persistence

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/dgraph-io/badger/v3"
)

var (
	budgetKey     = []byte("budget_state")
	leaseKey      = []byte("leader_lease")
	fsmLogPrefix  = []byte("fsm_log/")
)

// badgerRepository is the BadgerDB implementation of StateRepository.
type badgerRepository struct {
	db *badger.DB

	mu      sync.Mutex
	nextSeq uint64
}

// NewBadgerRepository opens (or creates) the BadgerDB at dbPath and scans
// the transition log to resume the append sequence.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the app log clean; errors
	// still surface through the returned values.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	r := &badgerRepository{db: db}
	if err := r.resumeSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *badgerRepository) resumeSeq() error {
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: fsmLogPrefix})
		defer it.Close()
		var max uint64
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			seq := binary.BigEndian.Uint64(key[len(fsmLogPrefix):])
			if seq >= max {
				max = seq + 1
			}
		}
		r.nextSeq = max
		return nil
	})
}

func (r *badgerRepository) SaveBudget(state models.BudgetState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(budgetKey, data)
	})
}

func (r *badgerRepository) LoadBudget() (*models.BudgetState, error) {
	var state models.BudgetState
	found, err := r.loadJSON(budgetKey, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

func (r *badgerRepository) AppendTransition(rec TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.Seq = r.nextSeq
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := make([]byte, len(fsmLogPrefix)+8)
	copy(key, fsmLogPrefix)
	binary.BigEndian.PutUint64(key[len(fsmLogPrefix):], rec.Seq)

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}
	r.nextSeq++
	return nil
}

func (r *badgerRepository) Transitions() ([]TransitionRecord, error) {
	var recs []TransitionRecord
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: fsmLogPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec TransitionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

func (r *badgerRepository) SaveLease(rec LeaseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(leaseKey, data)
	})
}

func (r *badgerRepository) LoadLease() (*LeaseRecord, error) {
	var rec LeaseRecord
	found, err := r.loadJSON(leaseKey, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// loadJSON reads one key, reporting (false, nil) when the key is absent.
func (r *badgerRepository) loadJSON(key []byte, dst interface{}) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("empty value in database")
			}
			return json.Unmarshal(val, dst)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *badgerRepository) Close() error {
	return r.db.Close()
}
