package router

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
)

// OpenOrderView is the local belief of resting orders. It is one of the two
// long-lived mutable structures in the system; only the execution router and
// the reconciliation engine mutate it, and every mutation is a
// compare-and-check against the entry's last known version so the main
// pipeline and the reconciliation task cannot clobber each other.
type OpenOrderView struct {
	mu     sync.RWMutex
	orders map[string]models.OpenOrder
}

// ErrVersionConflict is returned when a mutation lost the version race.
var ErrVersionConflict = fmt.Errorf("order view: version conflict")

// NewOpenOrderView returns an empty view.
func NewOpenOrderView() *OpenOrderView {
	return &OpenOrderView{orders: make(map[string]models.OpenOrder)}
}

// Snapshot returns the resting orders for one symbol, sorted by order id so
// iteration order is reproducible.
func (v *OpenOrderView) Snapshot(symbol string) []models.OpenOrder {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]models.OpenOrder, 0, len(v.orders))
	for _, o := range v.orders {
		if o.Intent.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Get returns one order by id.
func (v *OpenOrderView) Get(orderID string) (models.OpenOrder, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	o, ok := v.orders[orderID]
	return o, ok
}

// ApplyAck records a venue-acknowledged place or amend. For a new order
// expectVersion is zero; for an existing one it must match the entry's
// current version or the update is rejected.
func (v *OpenOrderView) ApplyAck(orderID string, intent models.OrderIntent, expectVersion uint64, ts time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur, exists := v.orders[orderID]
	if exists && cur.Version != expectVersion {
		return ErrVersionConflict
	}
	if !exists && expectVersion != 0 {
		return ErrVersionConflict
	}
	v.orders[orderID] = models.OpenOrder{
		OrderID:   orderID,
		Intent:    intent,
		Version:   expectVersion + 1,
		UpdatedTS: ts,
	}
	return nil
}

// Remove drops an acknowledged cancel, checked against the known version.
func (v *OpenOrderView) Remove(orderID string, expectVersion uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur, exists := v.orders[orderID]
	if !exists {
		return nil // already gone; cancels are idempotent
	}
	if cur.Version != expectVersion {
		return ErrVersionConflict
	}
	delete(v.orders, orderID)
	return nil
}

// Sync replaces the whole per-symbol slice of the view with venue truth,
// used by the reconciliation engine after querying open orders.
func (v *OpenOrderView) Sync(symbol string, orders []models.OpenOrder) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for id, o := range v.orders {
		if o.Intent.Symbol == symbol {
			delete(v.orders, id)
		}
	}
	for _, o := range orders {
		if o.Version == 0 {
			o.Version = 1
		}
		v.orders[o.OrderID] = o
	}
}

// OpenNotional sums |price*qty| resting on one side of one symbol. This is
// the risk measure the router must never increase while a drawdown or
// kill-switch gate is tripped.
func (v *OpenOrderView) OpenNotional(symbol string, side models.Side) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()

	total := decimal.Zero
	for _, o := range v.orders {
		if o.Intent.Symbol == symbol && o.Intent.Side == side {
			total = total.Add(o.Notional())
		}
	}
	return total
}
