package engine

import (
	"sync"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
)

type lot struct {
	ts    time.Time
	side  models.Side
	price decimal.Decimal
	qty   decimal.Decimal
	fees  decimal.Decimal
}

// RoundTripTracker matches fills into open-close cycles per symbol, FIFO
// against the oldest opposing lot, and accumulates realized PnL with fees.
// It also carries the pipeline's position belief for reconciliation.
type RoundTripTracker struct {
	mu        sync.Mutex
	open      map[string][]lot
	trips     []models.RoundTrip
	positions map[string]decimal.Decimal
}

func NewRoundTripTracker() *RoundTripTracker {
	return &RoundTripTracker{
		open:      make(map[string][]lot),
		positions: make(map[string]decimal.Decimal),
	}
}

// ExpectedPosition returns the net filled quantity the pipeline believes
// it holds, buys positive.
func (t *RoundTripTracker) ExpectedPosition(symbol string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positions[symbol]
}

// RealizedPnL sums the realized result of every completed round trip for
// one symbol, fees included.
func (t *RoundTripTracker) RealizedPnL(symbol string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := decimal.Zero
	for _, trip := range t.trips {
		if trip.Symbol == symbol {
			total = total.Add(trip.RealizedPnL)
		}
	}
	return total
}

// Trips returns the completed round trips in close order.
func (t *RoundTripTracker) Trips() []models.RoundTrip {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.RoundTrip, len(t.trips))
	copy(out, t.trips)
	return out
}

// RecordFill ingests one fill. A fill on the side of the current inventory
// opens a new lot; an opposing fill closes the oldest lots first. Slippage
// is the signed difference between the intended price and fillPrice.
func (t *RoundTripTracker) RecordFill(symbol string, side models.Side, intentPrice, fillPrice, qty, fees decimal.Decimal, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	signed := qty
	if side == models.Sell {
		signed = qty.Neg()
	}
	t.positions[symbol] = t.positions[symbol].Add(signed)

	slip := fillPrice.Sub(intentPrice)
	if side == models.Sell {
		slip = intentPrice.Sub(fillPrice)
	}

	remaining := qty
	queue := t.open[symbol]
	for remaining.IsPositive() && len(queue) > 0 && queue[0].side != side {
		head := &queue[0]
		matched := decimal.Min(remaining, head.qty)

		pnl := fillPrice.Sub(head.price).Mul(matched)
		if head.side == models.Sell {
			pnl = pnl.Neg()
		}
		share := matched.Div(head.qty)
		headFees := head.fees.Mul(share)
		tripFees := headFees.Add(fees.Mul(matched.Div(qty)))

		t.trips = append(t.trips, models.RoundTrip{
			Symbol:      symbol,
			OpenTS:      head.ts,
			CloseTS:     ts,
			Qty:         matched,
			EntryPrice:  head.price,
			ExitPrice:   fillPrice,
			Fees:        tripFees,
			Slippage:    slip.Mul(matched),
			RealizedPnL: pnl.Sub(tripFees),
		})

		head.qty = head.qty.Sub(matched)
		head.fees = head.fees.Sub(headFees)
		remaining = remaining.Sub(matched)
		if head.qty.IsZero() {
			queue = queue[1:]
		}
	}

	if remaining.IsPositive() {
		queue = append(queue, lot{ts: ts, side: side, price: fillPrice, qty: remaining, fees: fees.Mul(remaining.Div(qty))})
	}
	t.open[symbol] = queue
}
