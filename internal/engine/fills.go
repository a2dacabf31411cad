package engine

import (
	"context"
	"fmt"

	"github.com/bnzr-team/grinder-sub001/internal/exchange"
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/router"
)

// PollingFills detects executions on a live venue by querying the status of
// every order the view believes is resting. A FILLED answer becomes an
// execution; CANCELED and EXPIRED orders leave the view without one.
type PollingFills struct {
	port exchange.Port
	view *router.OpenOrderView
}

func NewPollingFills(port exchange.Port, view *router.OpenOrderView) *PollingFills {
	return &PollingFills{port: port, view: view}
}

func (p *PollingFills) Fills(ctx context.Context, symbol string, snap models.Snapshot) ([]exchange.Execution, error) {
	var out []exchange.Execution
	for _, o := range p.view.Snapshot(symbol) {
		st, err := p.port.QueryOrder(ctx, symbol, o.OrderID)
		if err != nil {
			if exchange.CodeOf(err) == exchange.CodeUnknownOrder {
				continue
			}
			return out, fmt.Errorf("query order %s: %w", o.OrderID, err)
		}
		switch st.Status {
		case exchange.StatusFilled:
			price := st.AvgPrice
			if price.IsZero() {
				price = o.Intent.Price
			}
			qty := st.ExecutedQty
			if qty.IsZero() {
				qty = o.Intent.Qty
			}
			out = append(out, exchange.Execution{
				OrderID:  o.OrderID,
				ClientID: o.Intent.ClientID,
				Symbol:   symbol,
				Side:     o.Intent.Side,
				Price:    price,
				Qty:      qty,
				TS:       st.UpdatedTS,
			})
		case exchange.StatusCanceled, exchange.StatusExpired:
			if err := p.view.Remove(o.OrderID, o.Version); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}
