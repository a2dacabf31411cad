package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
)

// SimExchange is the in-memory venue used by replay runs and tests. Order
// ids are minted from a sequence counter so two identical runs produce
// identical ids. The venue deduplicates by client order id the way the real
// one does: a retried Place returns the original order instead of opening a
// second one.
type SimExchange struct {
	mu        sync.Mutex
	rules     map[string]models.SymbolRules
	orders    map[string]models.OpenOrder
	byClient  map[string]string
	closed    map[string]OrderStatus
	positions map[string]decimal.Decimal
	nextID    uint64

	failOp   string
	failCode ErrCode
}

func NewSimExchange(rules map[string]models.SymbolRules) *SimExchange {
	return &SimExchange{
		rules:     rules,
		orders:    make(map[string]models.OpenOrder),
		byClient:  make(map[string]string),
		closed:    make(map[string]OrderStatus),
		positions: make(map[string]decimal.Decimal),
	}
}

// FailNext makes the next call of the given op fail once with code.
// Used to exercise retry and taxonomy paths.
func (s *SimExchange) FailNext(op string, code ErrCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOp, s.failCode = op, code
}

func (s *SimExchange) Place(ctx context.Context, intent models.OrderIntent) (models.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("place"); err != nil {
		return models.OpenOrder{}, err
	}
	if id, seen := s.byClient[intent.ClientID]; seen {
		return s.orders[id], nil
	}
	if rules, ok := s.rules[intent.Symbol]; ok {
		if !intent.Price.Mod(rules.TickSize).IsZero() {
			return models.OpenOrder{}, newPortError("place", CodeTickSize,
				fmt.Errorf("price %s off tick %s", intent.Price, rules.TickSize))
		}
		if intent.Price.Mul(intent.Qty).LessThan(rules.MinNotional) {
			return models.OpenOrder{}, newPortError("place", CodeMinNotional,
				fmt.Errorf("notional below %s", rules.MinNotional))
		}
	}

	s.nextID++
	order := models.OpenOrder{
		OrderID:   fmt.Sprintf("SIM-%d", s.nextID),
		Intent:    intent,
		UpdatedTS: time.Unix(0, 0).UTC(),
	}
	s.orders[order.OrderID] = order
	s.byClient[intent.ClientID] = order.OrderID
	return order, nil
}

func (s *SimExchange) Cancel(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("cancel"); err != nil {
		return err
	}
	order, ok := s.orders[orderID]
	if !ok || order.Intent.Symbol != symbol {
		return newPortError("cancel", CodeUnknownOrder, fmt.Errorf("order %s", orderID))
	}
	delete(s.orders, orderID)
	delete(s.byClient, order.Intent.ClientID)
	s.closed[orderID] = OrderStatus{OrderID: orderID, Status: StatusCanceled, UpdatedTS: order.UpdatedTS}
	return nil
}

func (s *SimExchange) Amend(ctx context.Context, symbol, orderID string, intent models.OrderIntent) (models.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("amend"); err != nil {
		return models.OpenOrder{}, err
	}
	order, ok := s.orders[orderID]
	if !ok || order.Intent.Symbol != symbol {
		return models.OpenOrder{}, newPortError("amend", CodeUnknownOrder, fmt.Errorf("order %s", orderID))
	}
	delete(s.byClient, order.Intent.ClientID)
	order.Intent = intent
	s.orders[orderID] = order
	s.byClient[intent.ClientID] = orderID
	return order, nil
}

func (s *SimExchange) QueryOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("queryOpenOrders"); err != nil {
		return nil, err
	}
	var out []models.OpenOrder
	for _, o := range s.orders {
		if o.Intent.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (s *SimExchange) QueryOrder(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("queryOrder"); err != nil {
		return OrderStatus{}, err
	}
	if o, ok := s.orders[orderID]; ok && o.Intent.Symbol == symbol {
		return OrderStatus{OrderID: orderID, Status: StatusNew, UpdatedTS: o.UpdatedTS}, nil
	}
	if st, ok := s.closed[orderID]; ok {
		return st, nil
	}
	return OrderStatus{}, newPortError("queryOrder", CodeUnknownOrder, fmt.Errorf("order %s", orderID))
}

func (s *SimExchange) QueryPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("queryPosition"); err != nil {
		return decimal.Zero, err
	}
	return s.positions[symbol], nil
}

// Fill consumes one resting order as fully executed at its limit price,
// moving its quantity into the net position. Returns the filled order for
// round-trip tracking.
func (s *SimExchange) Fill(orderID string) (models.OpenOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return models.OpenOrder{}, false
	}
	s.fillLocked(order, order.UpdatedTS)
	return order, true
}

// Fills crosses the book against one snapshot, implementing the engine's
// fill source for replay runs. A resting buy trades when the venue ask
// reaches its limit, a sell when the bid does; fills execute at the limit
// price, the passive side of a grid.
func (s *SimExchange) Fills(ctx context.Context, symbol string, snap models.Snapshot) ([]Execution, error) {
	return s.Cross(symbol, snap.BidPrice, snap.AskPrice, snap.TS), nil
}

// Cross fills every resting order the (bid, ask) pair reaches, in order-id
// order so identical runs produce identical fill sequences.
func (s *SimExchange) Cross(symbol string, bid, ask decimal.Decimal, ts time.Time) []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	var crossed []models.OpenOrder
	for _, o := range s.orders {
		if o.Intent.Symbol != symbol {
			continue
		}
		if o.Intent.Side == models.Buy && ask.LessThanOrEqual(o.Intent.Price) {
			crossed = append(crossed, o)
		}
		if o.Intent.Side == models.Sell && bid.GreaterThanOrEqual(o.Intent.Price) {
			crossed = append(crossed, o)
		}
	}
	sort.Slice(crossed, func(i, j int) bool { return crossed[i].OrderID < crossed[j].OrderID })

	out := make([]Execution, 0, len(crossed))
	for _, o := range crossed {
		s.fillLocked(o, ts)
		out = append(out, Execution{
			OrderID:  o.OrderID,
			ClientID: o.Intent.ClientID,
			Symbol:   symbol,
			Side:     o.Intent.Side,
			Price:    o.Intent.Price,
			Qty:      o.Intent.Qty,
			Fee:      decimal.Zero,
			TS:       ts,
		})
	}
	return out
}

func (s *SimExchange) fillLocked(order models.OpenOrder, ts time.Time) {
	delete(s.orders, order.OrderID)
	delete(s.byClient, order.Intent.ClientID)
	s.closed[order.OrderID] = OrderStatus{
		OrderID:     order.OrderID,
		Status:      StatusFilled,
		ExecutedQty: order.Intent.Qty,
		AvgPrice:    order.Intent.Price,
		UpdatedTS:   ts,
	}

	qty := order.Intent.Qty
	if order.Intent.Side == models.Sell {
		qty = qty.Neg()
	}
	sym := order.Intent.Symbol
	s.positions[sym] = s.positions[sym].Add(qty)
}

// SetPosition overrides the net position, used to stage reconciliation
// mismatches in tests.
func (s *SimExchange) SetPosition(symbol string, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[symbol] = qty
}

func (s *SimExchange) injected(op string) error {
	if s.failOp != op {
		return nil
	}
	code := s.failCode
	s.failOp, s.failCode = "", ""
	return newPortError(op, code, fmt.Errorf("injected failure"))
}
