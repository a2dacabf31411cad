package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var simRules = map[string]models.SymbolRules{
	"BNBUSDT": {
		TickSize:    d("0.01"),
		StepSize:    d("0.001"),
		MinQty:      d("0.001"),
		MinNotional: d("5"),
	},
}

func intent(clientID string, side models.Side, price, qty string) models.OrderIntent {
	return models.OrderIntent{
		Symbol:         "BNBUSDT",
		Side:           side,
		Price:          d(price),
		Qty:            d(qty),
		ClientID:       clientID,
		IdempotencyKey: clientID,
	}
}

func TestSimOrderIDsDeterministic(t *testing.T) {
	run := func() []string {
		s := NewSimExchange(simRules)
		var ids []string
		for i, c := range []string{"c1", "c2", "c3"} {
			o, err := s.Place(context.Background(), intent(c, models.Buy, "100.00", decimal.NewFromInt(int64(i+1)).String()))
			require.NoError(t, err)
			ids = append(ids, o.OrderID)
		}
		return ids
	}
	assert.Equal(t, run(), run())
}

// A retried place with the same client order id is recognized as a
// duplicate and does not open a second order.
func TestSimDeduplicatesByClientID(t *testing.T) {
	s := NewSimExchange(simRules)

	first, err := s.Place(context.Background(), intent("c1", models.Buy, "100.00", "1"))
	require.NoError(t, err)
	second, err := s.Place(context.Background(), intent("c1", models.Buy, "100.00", "1"))
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	open, err := s.QueryOpenOrders(context.Background(), "BNBUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSimRejectsVenueIllegalOrders(t *testing.T) {
	s := NewSimExchange(simRules)

	_, err := s.Place(context.Background(), intent("c1", models.Buy, "100.005", "1"))
	assert.Equal(t, CodeTickSize, CodeOf(err))

	_, err = s.Place(context.Background(), intent("c2", models.Buy, "100.00", "0.001"))
	assert.Equal(t, CodeMinNotional, CodeOf(err))

	assert.Equal(t, CodeUnknownOrder, CodeOf(s.Cancel(context.Background(), "BNBUSDT", "SIM-99")))
}

func TestSimFillMovesPosition(t *testing.T) {
	s := NewSimExchange(simRules)

	buy, err := s.Place(context.Background(), intent("c1", models.Buy, "100.00", "2"))
	require.NoError(t, err)
	sell, err := s.Place(context.Background(), intent("c2", models.Sell, "101.00", "0.5"))
	require.NoError(t, err)

	_, ok := s.Fill(buy.OrderID)
	require.True(t, ok)
	_, ok = s.Fill(sell.OrderID)
	require.True(t, ok)

	pos, err := s.QueryPosition(context.Background(), "BNBUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Equal(d("1.5")))

	open, err := s.QueryOpenOrders(context.Background(), "BNBUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

// Crossing the book against a snapshot fills exactly the orders the prices
// reach, at their limit price, and leaves the rest resting.
func TestSimCrossFillsReachedOrders(t *testing.T) {
	s := NewSimExchange(simRules)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	buy, err := s.Place(context.Background(), intent("c1", models.Buy, "100.00", "0.5"))
	require.NoError(t, err)
	sell, err := s.Place(context.Background(), intent("c2", models.Sell, "105.00", "0.5"))
	require.NoError(t, err)

	// Ask trades down through the buy; the sell stays untouched.
	execs := s.Cross("BNBUSDT", d("99.50"), d("99.60"), ts)
	require.Len(t, execs, 1)
	assert.Equal(t, buy.OrderID, execs[0].OrderID)
	assert.Equal(t, models.Buy, execs[0].Side)
	assert.True(t, execs[0].Price.Equal(d("100.00")))
	assert.True(t, execs[0].Qty.Equal(d("0.5")))

	pos, err := s.QueryPosition(context.Background(), "BNBUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Equal(d("0.5")))

	st, err := s.QueryOrder(context.Background(), "BNBUSDT", buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, st.Status)
	assert.True(t, st.ExecutedQty.Equal(d("0.5")))

	st, err = s.QueryOrder(context.Background(), "BNBUSDT", sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, st.Status)

	// Bid trades up through the sell, flattening the position.
	execs = s.Cross("BNBUSDT", d("105.00"), d("105.10"), ts.Add(time.Second))
	require.Len(t, execs, 1)
	assert.Equal(t, sell.OrderID, execs[0].OrderID)

	pos, err = s.QueryPosition(context.Background(), "BNBUSDT")
	require.NoError(t, err)
	assert.True(t, pos.IsZero())
}

func TestSimQueryOrderLifecycle(t *testing.T) {
	s := NewSimExchange(simRules)

	o, err := s.Place(context.Background(), intent("c1", models.Buy, "100.00", "1"))
	require.NoError(t, err)
	require.NoError(t, s.Cancel(context.Background(), "BNBUSDT", o.OrderID))

	st, err := s.QueryOrder(context.Background(), "BNBUSDT", o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, st.Status)

	_, err = s.QueryOrder(context.Background(), "BNBUSDT", "SIM-999")
	assert.Equal(t, CodeUnknownOrder, CodeOf(err))
}

func fastRetrying(inner Port, maxRetries int) *RetryingPort {
	p := NewRetryingPort(inner, maxRetries, zap.NewNop().Sugar())
	p.newBackoff = func() *backoff.Backoff {
		return &backoff.Backoff{Min: time.Microsecond, Max: time.Microsecond, Factor: 1}
	}
	return p
}

// A rate-limited place is retried with the same client order id, so the
// venue sees a duplicate, not a second order.
func TestRetryReusesIdempotencyKey(t *testing.T) {
	s := NewSimExchange(simRules)
	p := fastRetrying(s, 3)

	s.FailNext("place", CodeRateLimited)
	order, err := p.Place(context.Background(), intent("c1", models.Buy, "100.00", "1"))
	require.NoError(t, err)
	assert.Equal(t, "SIM-1", order.OrderID)

	open, err := s.QueryOpenOrders(context.Background(), "BNBUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestNonRetryableErrorsSurfaceImmediately(t *testing.T) {
	s := NewSimExchange(simRules)
	p := fastRetrying(s, 3)

	s.FailNext("place", CodeAuth)
	_, err := p.Place(context.Background(), intent("c1", models.Buy, "100.00", "1"))
	assert.Equal(t, CodeAuth, CodeOf(err))

	// The injected failure consumed the only attempt.
	open, err := s.QueryOpenOrders(context.Background(), "BNBUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRetryBoundedByMaxRetries(t *testing.T) {
	s := NewSimExchange(simRules)
	p := fastRetrying(s, 0)

	s.FailNext("cancel", CodeTimeout)
	err := p.Cancel(context.Background(), "BNBUSDT", "SIM-1")
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.True(t, IsRetryable(err))
}

func TestSimAmendKeepsOrderID(t *testing.T) {
	s := NewSimExchange(simRules)

	o, err := s.Place(context.Background(), intent("c1", models.Buy, "100.00", "1"))
	require.NoError(t, err)

	amended, err := s.Amend(context.Background(), "BNBUSDT", o.OrderID, intent("c2", models.Buy, "100.50", "1"))
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, amended.OrderID)
	assert.True(t, amended.Intent.Price.Equal(d("100.50")))
}
