package models

import (
	"strings"
	"time"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// MaxClientIDLen is the venue limit for client order ids (Binance futures
// allows 36 characters).
const MaxClientIDLen = 36

// OrderIntent is one desired order. The ClientID doubles as the idempotency
// key: a retried submission carries the same id, so the venue recognizes the
// duplicate instead of creating a second order.
type OrderIntent struct {
	Symbol         string
	Side           Side
	Price          decimal.Decimal
	Qty            decimal.Decimal
	Seq            uint64
	ClientID       string
	IdempotencyKey string
	ReduceOnly     bool
}

// NewOrderIntent builds an intent with a deterministic client id.
func NewOrderIntent(strategyID, symbol string, side Side, price, qty decimal.Decimal, seq uint64, ts time.Time) OrderIntent {
	id := ClientOrderID(strategyID, symbol, seq, ts)
	return OrderIntent{
		Symbol:         symbol,
		Side:           side,
		Price:          price,
		Qty:            qty,
		Seq:            seq,
		ClientID:       id,
		IdempotencyKey: id,
	}
}

// Notional returns |price*qty| of the intent.
func (i OrderIntent) Notional() decimal.Decimal {
	return i.Price.Mul(i.Qty).Abs()
}

// ClientOrderID is a pure function of (strategy id, symbol, sequence,
// timestamp truncated to the minute). The same inputs always yield the same
// id, and the result never exceeds MaxClientIDLen: the human-readable prefix
// is trimmed before the distinguishing suffix ever is.
func ClientOrderID(strategyID, symbol string, seq uint64, ts time.Time) string {
	minute := uint64(ts.Truncate(time.Minute).Unix())
	suffix := "-" + string(base62.FormatUint(minute)) + "-" + string(base62.FormatUint(seq))

	prefix := strategyID + strings.ToLower(symbol)
	if max := MaxClientIDLen - len(suffix); len(prefix) > max {
		prefix = prefix[:max]
	}
	return prefix + suffix
}
