package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOrderIDDeterministic(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)

	a := ClientOrderID("grinder", "BTCUSDT", 42, ts)
	b := ClientOrderID("grinder", "BTCUSDT", 42, ts)
	assert.Equal(t, a, b, "same inputs must yield the same client id")

	// Within the same truncated minute the id must not change.
	later := ts.Add(10 * time.Second)
	assert.Equal(t, a, ClientOrderID("grinder", "BTCUSDT", 42, later))

	// A different sequence or minute must change it.
	assert.NotEqual(t, a, ClientOrderID("grinder", "BTCUSDT", 43, ts))
	assert.NotEqual(t, a, ClientOrderID("grinder", "BTCUSDT", 42, ts.Add(time.Minute)))
}

func TestClientOrderIDLengthBound(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	longStrategy := strings.Repeat("x", 64)
	id := ClientOrderID(longStrategy, "BTCUSDT", 18446744073709551615, ts)
	require.LessOrEqual(t, len(id), MaxClientIDLen)

	// Trimming the prefix must not destroy the distinguishing suffix.
	other := ClientOrderID(longStrategy, "BTCUSDT", 18446744073709551614, ts)
	assert.NotEqual(t, id, other)
}

func TestNewOrderIntentIdempotencyKey(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	i := NewOrderIntent("grinder", "BNBUSDT", Buy, decimal.RequireFromString("600.10"), decimal.RequireFromString("0.5"), 7, ts)

	assert.Equal(t, i.ClientID, i.IdempotencyKey)
	assert.True(t, i.Notional().Equal(decimal.RequireFromString("300.05")))
}
