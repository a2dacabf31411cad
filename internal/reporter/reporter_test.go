package reporter

import (
	"bytes"
	"testing"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func trip(pnl string) models.RoundTrip {
	return models.RoundTrip{
		Symbol:      "BNBUSDT",
		OpenTS:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		CloseTS:     time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
		Qty:         decimal.RequireFromString("1"),
		EntryPrice:  decimal.RequireFromString("100"),
		ExitPrice:   decimal.RequireFromString("101"),
		Fees:        decimal.RequireFromString("0.1"),
		RealizedPnL: decimal.RequireFromString(pnl),
	}
}

func TestWriteSummaryRendersAggregates(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, RunStats{
		DataPath: "data/bnb.ndjson",
		Symbols:  []string{"BNBUSDT"},
		Digest:   "a1b2c3d4e5f60718",
		Trips:    []models.RoundTrip{trip("0.9"), trip("-0.3")},
	})

	out := buf.String()
	assert.Contains(t, out, "a1b2c3d4e5f60718")
	assert.Contains(t, out, "50.00")
	assert.Contains(t, out, "Realized PnL")
}

func TestWriteRoundTripsSkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	WriteRoundTrips(&buf, nil)
	assert.Zero(t, buf.Len())

	WriteRoundTrips(&buf, []models.RoundTrip{trip("0.9")})
	assert.Contains(t, buf.String(), "BNBUSDT")
}
