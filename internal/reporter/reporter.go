// Package reporter renders the end-of-run performance summary.
package reporter

import (
	"io"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
)

// RunStats aggregates one replay run for reporting.
type RunStats struct {
	DataPath    string
	Symbols     []string
	StartTS     time.Time
	EndTS       time.Time
	Digest      string
	ParseErrors int64
	Trips       []models.RoundTrip
}

// WriteSummary renders the run header and the aggregate trade statistics.
func WriteSummary(w io.Writer, stats RunStats) {
	total := decimal.Zero
	fees := decimal.Zero
	wins, losses := 0, 0
	for _, trip := range stats.Trips {
		total = total.Add(trip.RealizedPnL)
		fees = fees.Add(trip.Fees)
		if trip.RealizedPnL.IsPositive() {
			wins++
		} else {
			losses++
		}
	}
	winRate := decimal.Zero
	if len(stats.Trips) > 0 {
		winRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(len(stats.Trips)))).
			Mul(decimal.NewFromInt(100))
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Run Summary")
	t.AppendRows([]table.Row{
		{"Data", stats.DataPath},
		{"Symbols", stats.Symbols},
		{"Window", stats.StartTS.Format(time.RFC3339) + " .. " + stats.EndTS.Format(time.RFC3339)},
		{"Decision digest", stats.Digest},
		{"Rejected records", stats.ParseErrors},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Round trips", len(stats.Trips)},
		{"Winning / losing", wins, losses},
		{"Win rate %", winRate.StringFixed(2)},
		{"Total fees", fees.String()},
		{"Realized PnL", total.String()},
	})
	t.Render()
}

// WriteRoundTrips renders every completed open-close cycle.
func WriteRoundTrips(w io.Writer, trips []models.RoundTrip) {
	if len(trips) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Round Trips")
	t.AppendHeader(table.Row{"#", "Symbol", "Opened", "Closed", "Qty", "Entry", "Exit", "Fees", "PnL"})
	for i, trip := range trips {
		t.AppendRow(table.Row{
			i + 1,
			trip.Symbol,
			trip.OpenTS.Format("01-02 15:04:05"),
			trip.CloseTS.Format("01-02 15:04:05"),
			trip.Qty.String(),
			trip.EntryPrice.String(),
			trip.ExitPrice.String(),
			trip.Fees.StringFixed(4),
			trip.RealizedPnL.StringFixed(4),
		})
	}
	t.Render()
}
