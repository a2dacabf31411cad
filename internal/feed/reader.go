// Package feed turns the canonical snapshot stream into models.Snapshot
// values. All price and quantity fields travel as decimal strings so parsing
// is identical across platforms.
package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// record is the wire form of one feed line.
type record struct {
	TS        *int64  `json:"ts"` // epoch milliseconds
	Symbol    string  `json:"symbol"`
	BidPrice  *string `json:"bid_price"`
	AskPrice  *string `json:"ask_price"`
	BidQty    *string `json:"bid_qty"`
	AskQty    *string `json:"ask_qty"`
	LastPrice *string `json:"last_price"`
	LastQty   *string `json:"last_qty"`
}

// ParseRecord parses one canonical feed line. Missing fields and malformed
// decimals are rejected per record; the caller keeps reading the stream.
func ParseRecord(line []byte) (models.Snapshot, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return models.Snapshot{}, fmt.Errorf("feed: malformed record: %w", err)
	}
	if rec.TS == nil || rec.Symbol == "" {
		return models.Snapshot{}, fmt.Errorf("feed: record missing ts or symbol")
	}

	fields := map[string]*string{
		"bid_price":  rec.BidPrice,
		"ask_price":  rec.AskPrice,
		"bid_qty":    rec.BidQty,
		"ask_qty":    rec.AskQty,
		"last_price": rec.LastPrice,
		"last_qty":   rec.LastQty,
	}
	parsed := make(map[string]decimal.Decimal, len(fields))
	for name, v := range fields {
		if v == nil {
			return models.Snapshot{}, fmt.Errorf("feed: record missing field %s", name)
		}
		dec, err := decimal.NewFromString(*v)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("feed: field %s: %w", name, err)
		}
		parsed[name] = dec
	}

	return models.Snapshot{
		TS:        time.UnixMilli(*rec.TS).UTC(),
		Symbol:    rec.Symbol,
		BidPrice:  parsed["bid_price"],
		AskPrice:  parsed["ask_price"],
		BidQty:    parsed["bid_qty"],
		AskQty:    parsed["ask_qty"],
		LastPrice: parsed["last_price"],
		LastQty:   parsed["last_qty"],
	}, nil
}

// Reader reads a JSONL snapshot stream in arrival order. Malformed records
// are counted and skipped; timestamps must be non-decreasing per symbol.
type Reader struct {
	sc          *bufio.Scanner
	lastTS      map[string]time.Time
	parseErrors int64
	metrics     *telemetry.Metrics
	logger      *zap.SugaredLogger
}

// NewReader wraps an io.Reader producing one record per line.
func NewReader(r io.Reader, metrics *telemetry.Metrics, logger *zap.SugaredLogger) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{
		sc:      sc,
		lastTS:  make(map[string]time.Time),
		metrics: metrics,
		logger:  logger,
	}
}

// Next returns the next valid snapshot, skipping rejected records.
// Returns io.EOF once the stream is exhausted.
func (r *Reader) Next() (models.Snapshot, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		snap, err := ParseRecord(line)
		if err != nil {
			r.reject(err)
			continue
		}
		if last, ok := r.lastTS[snap.Symbol]; ok && snap.TS.Before(last) {
			r.reject(fmt.Errorf("feed: %s timestamp regression: %s before %s", snap.Symbol, snap.TS, last))
			continue
		}
		r.lastTS[snap.Symbol] = snap.TS
		return snap, nil
	}
	if err := r.sc.Err(); err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{}, io.EOF
}

func (r *Reader) reject(err error) {
	r.parseErrors++
	if r.metrics != nil {
		r.metrics.ParseErrors.Inc()
	}
	if r.logger != nil {
		r.logger.Warnf("rejecting feed record: %v", err)
	}
}

// ParseErrors returns the number of records rejected so far.
func (r *Reader) ParseErrors() int64 {
	return r.parseErrors
}
