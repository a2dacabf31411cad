package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsRedialWait = 5 * time.Second
)

// bookTickerEvent is the venue's best-bid/ask stream payload.
type bookTickerEvent struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
	EventMs  int64  `json:"E"`
}

// WSSource subscribes to the venue bookTicker stream for one symbol and
// emits snapshots on Out. It maintains its own reconnect loop; a broken
// connection is redialed until the context is cancelled.
type WSSource struct {
	baseURL string
	symbol  string
	out     chan models.Snapshot
	logger  *zap.SugaredLogger
}

// NewWSSource creates a live snapshot source. baseURL is the venue ws
// endpoint, e.g. "wss://fstream.binance.com".
func NewWSSource(baseURL, symbol string, logger *zap.SugaredLogger) *WSSource {
	return &WSSource{
		baseURL: baseURL,
		symbol:  symbol,
		out:     make(chan models.Snapshot, 256),
		logger:  logger,
	}
}

// Out is the stream of live snapshots, in arrival order.
func (s *WSSource) Out() <-chan models.Snapshot {
	return s.out
}

// Run dials and reads until ctx is cancelled, redialing on any failure.
func (s *WSSource) Run(ctx context.Context) {
	defer close(s.out)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warnf("feed websocket disconnected: %v, redialing in %s", err, wsRedialWait)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wsRedialWait):
		}
	}
}

func (s *WSSource) readLoop(ctx context.Context) error {
	url := fmt.Sprintf("%s/ws/%s@bookTicker", s.baseURL, strings.ToLower(s.symbol))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	s.logger.Infof("feed websocket connected: %s", url)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()
	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var ev bookTickerEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			s.logger.Warnf("feed websocket: malformed payload: %v", err)
			continue
		}
		snap, err := s.toSnapshot(ev)
		if err != nil {
			s.logger.Warnf("feed websocket: %v", err)
			continue
		}

		select {
		case s.out <- snap:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *WSSource) toSnapshot(ev bookTickerEvent) (models.Snapshot, error) {
	bid, err := decimal.NewFromString(ev.BidPrice)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("bid price: %w", err)
	}
	ask, err := decimal.NewFromString(ev.AskPrice)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("ask price: %w", err)
	}
	bidQty, err := decimal.NewFromString(ev.BidQty)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("bid qty: %w", err)
	}
	askQty, err := decimal.NewFromString(ev.AskQty)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("ask qty: %w", err)
	}

	snap := models.Snapshot{
		TS:     time.UnixMilli(ev.EventMs).UTC(),
		Symbol: ev.Symbol,
		BidPrice: bid, AskPrice: ask,
		BidQty: bidQty, AskQty: askQty,
		LastQty: decimal.Zero,
	}
	// bookTicker carries no trade price; the midpoint stands in for it.
	snap.LastPrice = snap.Mid()
	return snap, nil
}
