package exchange

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultCallTimeout = 10 * time.Second

// BinancePort adapts the Binance USD-M futures API to the Port interface.
// The venue has no in-place amend for resting limit orders, so Amend is a
// cancel followed by a place carrying the new client order id.
type BinancePort struct {
	client  *futures.Client
	metrics *telemetry.Metrics
	logger  *zap.SugaredLogger
}

func NewBinancePort(apiKey, secretKey string, useTestnet bool, metrics *telemetry.Metrics, logger *zap.SugaredLogger) *BinancePort {
	futures.UseTestnet = useTestnet
	return &BinancePort{
		client:  binance.NewFuturesClient(apiKey, secretKey),
		metrics: metrics,
		logger:  logger,
	}
}

func (p *BinancePort) Place(ctx context.Context, intent models.OrderIntent) (models.OpenOrder, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	p.countCall("place")

	side := futures.SideTypeBuy
	if intent.Side == models.Sell {
		side = futures.SideTypeSell
	}
	svc := p.client.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(side).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(intent.Qty.String()).
		Price(intent.Price.String()).
		NewClientOrderID(intent.ClientID)
	if intent.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.OpenOrder{}, p.wrap("place", err)
	}
	return models.OpenOrder{
		OrderID:   strconv.FormatInt(res.OrderID, 10),
		Intent:    intent,
		UpdatedTS: time.UnixMilli(res.UpdateTime).UTC(),
	}, nil
}

func (p *BinancePort) Cancel(ctx context.Context, symbol, orderID string) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	p.countCall("cancel")

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return newPortError("cancel", CodeUnknownOrder, err)
	}
	if _, err := p.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return p.wrap("cancel", err)
	}
	return nil
}

func (p *BinancePort) Amend(ctx context.Context, symbol, orderID string, intent models.OrderIntent) (models.OpenOrder, error) {
	if err := p.Cancel(ctx, symbol, orderID); err != nil {
		return models.OpenOrder{}, err
	}
	return p.Place(ctx, intent)
}

func (p *BinancePort) QueryOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	p.countCall("queryOpenOrders")

	orders, err := p.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, p.wrap("queryOpenOrders", err)
	}
	out := make([]models.OpenOrder, 0, len(orders))
	for _, o := range orders {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, newPortError("queryOpenOrders", CodeUnknown, err)
		}
		qty, err := decimal.NewFromString(o.OrigQuantity)
		if err != nil {
			return nil, newPortError("queryOpenOrders", CodeUnknown, err)
		}
		side := models.Buy
		if o.Side == futures.SideTypeSell {
			side = models.Sell
		}
		out = append(out, models.OpenOrder{
			OrderID: strconv.FormatInt(o.OrderID, 10),
			Intent: models.OrderIntent{
				Symbol:   symbol,
				Side:     side,
				Price:    price,
				Qty:      qty,
				ClientID: o.ClientOrderID,
			},
			UpdatedTS: time.UnixMilli(o.UpdateTime).UTC(),
		})
	}
	return out, nil
}

func (p *BinancePort) QueryOrder(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	p.countCall("queryOrder")

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return OrderStatus{}, newPortError("queryOrder", CodeUnknownOrder, err)
	}
	res, err := p.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return OrderStatus{}, p.wrap("queryOrder", err)
	}
	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return OrderStatus{}, newPortError("queryOrder", CodeUnknown, err)
	}
	avg, err := decimal.NewFromString(res.AvgPrice)
	if err != nil {
		return OrderStatus{}, newPortError("queryOrder", CodeUnknown, err)
	}
	return OrderStatus{
		OrderID:     orderID,
		Status:      string(res.Status),
		ExecutedQty: executed,
		AvgPrice:    avg,
		UpdatedTS:   time.UnixMilli(res.UpdateTime).UTC(),
	}, nil
}

func (p *BinancePort) QueryPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	p.countCall("queryPosition")

	positions, err := p.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, p.wrap("queryPosition", err)
	}
	total := decimal.Zero
	for _, pos := range positions {
		amt, err := decimal.NewFromString(pos.PositionAmt)
		if err != nil {
			return decimal.Zero, newPortError("queryPosition", CodeUnknown, err)
		}
		total = total.Add(amt)
	}
	return total, nil
}

func (p *BinancePort) wrap(op string, err error) error {
	code := classify(err)
	if p.metrics != nil {
		p.metrics.PortErrors.WithLabelValues(string(code)).Inc()
	}
	p.logger.Warnw("port call failed", "op", op, "code", code, "error", err)
	return newPortError(op, code, err)
}

// classify maps venue errors onto the closed taxonomy. Unmapped API codes
// fall through to CodeUnknown rather than guessing.
func classify(err error) ErrCode {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return CodeUnknown
	}
	switch apiErr.Code {
	case -1003, -1015:
		return CodeRateLimited
	case -1007:
		return CodeTimeout
	case -1111, -4014:
		return CodeTickSize
	case -4164:
		return CodeMinNotional
	case -2011, -2013:
		return CodeUnknownOrder
	case -1022, -2014, -2015:
		return CodeAuth
	case -1013:
		msg := strings.ToUpper(apiErr.Message)
		if strings.Contains(msg, "NOTIONAL") {
			return CodeMinNotional
		}
		return CodeTickSize
	}
	if strings.Contains(strings.ToLower(apiErr.Message), "duplicate") {
		return CodeDuplicateClientID
	}
	return CodeUnknown
}

func (p *BinancePort) countCall(op string) {
	if p.metrics != nil {
		p.metrics.PortCalls.WithLabelValues(op).Inc()
	}
}

func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultCallTimeout)
}
