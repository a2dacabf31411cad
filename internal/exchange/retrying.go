package exchange

import (
	"context"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RetryingPort decorates a Port with bounded exponential backoff for
// retryable failures only. Retried mutations carry the same client order
// id, so the venue deduplicates them instead of opening a second order.
type RetryingPort struct {
	inner      Port
	maxRetries int
	newBackoff func() *backoff.Backoff
	logger     *zap.SugaredLogger
}

func NewRetryingPort(inner Port, maxRetries int, logger *zap.SugaredLogger) *RetryingPort {
	return &RetryingPort{
		inner:      inner,
		maxRetries: maxRetries,
		newBackoff: func() *backoff.Backoff {
			return &backoff.Backoff{Min: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
		},
		logger: logger,
	}
}

func (p *RetryingPort) Place(ctx context.Context, intent models.OrderIntent) (models.OpenOrder, error) {
	var out models.OpenOrder
	err := p.retry(ctx, "place", func() error {
		var err error
		out, err = p.inner.Place(ctx, intent)
		return err
	})
	return out, err
}

func (p *RetryingPort) Cancel(ctx context.Context, symbol, orderID string) error {
	return p.retry(ctx, "cancel", func() error {
		return p.inner.Cancel(ctx, symbol, orderID)
	})
}

func (p *RetryingPort) Amend(ctx context.Context, symbol, orderID string, intent models.OrderIntent) (models.OpenOrder, error) {
	var out models.OpenOrder
	err := p.retry(ctx, "amend", func() error {
		var err error
		out, err = p.inner.Amend(ctx, symbol, orderID, intent)
		return err
	})
	return out, err
}

func (p *RetryingPort) QueryOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	var out []models.OpenOrder
	err := p.retry(ctx, "queryOpenOrders", func() error {
		var err error
		out, err = p.inner.QueryOpenOrders(ctx, symbol)
		return err
	})
	return out, err
}

func (p *RetryingPort) QueryOrder(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	var out OrderStatus
	err := p.retry(ctx, "queryOrder", func() error {
		var err error
		out, err = p.inner.QueryOrder(ctx, symbol, orderID)
		return err
	})
	return out, err
}

func (p *RetryingPort) QueryPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := p.retry(ctx, "queryPosition", func() error {
		var err error
		out, err = p.inner.QueryPosition(ctx, symbol)
		return err
	})
	return out, err
}

func (p *RetryingPort) retry(ctx context.Context, op string, call func() error) error {
	b := p.newBackoff()
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= p.maxRetries {
			return err
		}

		wait := b.Duration()
		p.logger.Warnw("retrying port call",
			"op", op, "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return newPortError(op, CodeTimeout, ctx.Err())
		case <-time.After(wait):
		}
	}
}
