package budget

import (
	"sync"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Breaker is the safety circuit breaker over the gate pipeline. It watches
// the block rate within a rolling window measured on snapshot timestamps
// and trips when the rate crosses the configured threshold. Once tripped it
// stays open until an operator calls Reset; recovery is never automatic.
type Breaker struct {
	mu      sync.Mutex
	cfg     models.BreakerConfig
	samples []sample
	tripped bool
	metrics *telemetry.Metrics
	logger  *zap.SugaredLogger
}

type sample struct {
	ts      time.Time
	blocked bool
}

func NewBreaker(cfg models.BreakerConfig, metrics *telemetry.Metrics, logger *zap.SugaredLogger) *Breaker {
	return &Breaker{cfg: cfg, metrics: metrics, logger: logger}
}

// Observe records one gate pipeline outcome at the snapshot timestamp and
// re-evaluates the block rate over the window.
func (b *Breaker) Observe(ts time.Time, blocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, sample{ts: ts, blocked: blocked})
	b.evict(ts)

	if b.tripped || len(b.samples) < b.cfg.MinSamples {
		return
	}

	blockedN := int64(0)
	for _, s := range b.samples {
		if s.blocked {
			blockedN++
		}
	}
	// blocked/n >= threshold, compared cross-multiplied so no float enters
	// the decision.
	total := decimal.NewFromInt(int64(len(b.samples)))
	if decimal.NewFromInt(blockedN).GreaterThanOrEqual(b.cfg.BlockRateThreshold.Mul(total)) {
		b.tripped = true
		if b.metrics != nil {
			b.metrics.BreakerTripped.Set(1)
		}
		b.logger.Errorw("circuit breaker tripped",
			"blocked", blockedN,
			"threshold", b.cfg.BlockRateThreshold.String(),
			"samples", len(b.samples),
			"windowSec", b.cfg.WindowSec)
	}
}

// Tripped reports whether the breaker is open.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Reset closes the breaker after operator intervention and clears the
// sample window so stale blocks cannot re-trip it immediately.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return
	}
	b.tripped = false
	b.samples = b.samples[:0]
	if b.metrics != nil {
		b.metrics.BreakerTripped.Set(0)
	}
	b.logger.Warnw("circuit breaker reset by operator")
}

func (b *Breaker) evict(now time.Time) {
	cutoff := now.Add(-time.Duration(b.cfg.WindowSec) * time.Second)
	i := 0
	for i < len(b.samples) && b.samples[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = b.samples[i:]
	}
}
