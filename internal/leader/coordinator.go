package leader

import (
	"context"
	"sync"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/persistence"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Coordinator runs one instance's side of the leader election: acquire,
// renew on a period, and self-demote when the lease cannot be confirmed
// within TTL plus the configured clock-skew allowance. Non-leaders keep
// running read-only paths; only submission asks IsLeader/Token.
type Coordinator struct {
	backend Backend
	repo    persistence.StateRepository
	metrics *telemetry.Metrics
	logger  *zap.SugaredLogger

	holderID   string
	ttl        time.Duration
	renewEvery time.Duration
	skew       time.Duration
	clock      func() time.Time

	mu     sync.Mutex
	lease  *Lease
	leader bool
}

// NewCoordinator derives a unique holder id from the instance name so two
// processes launched from the same config never collide.
func NewCoordinator(cfg models.LeaderConfig, instance string, backend Backend, repo persistence.StateRepository, metrics *telemetry.Metrics, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		backend:    backend,
		repo:       repo,
		metrics:    metrics,
		logger:     logger,
		holderID:   instance + "-" + uuid.NewString(),
		ttl:        time.Duration(cfg.LeaseTTLMs) * time.Millisecond,
		renewEvery: time.Duration(cfg.RenewEveryMs) * time.Millisecond,
		skew:       time.Duration(cfg.ClockSkewMs) * time.Millisecond,
		clock:      time.Now,
	}
}

// HolderID returns this instance's identity on the coordination record.
func (c *Coordinator) HolderID() string {
	return c.holderID
}

// IsLeader reports whether this instance currently believes it holds the
// lease. Belief alone never authorizes a submission; Token must also pass
// the backend's Validate at the call site.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader && c.lease != nil && c.clock().Before(c.lease.Expiry.Add(c.skew))
}

// Token returns the current fencing token. ok is false while not leading.
func (c *Coordinator) Token() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.leader || c.lease == nil {
		return 0, false
	}
	return c.lease.Token, true
}

// ValidateToken re-checks the fencing token against the backend. Called
// immediately before every privileged port call, after any queueing delay.
func (c *Coordinator) ValidateToken(token uint64) error {
	return c.backend.Validate(token, c.clock())
}

// Run drives acquisition and renewal until ctx is cancelled, then releases
// the lease if held.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.renewEvery)
	defer ticker.Stop()

	c.Tick()
	for {
		select {
		case <-ctx.Done():
			c.release()
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick performs one acquire-or-renew step. Exported so replay harnesses can
// drive election deterministically without the background loop.
func (c *Coordinator) Tick() {
	now := c.clock()

	c.mu.Lock()
	lease := c.lease
	leading := c.leader
	c.mu.Unlock()

	if leading && lease != nil {
		renewed, err := c.backend.Renew(c.holderID, lease.Token, c.ttl, now)
		if err == nil {
			c.adopt(renewed)
			return
		}
		c.demote("renewal failed", err)
	}

	acquired, err := c.backend.Acquire(c.holderID, c.ttl, now)
	if err != nil {
		c.demote("lease unavailable", err)
		return
	}
	c.logger.Infow("leader lease acquired",
		"holder", c.holderID, "token", acquired.Token, "expiry", acquired.Expiry)
	c.adopt(acquired)
}

func (c *Coordinator) adopt(l Lease) {
	c.mu.Lock()
	c.lease = &l
	c.leader = true
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.LeaderIsHolder.Set(1)
	}
	if c.repo != nil {
		rec := persistence.LeaseRecord{Holder: l.Holder, Expiry: l.Expiry, Token: l.Token}
		if err := c.repo.SaveLease(rec); err != nil {
			c.logger.Errorw("failed to cache lease record", "error", err)
		}
	}
}

func (c *Coordinator) demote(cause string, err error) {
	c.mu.Lock()
	was := c.leader
	c.leader = false
	c.lease = nil
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.LeaderIsHolder.Set(0)
	}
	if was {
		c.logger.Warnw("demoted from leader", "cause", cause, "error", err)
	}
}

func (c *Coordinator) release() {
	c.mu.Lock()
	lease := c.lease
	c.mu.Unlock()

	if lease != nil {
		if err := c.backend.Release(c.holderID, lease.Token); err != nil {
			c.logger.Warnw("lease release failed", "error", err)
		}
	}
	c.demote("shutdown", nil)
}
