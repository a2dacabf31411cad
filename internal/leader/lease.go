// Package leader guards risk-submitting operations across a fleet of
// identical instances. At most one instance holds the lease at a time, and
// every privileged call re-presents its fencing token to the backend so a
// paused or partitioned ex-leader is rejected instead of trusted.
package leader

import (
	"errors"
	"sync"
	"time"
)

// Lease is the shared coordination record. Token strictly increases across
// acquisitions, including re-acquisition by the same holder.
type Lease struct {
	Holder string
	Expiry time.Time
	Token  uint64
}

var (
	// ErrLeaseHeld is returned by Acquire while another holder's lease is live.
	ErrLeaseHeld = errors.New("lease held by another instance")
	// ErrNotHolder is returned by Renew and Release when the caller no
	// longer owns the lease.
	ErrNotHolder = errors.New("not the lease holder")
	// ErrStaleToken is returned by Validate for any token below the latest
	// issued one.
	ErrStaleToken = errors.New("stale fencing token")
)

// Backend is the shared coordination store. All methods take the caller's
// clock reading so replay and tests stay deterministic.
type Backend interface {
	// Acquire grants the lease to holder if it is free or expired at now.
	Acquire(holder string, ttl time.Duration, now time.Time) (Lease, error)

	// Renew extends the lease. The presented token must match the live
	// lease exactly.
	Renew(holder string, token uint64, ttl time.Duration, now time.Time) (Lease, error)

	// Release frees the lease early.
	Release(holder string, token uint64) error

	// Validate rejects any token that is not the one on the live lease.
	// Privileged callers invoke this immediately before a port call.
	Validate(token uint64, now time.Time) error
}

// MemoryBackend is an in-process Backend used in tests and single-host
// fleet simulation.
type MemoryBackend struct {
	mu        sync.Mutex
	lease     *Lease
	lastToken uint64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Acquire(holder string, ttl time.Duration, now time.Time) (Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lease != nil && now.Before(b.lease.Expiry) && b.lease.Holder != holder {
		return Lease{}, ErrLeaseHeld
	}
	b.lastToken++
	b.lease = &Lease{Holder: holder, Expiry: now.Add(ttl), Token: b.lastToken}
	return *b.lease, nil
}

func (b *MemoryBackend) Renew(holder string, token uint64, ttl time.Duration, now time.Time) (Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lease == nil || b.lease.Holder != holder || b.lease.Token != token {
		return Lease{}, ErrNotHolder
	}
	if !now.Before(b.lease.Expiry) {
		// An expired lease cannot be renewed, only re-acquired with a
		// fresh token.
		return Lease{}, ErrNotHolder
	}
	b.lease.Expiry = now.Add(ttl)
	return *b.lease, nil
}

func (b *MemoryBackend) Release(holder string, token uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lease == nil || b.lease.Holder != holder || b.lease.Token != token {
		return ErrNotHolder
	}
	b.lease = nil
	return nil
}

func (b *MemoryBackend) Validate(token uint64, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lease == nil || b.lease.Token != token || !now.Before(b.lease.Expiry) {
		return ErrStaleToken
	}
	return nil
}
