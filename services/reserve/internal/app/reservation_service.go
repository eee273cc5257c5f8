package app

import (
	"context"
	"errors"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/clock"
	"github.com/giftwell/giftwell/services/reserve/internal/domain"
)

const (
	defaultLeaseTTL = 15 * time.Minute

	// acquireAttempts bounds the insert/read-back loop when holders churn
	// between the failed insert and the read.
	acquireAttempts = 3
)

// ReservationService enforces at-most-one-holder on reservable resources.
// It is stateless; all shared state lives in the LeaseStore.
type ReservationService struct {
	store      LeaseStore
	clock      clock.Clock
	pub        EventPublisher
	metrics    *Metrics
	defaultTTL time.Duration
	kindTTL    map[domain.ResourceKind]time.Duration
}

type ReservationOption func(*ReservationService)

// WithDefaultTTL overrides the TTL applied when callers pass zero.
func WithDefaultTTL(d time.Duration) ReservationOption {
	return func(s *ReservationService) {
		if d > 0 {
			s.defaultTTL = d
		}
	}
}

// WithKindTTL sets a per-kind default window, e.g. minutes for gift-item
// checkout locks versus days for in-store product holds.
func WithKindTTL(kind domain.ResourceKind, d time.Duration) ReservationOption {
	return func(s *ReservationService) {
		if d > 0 {
			s.kindTTL[kind] = d
		}
	}
}

func WithPublisher(pub EventPublisher) ReservationOption {
	return func(s *ReservationService) {
		s.pub = pub
	}
}

func WithMetrics(m *Metrics) ReservationOption {
	return func(s *ReservationService) {
		s.metrics = m
	}
}

func NewReservationService(store LeaseStore, clk clock.Clock, opts ...ReservationOption) *ReservationService {
	svc := &ReservationService{
		store:      store,
		clock:      clk,
		defaultTTL: defaultLeaseTTL,
		kindTTL:    make(map[domain.ResourceKind]time.Duration),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Acquire grants a fresh lease on the resource, or reports the current
// holder's expiry via *domain.AlreadyHeldError when someone else holds it.
// A zero ttl means the configured default; negative ttls are rejected.
func (s *ReservationService) Acquire(ctx context.Context, res domain.Resource, holderID string, ttl time.Duration) (domain.Lease, error) {
	if !res.Kind.Valid() || res.ID == "" {
		return domain.Lease{}, domain.ErrInvalidResource
	}
	if holderID == "" {
		return domain.Lease{}, domain.ErrHolderRequired
	}
	if ttl < 0 {
		return domain.Lease{}, domain.ErrInvalidTTL
	}
	if ttl == 0 {
		if d, ok := s.kindTTL[res.Kind]; ok {
			ttl = d
		} else {
			ttl = s.defaultTTL
		}
	}

	now := s.clock.Now()
	lease := domain.Lease{
		ID:         newID(),
		Resource:   res,
		HolderID:   holderID,
		State:      domain.LeaseStateActive,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		Version:    0,
	}

	// The conflicting lease can be finalized between a failed insert and
	// the read-back; retrying the insert settles the race either way, and
	// every held answer found by the read carries the holder's expiry.
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		err := s.store.TryCreate(ctx, lease)
		if err == nil {
			s.metrics.acquire("granted")
			s.publish(domain.EventLeaseAcquired, lease)
			return lease, nil
		}
		if !errors.Is(err, domain.ErrResourceHeld) {
			s.metrics.acquire("error")
			return domain.Lease{}, err
		}

		current, gerr := s.store.GetActiveFor(ctx, res)
		if gerr == nil {
			s.metrics.acquire("held")
			return domain.Lease{}, &domain.AlreadyHeldError{ExpiresAt: current.ExpiresAt}
		}
		if !errors.Is(gerr, domain.ErrLeaseNotFound) {
			s.metrics.acquire("error")
			return domain.Lease{}, gerr
		}
	}

	// Holders kept churning through every attempt; report held without
	// inventing an expiry hint.
	s.metrics.acquire("held")
	return domain.Lease{}, domain.ErrResourceHeld
}

// Renew extends the deadline of a still-active lease to now+extension.
// Only the current holder may renew; a lease past its deadline cannot be
// revived even if the sweeper has not reclaimed it yet.
func (s *ReservationService) Renew(ctx context.Context, leaseID, holderID string, extension time.Duration) (domain.Lease, error) {
	if extension <= 0 {
		return domain.Lease{}, domain.ErrInvalidTTL
	}

	lease, err := s.store.Get(ctx, leaseID)
	if err != nil {
		return domain.Lease{}, err
	}
	if lease.HolderID != holderID {
		return domain.Lease{}, domain.ErrNotHolder
	}

	now := s.clock.Now()
	if lease.Terminal() || lease.PastDeadline(now) {
		return domain.Lease{}, domain.ErrLeaseExpired
	}

	updated, err := s.store.Extend(ctx, leaseID, lease.Version, now.Add(extension))
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			// Lost the race against the sweeper or a concurrent finalize.
			return domain.Lease{}, domain.ErrLeaseExpired
		}
		return domain.Lease{}, err
	}

	s.publish(domain.EventLeaseRenewed, updated)
	return updated, nil
}

// Release voluntarily gives the lease up. Releasing a lease that already
// reached a terminal state is a no-op for its rightful holder, so double
// release is always safe. The boolean reports whether this call performed
// the transition; a repeat returns false so callers do not redo side
// effects the resource may have moved past since.
func (s *ReservationService) Release(ctx context.Context, leaseID, holderID string) (bool, error) {
	lease, err := s.store.Get(ctx, leaseID)
	if err != nil {
		return false, err
	}
	if lease.HolderID != holderID {
		return false, domain.ErrNotHolder
	}
	if lease.Terminal() {
		return false, nil
	}

	released, err := s.store.Transition(ctx, leaseID, lease.Version, domain.LeaseStateActive, domain.LeaseStateReleased)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			current, gerr := s.store.Get(ctx, leaseID)
			if gerr != nil {
				return false, gerr
			}
			if current.Terminal() {
				return false, nil
			}
			return false, domain.ErrVersionConflict
		}
		return false, err
	}

	s.publish(domain.EventLeaseReleased, released)
	return true, nil
}

// Commit finalizes the hold into a permanent allocation. The caller must
// have already confirmed the side effect (payment, in-store confirmation);
// commit itself never reaches outside the store. Committing a lease past
// its deadline fails with ErrLeaseExpired so the caller can compensate.
func (s *ReservationService) Commit(ctx context.Context, leaseID, holderID string) error {
	lease, err := s.store.Get(ctx, leaseID)
	if err != nil {
		return err
	}
	if lease.HolderID != holderID {
		return domain.ErrNotHolder
	}
	if lease.State == domain.LeaseStateCommitted {
		return nil
	}

	now := s.clock.Now()
	if lease.Terminal() || lease.PastDeadline(now) {
		s.metrics.commit("expired")
		return domain.ErrLeaseExpired
	}

	committed, err := s.store.Transition(ctx, leaseID, lease.Version, domain.LeaseStateActive, domain.LeaseStateCommitted)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			current, gerr := s.store.Get(ctx, leaseID)
			if gerr != nil {
				return gerr
			}
			if current.State == domain.LeaseStateCommitted {
				return nil
			}
			s.metrics.commit("expired")
			return domain.ErrLeaseExpired
		}
		s.metrics.commit("error")
		return err
	}

	s.metrics.commit("ok")
	s.publish(domain.EventLeaseCommitted, committed)
	return nil
}

// Get returns the lease regardless of state.
func (s *ReservationService) Get(ctx context.Context, leaseID string) (domain.Lease, error) {
	return s.store.Get(ctx, leaseID)
}

// Availability reports whether a resource is currently held and, if so,
// when the hold lapses.
func (s *ReservationService) Availability(ctx context.Context, res domain.Resource) (held bool, retryAfter time.Time, err error) {
	if !res.Kind.Valid() || res.ID == "" {
		return false, time.Time{}, domain.ErrInvalidResource
	}
	lease, err := s.store.GetActiveFor(ctx, res)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseNotFound) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, lease.ExpiresAt, nil
}

func (s *ReservationService) publish(eventType string, lease domain.Lease) {
	if s.pub != nil {
		s.pub.PublishLeaseEvent(eventType, lease)
	}
}
