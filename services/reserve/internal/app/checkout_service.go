package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/clock"
	"github.com/giftwell/giftwell/services/reserve/internal/domain"
)

// LeaseManager is the slice of the reservation service the coordinator
// needs.
type LeaseManager interface {
	Acquire(ctx context.Context, res domain.Resource, holderID string, ttl time.Duration) (domain.Lease, error)
	Release(ctx context.Context, leaseID, holderID string) (bool, error)
	Commit(ctx context.Context, leaseID, holderID string) error
	Get(ctx context.Context, leaseID string) (domain.Lease, error)
}

// CheckoutOutcome carries the result of the external payment or in-store
// confirmation step. The coordinator never initiates that step itself.
type CheckoutOutcome struct {
	Succeeded  bool
	PaymentRef string
}

// CheckoutService binds a lease to a buyer's in-progress purchase flow and
// decides at the end whether the hold becomes permanent or is rolled back.
type CheckoutService struct {
	sessions SessionStore
	leases   LeaseManager
	clock    clock.Clock
}

func NewCheckoutService(sessions SessionStore, leases LeaseManager, clk clock.Clock) *CheckoutService {
	return &CheckoutService{
		sessions: sessions,
		leases:   leases,
		clock:    clk,
	}
}

// Open acquires a lease and wraps it in a fresh session. When the resource
// is held by someone else the *domain.AlreadyHeldError from Acquire passes
// through untouched so callers can surface the retry-after hint.
func (s *CheckoutService) Open(ctx context.Context, res domain.Resource, holderID string, ttl time.Duration) (domain.CheckoutSession, domain.Lease, error) {
	lease, err := s.leases.Acquire(ctx, res, holderID, ttl)
	if err != nil {
		return domain.CheckoutSession{}, domain.Lease{}, err
	}

	now := s.clock.Now()
	session := domain.CheckoutSession{
		ID:            newID(),
		LeaseID:       lease.ID,
		HolderID:      holderID,
		State:         domain.SessionStateOpen,
		CreatedAt:     now,
		LastTouchedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		// Do not leave the resource held by a session that never existed.
		_, _ = s.leases.Release(ctx, lease.ID, holderID)
		return domain.CheckoutSession{}, domain.Lease{}, err
	}

	return session, lease, nil
}

// Resume returns a still-open session so a buyer who navigated away can
// come back to the same hold. A session whose lease has ended, or whose
// deadline has passed even unswept, reports ErrSessionTerminal: the buyer
// must open a fresh checkout and take their chances with other contenders.
func (s *CheckoutService) Resume(ctx context.Context, sessionID, holderID string) (domain.CheckoutSession, domain.Lease, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, domain.Lease{}, err
	}
	if session.HolderID != holderID {
		return domain.CheckoutSession{}, domain.Lease{}, domain.ErrNotHolder
	}
	if session.Terminal() {
		return domain.CheckoutSession{}, domain.Lease{}, domain.ErrSessionTerminal
	}

	lease, err := s.leases.Get(ctx, session.LeaseID)
	if err != nil {
		return domain.CheckoutSession{}, domain.Lease{}, err
	}

	now := s.clock.Now()
	if lease.Terminal() || lease.PastDeadline(now) {
		return domain.CheckoutSession{}, domain.Lease{}, domain.ErrSessionTerminal
	}

	if err := s.sessions.Touch(ctx, sessionID, now); err != nil {
		return domain.CheckoutSession{}, domain.Lease{}, err
	}
	session.LastTouchedAt = now

	return session, lease, nil
}

// CommitCheckout finalizes the session. It only commits the lease when the
// outcome reports a successful side effect; a failed outcome rolls the
// session back immediately instead of letting the lease run out its TTL.
// ErrCheckoutConflict means the hold could not be finalized and any side
// effect already performed must be compensated by the caller. The boolean
// reports whether this call released the lease, so the orchestrating caller
// knows whether the resource side needs resetting; an expired lease is the
// sweeper's to reclaim and reports false.
func (s *CheckoutService) CommitCheckout(ctx context.Context, sessionID, holderID string, outcome CheckoutOutcome) (bool, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.HolderID != holderID {
		return false, domain.ErrNotHolder
	}
	switch session.State {
	case domain.SessionStateCommitted:
		return false, nil
	case domain.SessionStateAbandoned:
		return false, domain.ErrSessionTerminal
	}

	now := s.clock.Now()

	if !outcome.Succeeded {
		released, rerr := s.leases.Release(ctx, session.LeaseID, holderID)
		if rerr != nil && !errors.Is(rerr, domain.ErrLeaseNotFound) {
			return false, rerr
		}
		if err := s.closeSession(ctx, sessionID, domain.SessionStateAbandoned, now); err != nil {
			return released, err
		}
		return released, fmt.Errorf("%w: side effect did not succeed", domain.ErrCheckoutConflict)
	}

	if err := s.leases.Commit(ctx, session.LeaseID, holderID); err != nil {
		if errors.Is(err, domain.ErrLeaseExpired) {
			// The hold lapsed under a completed side effect; the caller owns
			// the compensation (refund, in-store reversal).
			_ = s.closeSession(ctx, sessionID, domain.SessionStateAbandoned, now)
			return false, fmt.Errorf("%w: lease expired before commit", domain.ErrCheckoutConflict)
		}
		return false, err
	}

	return false, s.closeSession(ctx, sessionID, domain.SessionStateCommitted, now)
}

// Abandon releases the lease and ends the session. Repeats by the rightful
// holder succeed silently; the boolean reports whether this call released
// the lease, false on a repeat.
func (s *CheckoutService) Abandon(ctx context.Context, sessionID, holderID string) (bool, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.HolderID != holderID {
		return false, domain.ErrNotHolder
	}
	if session.Terminal() {
		return false, nil
	}

	released, rerr := s.leases.Release(ctx, session.LeaseID, holderID)
	if rerr != nil && !errors.Is(rerr, domain.ErrLeaseNotFound) {
		return false, rerr
	}

	return released, s.closeSession(ctx, sessionID, domain.SessionStateAbandoned, s.clock.Now())
}

// Get returns the session regardless of state.
func (s *CheckoutService) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *CheckoutService) closeSession(ctx context.Context, sessionID string, to domain.SessionState, now time.Time) error {
	err := s.sessions.UpdateState(ctx, sessionID, domain.SessionStateOpen, to, now)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrVersionConflict) {
		return err
	}

	current, gerr := s.sessions.Get(ctx, sessionID)
	if gerr != nil {
		return gerr
	}
	if current.State == to {
		return nil
	}
	return fmt.Errorf("%w: session already %s", domain.ErrCheckoutConflict, current.State)
}
