package app

import (
	"context"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
)

// LeaseStore is the source of truth for leases. Implementations must make
// every mutation atomic with respect to the backing store; the engine never
// does read-then-write from its side of this interface.
type LeaseStore interface {
	// TryCreate inserts the lease unless the resource already has an active
	// one, in which case it returns domain.ErrResourceHeld. The check and
	// the insert are a single atomic operation.
	TryCreate(ctx context.Context, lease domain.Lease) error

	Get(ctx context.Context, leaseID string) (domain.Lease, error)

	// GetActiveFor returns the active lease for a resource, or
	// domain.ErrLeaseNotFound when none exists.
	GetActiveFor(ctx context.Context, res domain.Resource) (domain.Lease, error)

	// Transition moves the lease from one state to another only if the
	// stored version and state still match, bumping the version. Returns
	// domain.ErrVersionConflict when the compare fails.
	Transition(ctx context.Context, leaseID string, expectedVersion int64, from, to domain.LeaseState) (domain.Lease, error)

	// Extend moves the deadline of a still-active lease under the same
	// compare rules as Transition.
	Extend(ctx context.Context, leaseID string, expectedVersion int64, expiresAt time.Time) (domain.Lease, error)

	// ListExpired returns active leases whose deadline is at or before now,
	// oldest deadline first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error)
}

// SessionStore persists checkout sessions.
type SessionStore interface {
	Create(ctx context.Context, session domain.CheckoutSession) error

	Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error)

	// UpdateState moves a session between states only if the stored state
	// still matches from; returns domain.ErrVersionConflict otherwise.
	UpdateState(ctx context.Context, sessionID string, from, to domain.SessionState, touchedAt time.Time) error

	Touch(ctx context.Context, sessionID string, touchedAt time.Time) error
}

// EventPublisher fans lease lifecycle transitions out to interested
// consumers. Implementations must not block the request path.
type EventPublisher interface {
	PublishLeaseEvent(eventType string, lease domain.Lease)
}
