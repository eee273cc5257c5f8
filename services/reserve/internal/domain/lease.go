package domain

import "time"

type LeaseState string

const (
	LeaseStateActive    LeaseState = "active"
	LeaseStateCommitted LeaseState = "committed"
	LeaseStateReleased  LeaseState = "released"
	LeaseStateExpired   LeaseState = "expired"
)

// Lease is a time-bounded exclusive hold on a resource. At most one lease
// per resource may be active at any instant; leaving the active state is
// final, so terminal leases remain behind as an audit trail.
type Lease struct {
	ID         string
	Resource   Resource
	HolderID   string
	State      LeaseState
	AcquiredAt time.Time
	ExpiresAt  time.Time
	// Version increments on every mutation and guards CAS transitions.
	Version int64
}

func (l Lease) Terminal() bool {
	return l.State != LeaseStateActive
}

// PastDeadline reports whether the deadline has passed, regardless of
// whether the sweeper has reclaimed the lease yet.
func (l Lease) PastDeadline(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
