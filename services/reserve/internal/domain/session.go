package domain

import "time"

type SessionState string

const (
	SessionStateOpen      SessionState = "open"
	SessionStateCommitted SessionState = "committed"
	SessionStateAbandoned SessionState = "abandoned"
)

// CheckoutSession wraps an active lease with buyer-flow bookkeeping so a
// buyer can leave mid-checkout and come back to the same hold.
type CheckoutSession struct {
	ID            string
	LeaseID       string
	HolderID      string
	State         SessionState
	CreatedAt     time.Time
	LastTouchedAt time.Time
}

func (s CheckoutSession) Terminal() bool {
	return s.State != SessionStateOpen
}
