package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrResourceHeld     = errors.New("resource currently held")
	ErrNotHolder        = errors.New("not the lease holder")
	ErrLeaseExpired     = errors.New("lease expired")
	ErrLeaseNotFound    = errors.New("lease not found")
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSessionTerminal  = errors.New("checkout session already ended")
	ErrCheckoutConflict = errors.New("checkout conflict")
	ErrVersionConflict  = errors.New("version conflict")
	ErrInvalidTTL       = errors.New("ttl must be positive")
	ErrInvalidResource  = errors.New("invalid resource")
	ErrHolderRequired   = errors.New("holder id required")
	ErrInvalidID        = errors.New("invalid id")
)

// AlreadyHeldError is returned by acquire when another active holder exists.
// It carries the current holder's expiry so callers can show "try again
// after" without revealing who holds the lease. Matches ErrResourceHeld
// under errors.Is.
type AlreadyHeldError struct {
	ExpiresAt time.Time
}

func (e *AlreadyHeldError) Error() string {
	if e.ExpiresAt.IsZero() {
		return ErrResourceHeld.Error()
	}
	return fmt.Sprintf("resource currently held until %s", e.ExpiresAt.Format(time.RFC3339))
}

func (e *AlreadyHeldError) Is(target error) bool {
	return target == ErrResourceHeld
}
