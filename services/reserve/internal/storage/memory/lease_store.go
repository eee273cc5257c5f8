package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
)

// LeaseStore is a mutex-guarded in-process lease store. It satisfies the
// same atomicity contract as the Postgres backing and is only suitable for
// single-instance deployments (and tests).
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]domain.Lease
	// active maps a resource to its single active lease id; entries are
	// removed the moment the lease leaves the active state.
	active map[domain.Resource]string
}

func NewLeaseStore() *LeaseStore {
	return &LeaseStore{
		leases: make(map[string]domain.Lease),
		active: make(map[domain.Resource]string),
	}
}

func (s *LeaseStore) TryCreate(_ context.Context, lease domain.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.active[lease.Resource]; held {
		return domain.ErrResourceHeld
	}
	if _, exists := s.leases[lease.ID]; exists {
		return fmt.Errorf("duplicate lease id %s", lease.ID)
	}

	s.leases[lease.ID] = lease
	s.active[lease.Resource] = lease.ID
	return nil
}

func (s *LeaseStore) Get(_ context.Context, leaseID string) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[leaseID]
	if !ok {
		return domain.Lease{}, domain.ErrLeaseNotFound
	}
	return lease, nil
}

func (s *LeaseStore) GetActiveFor(_ context.Context, res domain.Resource) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[res]
	if !ok {
		return domain.Lease{}, domain.ErrLeaseNotFound
	}
	return s.leases[id], nil
}

func (s *LeaseStore) Transition(_ context.Context, leaseID string, expectedVersion int64, from, to domain.LeaseState) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[leaseID]
	if !ok {
		return domain.Lease{}, domain.ErrLeaseNotFound
	}
	if lease.Version != expectedVersion || lease.State != from {
		return domain.Lease{}, domain.ErrVersionConflict
	}

	lease.State = to
	lease.Version++
	s.leases[leaseID] = lease
	if to != domain.LeaseStateActive {
		delete(s.active, lease.Resource)
	}
	return lease, nil
}

func (s *LeaseStore) Extend(_ context.Context, leaseID string, expectedVersion int64, expiresAt time.Time) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[leaseID]
	if !ok {
		return domain.Lease{}, domain.ErrLeaseNotFound
	}
	if lease.Version != expectedVersion || lease.State != domain.LeaseStateActive {
		return domain.Lease{}, domain.ErrVersionConflict
	}

	lease.ExpiresAt = expiresAt
	lease.Version++
	s.leases[leaseID] = lease
	return lease, nil
}

func (s *LeaseStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var overdue []domain.Lease
	for _, id := range s.active {
		lease := s.leases[id]
		if !lease.ExpiresAt.After(now) {
			overdue = append(overdue, lease)
		}
	}
	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].ExpiresAt.Before(overdue[j].ExpiresAt)
	})
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	return overdue, nil
}
