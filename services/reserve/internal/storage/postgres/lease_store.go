package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseStore backs the lease engine with Postgres. The at-most-one-holder
// invariant rests on a partial unique index over (resource_kind,
// resource_id) WHERE state = 'active', so TryCreate is a single insert and
// every transition is a compare-and-swap on (id, version, state).
type LeaseStore struct {
	pool *pgxpool.Pool
}

func NewLeaseStore(pool *pgxpool.Pool) *LeaseStore {
	return &LeaseStore{pool: pool}
}

const leaseColumns = `id, resource_kind, resource_id, holder_id, state, acquired_at, expires_at, version`

func (s *LeaseStore) TryCreate(ctx context.Context, lease domain.Lease) error {
	const stmt = `
INSERT INTO leases (id, resource_kind, resource_id, holder_id, state, acquired_at, expires_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, stmt,
		lease.ID,
		lease.Resource.Kind,
		lease.Resource.ID,
		lease.HolderID,
		lease.State,
		lease.AcquiredAt,
		lease.ExpiresAt,
		lease.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrResourceHeld
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create lease: %w", err)
	}
	return nil
}

func (s *LeaseStore) Get(ctx context.Context, leaseID string) (domain.Lease, error) {
	const query = `SELECT ` + leaseColumns + ` FROM leases WHERE id = $1`

	lease, err := scanLease(s.pool.QueryRow(ctx, query, leaseID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Lease{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Lease{}, domain.ErrLeaseNotFound
		}
		return domain.Lease{}, fmt.Errorf("get lease: %w", err)
	}
	return lease, nil
}

func (s *LeaseStore) GetActiveFor(ctx context.Context, res domain.Resource) (domain.Lease, error) {
	const query = `
SELECT ` + leaseColumns + `
FROM leases
WHERE resource_kind = $1 AND resource_id = $2 AND state = 'active'`

	lease, err := scanLease(s.pool.QueryRow(ctx, query, res.Kind, res.ID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Lease{}, domain.ErrLeaseNotFound
		}
		return domain.Lease{}, fmt.Errorf("get active lease: %w", err)
	}
	return lease, nil
}

func (s *LeaseStore) Transition(ctx context.Context, leaseID string, expectedVersion int64, from, to domain.LeaseState) (domain.Lease, error) {
	const stmt = `
UPDATE leases
SET state = $4, version = version + 1
WHERE id = $1 AND version = $2 AND state = $3
RETURNING ` + leaseColumns

	lease, err := scanLease(s.pool.QueryRow(ctx, stmt, leaseID, expectedVersion, from, to))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Lease{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Lease{}, s.casFailure(ctx, leaseID)
		}
		return domain.Lease{}, fmt.Errorf("transition lease: %w", err)
	}
	return lease, nil
}

func (s *LeaseStore) Extend(ctx context.Context, leaseID string, expectedVersion int64, expiresAt time.Time) (domain.Lease, error) {
	const stmt = `
UPDATE leases
SET expires_at = $3, version = version + 1
WHERE id = $1 AND version = $2 AND state = 'active'
RETURNING ` + leaseColumns

	lease, err := scanLease(s.pool.QueryRow(ctx, stmt, leaseID, expectedVersion, expiresAt))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Lease{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Lease{}, s.casFailure(ctx, leaseID)
		}
		return domain.Lease{}, fmt.Errorf("extend lease: %w", err)
	}
	return lease, nil
}

func (s *LeaseStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	const query = `
SELECT ` + leaseColumns + `
FROM leases
WHERE state = 'active' AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	defer rows.Close()

	var leases []domain.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired lease: %w", err)
		}
		leases = append(leases, lease)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	return leases, nil
}

// casFailure distinguishes a missing lease from a lost compare-and-swap.
func (s *LeaseStore) casFailure(ctx context.Context, leaseID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leases WHERE id = $1)`, leaseID).Scan(&exists); err != nil {
		return fmt.Errorf("check lease exists: %w", err)
	}
	if !exists {
		return domain.ErrLeaseNotFound
	}
	return domain.ErrVersionConflict
}

func scanLease(row pgx.Row) (domain.Lease, error) {
	var l domain.Lease
	var kind, state string
	err := row.Scan(&l.ID, &kind, &l.Resource.ID, &l.HolderID, &state, &l.AcquiredAt, &l.ExpiresAt, &l.Version)
	if err != nil {
		return domain.Lease{}, err
	}
	l.Resource.Kind = domain.ResourceKind(kind)
	l.State = domain.LeaseState(state)
	return l, nil
}
