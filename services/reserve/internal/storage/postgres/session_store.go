package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) Create(ctx context.Context, session domain.CheckoutSession) error {
	const stmt = `
INSERT INTO checkout_sessions (id, lease_id, holder_id, state, created_at, last_touched_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, stmt,
		session.ID,
		session.LeaseID,
		session.HolderID,
		session.State,
		session.CreatedAt,
		session.LastTouchedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	const query = `
SELECT id, lease_id, holder_id, state, created_at, last_touched_at
FROM checkout_sessions
WHERE id = $1`

	var sess domain.CheckoutSession
	var state string
	err := s.pool.QueryRow(ctx, query, sessionID).
		Scan(&sess.ID, &sess.LeaseID, &sess.HolderID, &state, &sess.CreatedAt, &sess.LastTouchedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.CheckoutSession{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.CheckoutSession{}, domain.ErrSessionNotFound
		}
		return domain.CheckoutSession{}, fmt.Errorf("get session: %w", err)
	}
	sess.State = domain.SessionState(state)
	return sess, nil
}

func (s *SessionStore) UpdateState(ctx context.Context, sessionID string, from, to domain.SessionState, touchedAt time.Time) error {
	const stmt = `
UPDATE checkout_sessions
SET state = $3, last_touched_at = $4
WHERE id = $1 AND state = $2`

	tag, err := s.pool.Exec(ctx, stmt, sessionID, from, to, touchedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM checkout_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("check session exists: %w", err)
		}
		if !exists {
			return domain.ErrSessionNotFound
		}
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *SessionStore) Touch(ctx context.Context, sessionID string, touchedAt time.Time) error {
	const stmt = `UPDATE checkout_sessions SET last_touched_at = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, stmt, sessionID, touchedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
