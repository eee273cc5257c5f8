package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/redis/go-redis/v9"
)

type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

const sessionKeyPrefix = "reserve:session:"

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// KEYS: session hash. ARGV: expected state, new state, touched_at.
var sessionUpdateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'state') ~= ARGV[1] then
  return -2
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'last_touched_at', ARGV[3])
return 1
`)

func (s *SessionStore) Create(ctx context.Context, session domain.CheckoutSession) error {
	err := s.client.HSet(ctx, sessionKey(session.ID),
		"lease_id", session.LeaseID,
		"holder_id", session.HolderID,
		"state", string(session.State),
		"created_at", session.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_touched_at", session.LastTouchedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return domain.CheckoutSession{}, domain.ErrSessionNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("parse created_at: %w", err)
	}
	touchedAt, err := time.Parse(time.RFC3339Nano, fields["last_touched_at"])
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("parse last_touched_at: %w", err)
	}

	return domain.CheckoutSession{
		ID:            sessionID,
		LeaseID:       fields["lease_id"],
		HolderID:      fields["holder_id"],
		State:         domain.SessionState(fields["state"]),
		CreatedAt:     createdAt,
		LastTouchedAt: touchedAt,
	}, nil
}

func (s *SessionStore) UpdateState(ctx context.Context, sessionID string, from, to domain.SessionState, touchedAt time.Time) error {
	res, err := sessionUpdateScript.Run(ctx, s.client, []string{sessionKey(sessionID)},
		string(from), string(to), touchedAt.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	switch res {
	case -1:
		return domain.ErrSessionNotFound
	case -2:
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *SessionStore) Touch(ctx context.Context, sessionID string, touchedAt time.Time) error {
	exists, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}
	err = s.client.HSet(ctx, sessionKey(sessionID),
		"last_touched_at", touchedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
