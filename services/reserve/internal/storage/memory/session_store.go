package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
)

// SessionStore is the in-process counterpart of the Postgres session store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.CheckoutSession)}
}

func (s *SessionStore) Create(_ context.Context, session domain.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("duplicate session id %s", session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) UpdateState(_ context.Context, sessionID string, from, to domain.SessionState, touchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.State != from {
		return domain.ErrVersionConflict
	}

	session.State = to
	session.LastTouchedAt = touchedAt
	s.sessions[sessionID] = session
	return nil
}

func (s *SessionStore) Touch(_ context.Context, sessionID string, touchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.LastTouchedAt = touchedAt
	s.sessions[sessionID] = session
	return nil
}
