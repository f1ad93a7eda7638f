package session

import (
	"context"
	"sync"
	"time"
)

// InMemory is a map-backed Store used by tests and local runs.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[string]Session)}
}

func (s *InMemory) Create(_ context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrInvalidInput
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *InMemory) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := sess
	return &out, nil
}

func (s *InMemory) ListByUser(_ context.Context, userID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *InMemory) Rotate(_ context.Context, id, accessTokenID, refreshTokenHash string, expiresAt, refreshExpiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.AccessTokenID = accessTokenID
	sess.RefreshTokenHash = refreshTokenHash
	sess.ExpiresAt = expiresAt
	sess.RefreshTokenExpiresAt = refreshExpiresAt
	sess.LastActivityAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *InMemory) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastActivityAt = at
	s.sessions[id] = sess
	return nil
}

func (s *InMemory) MarkInactive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.IsActive = false
	s.sessions[id] = sess
	return nil
}

func (s *InMemory) MarkInactiveByUser(_ context.Context, userID, exceptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID != userID || id == exceptID {
			continue
		}
		sess.IsActive = false
		s.sessions[id] = sess
	}
	return nil
}
