package user

import (
	"context"
	"strings"
	"sync"
)

// InMemory implements Store for tests and local runs.
type InMemory struct {
	mu    sync.RWMutex
	users map[string]User
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an in-memory user store seeded with the given users.
func NewInMemory(users ...User) *InMemory {
	s := &InMemory{users: make(map[string]User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// Put adds or replaces a user.
func (s *InMemory) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *InMemory) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := u
	return &out, nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if strings.ToLower(u.Email) == email {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}
