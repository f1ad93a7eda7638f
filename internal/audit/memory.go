package audit

import (
	"context"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory ledger store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := Genesis
	if n := len(s.entries); n > 0 {
		tail = s.entries[n-1].Hash
	}
	if entry.PreviousHash != tail {
		return ErrChainConflict
	}
	entry.ID = int64(len(s.entries)) + 1
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *InMemory) Last(ctx context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	out := s.entries[len(s.entries)-1]
	return &out, nil
}

func (s *InMemory) Range(ctx context.Context, fromID, toID int64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Entry
	for _, e := range s.entries {
		if e.ID < fromID || (toID > 0 && e.ID > toID) {
			continue
		}
		res = append(res, e)
	}
	return res, nil
}

// Entries returns a copy of everything appended. Intended for tests.
func (s *InMemory) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Tamper overwrites a stored entry in place, bypassing the append-only
// contract. Intended for chain-verification tests only.
func (s *InMemory) Tamper(id int64, mutate func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			mutate(&s.entries[i])
			return
		}
	}
}
