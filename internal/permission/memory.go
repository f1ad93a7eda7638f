package permission

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	codes map[string]Code
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory catalog store.
func NewInMemory() *InMemory {
	return &InMemory{codes: make(map[string]Code)}
}

func (s *InMemory) Create(ctx context.Context, code *Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code.Code]; ok {
		return ErrConflict
	}
	s.codes[code.Code] = *code
	return nil
}

func (s *InMemory) Get(ctx context.Context, code string) (*Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	out := c
	return &out, nil
}

func (s *InMemory) List(ctx context.Context, filter ListFilter) ([]Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Code
	for _, c := range s.codes {
		if filter.Department != "" && c.Department != filter.Department {
			continue
		}
		if filter.Deprecated != nil && c.Deprecated != *filter.Deprecated {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToUpper(filter.Search)
			if !strings.Contains(c.Code, needle) &&
				!strings.Contains(strings.ToUpper(c.Description), needle) {
				continue
			}
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Department != res[j].Department {
			return res[i].Department < res[j].Department
		}
		if res[i].Resource != res[j].Resource {
			return res[i].Resource < res[j].Resource
		}
		return res[i].Action < res[j].Action
	})
	return res, nil
}

func (s *InMemory) MarkDeprecated(ctx context.Context, code, replacement string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return ErrNotFound
	}
	c.Deprecated = true
	c.DeprecatedAt = &at
	c.ReplacementCode = replacement
	s.codes[code] = c
	return nil
}
