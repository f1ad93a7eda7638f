package access

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. The
// single mutex gives Approve the same all-or-nothing semantics the pg
// store gets from a transaction.
type InMemory struct {
	mu       sync.RWMutex
	requests map[string]Request
	grants   map[string]Grant // keyed by userID + "\x00" + code
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory workflow store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests: make(map[string]Request),
		grants:   make(map[string]Grant),
	}
}

func (s *InMemory) Requests() RequestStore { return (*memRequests)(s) }
func (s *InMemory) Grants() GrantStore     { return (*memGrants)(s) }

func (s *InMemory) Approve(ctx context.Context, requestID, approverID, reason string, at time.Time, grants []Grant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status != StatusPending {
		return false, nil
	}
	req.Status = StatusApproved
	req.ReviewedAt = &at
	req.ReviewedBy = approverID
	req.ReviewReason = reason
	s.requests[requestID] = req
	for _, g := range grants {
		s.grants[g.UserID+"\x00"+g.Code] = g
	}
	return true, nil
}

type memRequests InMemory

func (s *memRequests) Create(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = *req
	return nil
}

func (s *memRequests) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := req
	return &out, nil
}

func (s *memRequests) ListPending(ctx context.Context) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Request
	for _, r := range s.requests {
		if r.Status == StatusPending {
			res = append(res, r)
		}
	}
	SortPending(res)
	return res, nil
}

func (s *memRequests) ListByRequester(ctx context.Context, requesterID string) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Request
	for _, r := range s.requests {
		if r.RequesterID == requesterID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (s *memRequests) ListForUser(ctx context.Context, targetUserID string) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Request
	for _, r := range s.requests {
		if r.TargetUserID == targetUserID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (s *memRequests) ListExpired(ctx context.Context, now time.Time) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Request
	for _, r := range s.requests {
		if r.Status == StatusPending && now.After(r.ExpiresAt) {
			res = append(res, r)
		}
	}
	return res, nil
}

func (s *memRequests) MarkReviewed(ctx context.Context, id string, status Status, reviewerID, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status != StatusPending {
		return false, nil
	}
	req.Status = status
	req.ReviewedAt = &at
	req.ReviewedBy = reviewerID
	req.ReviewReason = reason
	s.requests[id] = req
	return true, nil
}

func (s *memRequests) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status != StatusPending {
		return false, nil
	}
	req.Status = StatusExpired
	req.ReviewedAt = &at
	s.requests[id] = req
	return true, nil
}

type memGrants InMemory

func (s *memGrants) Put(ctx context.Context, grant *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.UserID+"\x00"+grant.Code] = *grant
	return nil
}

func (s *memGrants) ListByUser(ctx context.Context, userID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Grant
	for _, g := range s.grants {
		if g.UserID == userID {
			res = append(res, g)
		}
	}
	return res, nil
}
