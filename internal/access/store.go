package access

import (
	"context"
	"time"
)

// RequestStore persists access requests.
type RequestStore interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// ListPending returns PENDING requests ordered by urgency descending,
	// then createdAt ascending.
	ListPending(ctx context.Context) ([]Request, error)
	ListByRequester(ctx context.Context, requesterID string) ([]Request, error)
	ListForUser(ctx context.Context, targetUserID string) ([]Request, error)
	// ListExpired returns PENDING requests whose deadline is before now.
	ListExpired(ctx context.Context, now time.Time) ([]Request, error)
	// MarkReviewed conditionally transitions PENDING -> status. It reports
	// false when the request was no longer pending.
	MarkReviewed(ctx context.Context, id string, status Status, reviewerID, reason string, at time.Time) (bool, error)
	// MarkExpired conditionally transitions PENDING -> EXPIRED. Duplicate
	// invocations observe a no-op (first writer wins).
	MarkExpired(ctx context.Context, id string, at time.Time) (bool, error)
}

// GrantStore persists permission grants. Put supersedes any existing
// grant for the same (user, code) pair.
type GrantStore interface {
	Put(ctx context.Context, grant *Grant) error
	ListByUser(ctx context.Context, userID string) ([]Grant, error)
}

// Store is the unit-of-work contract for the workflow. Approve must apply
// the status transition and every grant insert in a single transaction:
// a crash mid-way leaves no partial grants.
type Store interface {
	Requests() RequestStore
	Grants() GrantStore
	// Approve transitions the request out of PENDING and writes all
	// grants atomically. It reports false without side effects when the
	// request was no longer pending.
	Approve(ctx context.Context, requestID, approverID, reason string, at time.Time, grants []Grant) (bool, error)
}
