package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("access request not found")
	ErrForbidden       = errors.New("insufficient privileges")
	ErrSoDViolation    = errors.New("separation of duties violation")
	ErrAlreadyReviewed = errors.New("request already reviewed")
	ErrExpired         = errors.New("request has expired")
)

// MissingPermissionsError reports exactly which requested codes the
// requester does not hold. It unwraps to ErrForbidden.
type MissingPermissionsError struct {
	Missing []string
}

func (e *MissingPermissionsError) Error() string {
	return fmt.Sprintf("cannot request permissions you do not possess: %s", strings.Join(e.Missing, ", "))
}

func (e *MissingPermissionsError) Unwrap() error { return ErrForbidden }

// Status is the access request lifecycle state. PENDING transitions
// exactly once to one of the terminal states.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// Urgency orders pending requests for review.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

var urgencyRank = map[Urgency]int{
	UrgencyLow:      0,
	UrgencyMedium:   1,
	UrgencyHigh:     2,
	UrgencyCritical: 3,
}

// Rank returns the urgency ordering weight; CRITICAL sorts first.
func (u Urgency) Rank() int { return urgencyRank[u] }

// Valid reports whether the urgency is a known level.
func (u Urgency) Valid() bool {
	_, ok := urgencyRank[u]
	return ok
}

// RequestTTL is how long a request stays actionable after creation.
const RequestTTL = 7 * 24 * time.Hour

// EmergencyGrantTTL bounds break-glass grants.
const EmergencyGrantTTL = 24 * time.Hour

// Request is a manager-initiated privilege escalation request.
type Request struct {
	ID            string     `json:"id"`
	RequesterID   string     `json:"requester_id"`
	TargetUserID  string     `json:"target_user_id"`
	Codes         []string   `json:"requested_permissions"`
	Justification string     `json:"justification"`
	Urgency       Urgency    `json:"urgency"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy    string     `json:"reviewed_by,omitempty"`
	ReviewReason  string     `json:"review_reason,omitempty"`
}

// IsExpired reports whether a still-pending request is past its deadline.
func (r *Request) IsExpired(now time.Time) bool {
	return r.Status == StatusPending && now.After(r.ExpiresAt)
}

// DaysUntilExpiry returns the whole days remaining, rounded up, never
// below zero.
func (r *Request) DaysUntilExpiry(now time.Time) int {
	diff := r.ExpiresAt.Sub(now)
	if diff <= 0 {
		return 0
	}
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// Grant is an active permission held by a user. Grants are never mutated;
// they are superseded by a newer grant for the same (user, code) pair or
// left to expire.
type Grant struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Code      string     `json:"permission_code"`
	GrantedBy string     `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// IsActive reports whether the grant has not expired.
func (g *Grant) IsActive(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// SortPending orders requests by urgency descending, then creation time
// ascending within the same urgency.
func SortPending(reqs []Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].Urgency.Rank() != reqs[j].Urgency.Rank() {
			return reqs[i].Urgency.Rank() > reqs[j].Urgency.Rank()
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
