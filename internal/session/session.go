package session

import (
	"context"
	"errors"
	"time"
)

// Authentication failures map to distinct machine-readable reason codes
// at the boundary; a generic 401 is never enough to debug a client.
var (
	ErrNoToken            = errors.New("no authentication token provided")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrSessionExpired     = errors.New("session expired")
	ErrRefreshExpired     = errors.New("refresh token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOTPRequired        = errors.New("one-time code required")
	ErrOTPInvalid         = errors.New("invalid or expired one-time code")
	ErrNotFound           = errors.New("session not found")
	ErrInvalidInput       = errors.New("invalid input")
)

// ReasonCode translates an authentication error into its stable code.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrNoToken):
		return "AUTH_001"
	case errors.Is(err, ErrInvalidCredentials):
		return "AUTH_002"
	case errors.Is(err, ErrInvalidToken):
		return "AUTH_003"
	case errors.Is(err, ErrTokenRevoked):
		return "AUTH_004"
	case errors.Is(err, ErrSessionRevoked):
		return "AUTH_005"
	case errors.Is(err, ErrSessionExpired):
		return "AUTH_006"
	case errors.Is(err, ErrRefreshExpired):
		return "AUTH_007"
	case errors.Is(err, ErrOTPRequired):
		return "AUTH_008"
	case errors.Is(err, ErrOTPInvalid):
		return "AUTH_009"
	default:
		return "AUTH_000"
	}
}

// Device captures where a session was established from.
type Device struct {
	ID        string `json:"device_id,omitempty"`
	Name      string `json:"device_name,omitempty"`
	Type      string `json:"device_type,omitempty"` // web, mobile, tablet
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Session is the server-side record backing an issued token pair. The
// raw refresh token is never stored; only its hash is.
type Session struct {
	ID                    string    `json:"id"`
	UserID                string    `json:"user_id"`
	AccessTokenID         string    `json:"access_token_id"`
	RefreshTokenHash      string    `json:"-"`
	ExpiresAt             time.Time `json:"expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	Device                Device    `json:"device"`
	LastActivityAt        time.Time `json:"last_activity_at"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
}

// Expired reports whether the session itself is past its deadline.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RefreshExpired reports whether the refresh token window has closed.
func (s *Session) RefreshExpired(now time.Time) bool {
	return now.After(s.RefreshTokenExpiresAt)
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	// Rotate overwrites the token references and extends both expiries.
	Rotate(ctx context.Context, id, accessTokenID, refreshTokenHash string, expiresAt, refreshExpiresAt time.Time) error
	// Touch bumps last activity; last write wins, no ordering required.
	Touch(ctx context.Context, id string, at time.Time) error
	MarkInactive(ctx context.Context, id string) error
	// MarkInactiveByUser deactivates every session of the user other
	// than exceptID (pass "" to include all).
	MarkInactiveByUser(ctx context.Context, userID, exceptID string) error
}
