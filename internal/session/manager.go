package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"afripay.org/internal/audit"
	"afripay.org/internal/notify"
	"afripay.org/internal/obs"
	"afripay.org/internal/permission"
	"afripay.org/internal/user"
)

const (
	defaultAccessTTL  = 8 * time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultOTPTTL     = 10 * time.Minute
)

// PermissionSource supplies the permission snapshot embedded into newly
// issued access tokens.
type PermissionSource interface {
	ActiveCodes(ctx context.Context, userID string) ([]string, error)
}

// Principal is the strongly-typed authenticated identity produced by
// Authenticate and threaded into each component call.
type Principal struct {
	UserID      string
	Email       string
	Role        string
	SessionID   string
	Permissions map[string]struct{}
}

// HasPermission evaluates the required code against the principal's
// snapshot, including wildcard grants.
func (p Principal) HasPermission(code string) bool {
	return permission.Evaluate(p.Permissions, code, nil)
}

// Actor converts the principal into an audit actor.
func (p Principal) Actor(ip, userAgent string) audit.Actor {
	return audit.Actor{UserID: p.UserID, Role: p.Role, IP: ip, UserAgent: userAgent}
}

// TokenPair is the result of login, 2FA completion or refresh.
type TokenPair struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Manager issues, refreshes, revokes and blacklists authentication
// tokens, and owns the OTP step of login.
type Manager struct {
	sessions Store
	users    user.Store
	perms    PermissionSource
	cache    TTLStore
	ledger   *audit.Ledger
	notifier notify.Notifier

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	otpTTL     time.Duration
	now        func() time.Time
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(m *Manager) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			m.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// WithOTPTTL configures the one-time code lifetime.
func WithOTPTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.otpTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithNotifier sets the fire-and-forget notification collaborator.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// NewManager constructs a Manager. The signing secret is mandatory.
func NewManager(sessions Store, users user.Store, perms PermissionSource, cache TTLStore, ledger *audit.Ledger, secret string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session: signing secret is required")
	}
	m := &Manager{
		sessions:   sessions,
		users:      users,
		perms:      perms,
		cache:      cache,
		ledger:     ledger,
		secret:     []byte(secret),
		issuer:     "afripay-identity",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		otpTTL:     defaultOTPTTL,
		notifier:   notify.LogNotifier{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Login authenticates credentials and either opens a session or, for
// users with 2FA enabled, issues a one-time code and reports
// ErrOTPRequired. The caller completes with VerifyOTPAndLogin.
func (m *Manager) Login(ctx context.Context, email, password string, device Device) (TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}
	u, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		obs.AuthFailure(ReasonCode(ErrInvalidCredentials))
		return TokenPair{}, ErrInvalidCredentials
	}
	if u.Status != user.StatusActive {
		obs.AuthFailure(ReasonCode(ErrInvalidCredentials))
		return TokenPair{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		obs.AuthFailure(ReasonCode(ErrInvalidCredentials))
		m.record(ctx, *u, device, audit.ActionLoginFailed, "", nil)
		return TokenPair{}, ErrInvalidCredentials
	}

	if u.TwoFactorEnabled {
		if err := m.IssueOTP(ctx, u.ID); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrOTPRequired
	}
	return m.startSession(ctx, *u, device)
}

// VerifyOTPAndLogin completes a 2FA login. The code is single use: it is
// invalidated the moment it verifies.
func (m *Manager) VerifyOTPAndLogin(ctx context.Context, userID, code string, device Device) (TokenPair, error) {
	u, err := m.users.Find(ctx, userID)
	if err != nil {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err := m.VerifyOTP(ctx, userID, code); err != nil {
		return TokenPair{}, err
	}
	m.record(ctx, *u, device, audit.ActionMFAVerified, "", nil)
	return m.startSession(ctx, *u, device)
}

// Refresh rotates the refresh token and issues a fresh access token with
// a current permission snapshot. The consumed token becomes unusable
// because the stored hash no longer matches it.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	if !sess.IsActive {
		return TokenPair{}, ErrSessionRevoked
	}
	now := m.now().UTC()
	if sess.RefreshExpired(now) {
		return TokenPair{}, ErrRefreshExpired
	}
	if !matchRefreshSecret(sess.RefreshTokenHash, secret) {
		// A stale or forged secret for a live session: kill the session.
		_ = m.sessions.MarkInactive(ctx, sess.ID)
		return TokenPair{}, ErrInvalidToken
	}

	u, err := m.users.Find(ctx, sess.UserID)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	perms, err := m.perms.ActiveCodes(ctx, u.ID)
	if err != nil {
		return TokenPair{}, err
	}
	accessToken, jti, accessExp, err := signAccessToken(m.secret, m.issuer, u.ID, u.Email, u.Role, perms, sess.ID, now, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	newRefresh, newHash, err := newRefreshToken(sess.ID)
	if err != nil {
		return TokenPair{}, err
	}
	refreshExp := now.Add(m.refreshTTL)
	if err := m.sessions.Rotate(ctx, sess.ID, jti, newHash, accessExp, refreshExp); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		SessionID:        sess.ID,
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Authenticate validates an access token end to end: signature and
// claims, blacklist membership, backing session state, and finally the
// activity bump. Each failure carries a distinct reason code.
func (m *Manager) Authenticate(ctx context.Context, rawToken string) (Principal, error) {
	claims, err := parseAccessToken(m.secret, m.issuer, rawToken)
	if err != nil {
		obs.AuthFailure(ReasonCode(err))
		return Principal{}, err
	}
	_, revoked, err := m.cache.Get(ctx, blacklistKey(rawToken))
	if err != nil {
		return Principal{}, err
	}
	if revoked {
		obs.AuthFailure(ReasonCode(ErrTokenRevoked))
		return Principal{}, ErrTokenRevoked
	}
	sess, err := m.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		obs.AuthFailure(ReasonCode(ErrSessionRevoked))
		return Principal{}, ErrSessionRevoked
	}
	if !sess.IsActive {
		obs.AuthFailure(ReasonCode(ErrSessionRevoked))
		return Principal{}, ErrSessionRevoked
	}
	now := m.now().UTC()
	if sess.Expired(now) {
		obs.AuthFailure(ReasonCode(ErrSessionExpired))
		return Principal{}, ErrSessionExpired
	}
	// Last write wins; a lost race only costs timestamp precision.
	_ = m.sessions.Touch(ctx, sess.ID, now)

	return Principal{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Role:        claims.Role,
		SessionID:   claims.SessionID,
		Permissions: permission.GrantSet(claims.Permissions),
	}, nil
}

// Logout blacklists the access token for its remaining lifetime and
// revokes the backing session.
func (m *Manager) Logout(ctx context.Context, rawToken string) error {
	claims, err := parseAccessToken(m.secret, m.issuer, rawToken)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	remaining := time.Duration(0)
	if claims.ExpiresAt != nil {
		remaining = claims.ExpiresAt.Time.Sub(now)
	}
	if err := m.Blacklist(ctx, rawToken, remaining); err != nil {
		return err
	}
	if err := m.sessions.MarkInactive(ctx, claims.SessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = m.ledger.Append(ctx, audit.Entry{
		Actor:        audit.Actor{UserID: claims.Subject, Role: claims.Role},
		Action:       audit.ActionLogout,
		ResourceType: "SESSION",
		ResourceID:   claims.SessionID,
	})
	return err
}

// Blacklist stores the token in the ephemeral store for its remaining
// lifetime, so a still-cryptographically-valid token is rejected.
func (m *Manager) Blacklist(ctx context.Context, rawToken string, remaining time.Duration) error {
	if remaining <= 0 {
		remaining = time.Second
	}
	return m.cache.SetWithTTL(ctx, blacklistKey(rawToken), "1", remaining)
}

// Revoke marks a single session inactive immediately, independent of
// token expiry.
func (m *Manager) Revoke(ctx context.Context, sessionID string, actor audit.Actor) error {
	if err := m.sessions.MarkInactive(ctx, sessionID); err != nil {
		return err
	}
	_, err := m.ledger.Append(ctx, audit.Entry{
		Actor:        actor,
		Action:       audit.ActionSessionRevoked,
		ResourceType: "SESSION",
		ResourceID:   sessionID,
	})
	return err
}

// RevokeAll deactivates every session of the user except the one given
// (pass "" to revoke all of them).
func (m *Manager) RevokeAll(ctx context.Context, userID, exceptSessionID string, actor audit.Actor) error {
	if err := m.sessions.MarkInactiveByUser(ctx, userID, exceptSessionID); err != nil {
		return err
	}
	_, err := m.ledger.Append(ctx, audit.Entry{
		Actor:        actor,
		Action:       audit.ActionSessionRevoked,
		ResourceType: "USER_SESSIONS",
		ResourceID:   userID,
		Metadata:     map[string]any{"exceptSessionId": exceptSessionID},
	})
	return err
}

// ListUserSessions returns the user's active sessions for device review.
func (m *Manager) ListUserSessions(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := m.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := sessions[:0]
	for _, s := range sessions {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// IssueOTP generates a 6-digit code, stores it with a short TTL keyed by
// user, and dispatches it fire-and-forget. Reissuing replaces the code
// and resets the TTL.
func (m *Manager) IssueOTP(ctx context.Context, userID string) error {
	u, err := m.users.Find(ctx, userID)
	if err != nil {
		return err
	}
	code, err := generateOTP()
	if err != nil {
		return err
	}
	if err := m.cache.SetWithTTL(ctx, otpKey(userID), code, m.otpTTL); err != nil {
		return err
	}
	notify.Dispatch(ctx, m.notifier, notify.Message{
		Channel:   notify.ChannelSMS,
		Recipient: u.Phone,
		Subject:   "Verification code",
		Body:      fmt.Sprintf("Your AfriPay verification code is %s. It expires in %d minutes.", code, int(m.otpTTL.Minutes())),
	})
	return nil
}

// VerifyOTP checks the pending code and invalidates it on success, so a
// code can never be replayed within its TTL.
func (m *Manager) VerifyOTP(ctx context.Context, userID, code string) error {
	stored, ok, err := m.cache.Get(ctx, otpKey(userID))
	if err != nil {
		return err
	}
	if !ok || stored == "" || stored != strings.TrimSpace(code) {
		obs.AuthFailure(ReasonCode(ErrOTPInvalid))
		return ErrOTPInvalid
	}
	return m.cache.Delete(ctx, otpKey(userID))
}

// startSession creates the session row and mints the initial token pair.
func (m *Manager) startSession(ctx context.Context, u user.User, device Device) (TokenPair, error) {
	now := m.now().UTC()
	sessionID := uuid.NewString()

	perms, err := m.perms.ActiveCodes(ctx, u.ID)
	if err != nil {
		return TokenPair{}, err
	}
	accessToken, jti, accessExp, err := signAccessToken(m.secret, m.issuer, u.ID, u.Email, u.Role, perms, sessionID, now, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshHash, err := newRefreshToken(sessionID)
	if err != nil {
		return TokenPair{}, err
	}
	refreshExp := now.Add(m.refreshTTL)

	sess := Session{
		ID:                    sessionID,
		UserID:                u.ID,
		AccessTokenID:         jti,
		RefreshTokenHash:      refreshHash,
		ExpiresAt:             accessExp,
		RefreshTokenExpiresAt: refreshExp,
		Device:                device,
		LastActivityAt:        now,
		IsActive:              true,
		CreatedAt:             now,
	}
	if err := m.sessions.Create(ctx, &sess); err != nil {
		return TokenPair{}, err
	}

	m.record(ctx, u, device, audit.ActionLoginSuccess, sessionID, map[string]any{
		"permissions": perms,
	})
	return TokenPair{
		SessionID:        sessionID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// record appends a session-related audit entry; append failures on the
// login path are surfaced through the log, not the caller.
func (m *Manager) record(ctx context.Context, u user.User, device Device, action audit.ActionType, sessionID string, meta map[string]any) {
	entry := audit.Entry{
		Actor:        audit.Actor{UserID: u.ID, Role: u.Role, IP: device.IP, UserAgent: device.UserAgent},
		Action:       action,
		ResourceType: "SESSION",
		ResourceID:   sessionID,
		Metadata:     meta,
	}
	if _, err := m.ledger.Append(ctx, entry); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    m.now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit append failed",
			"event": string(action),
			"err":   err.Error(),
		})
	}
}
