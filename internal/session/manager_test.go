package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"afripay.org/internal/audit"
	"afripay.org/internal/notify"
	"afripay.org/internal/user"
)

type capturingNotifier struct {
	sent []notify.Message
}

func (n *capturingNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.sent = append(n.sent, msg)
	return nil
}

type stubPerms []string

func (s stubPerms) ActiveCodes(ctx context.Context, userID string) ([]string, error) {
	return []string(s), nil
}

func testUsers(t *testing.T, twoFactor bool) user.Store {
	t.Helper()
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return user.NewInMemory(user.User{
		ID:               "u1",
		Email:            "amina@afripay.test",
		FullName:         "Amina Diop",
		Role:             user.RoleManager,
		Phone:            "+221700000001",
		PasswordHash:     hash,
		TwoFactorEnabled: twoFactor,
		Status:           user.StatusActive,
	})
}

func testManager(t *testing.T, twoFactor bool, perms []string, opts ...Option) (*Manager, *InMemory, *InMemoryTTL) {
	t.Helper()
	sessions := NewInMemory()
	cache := NewInMemoryTTL()
	ledger := audit.NewLedger(audit.NewInMemory())
	m, err := NewManager(sessions, testUsers(t, twoFactor), stubPerms(perms), cache, ledger, "test-signing-secret", opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, sessions, cache
}

var testDevice = Device{ID: "dev-1", IP: "10.0.0.9", UserAgent: "go-test"}

func TestLoginAndAuthenticate(t *testing.T) {
	m, _, _ := testManager(t, false, []string{"FIN-REPORTS-VIEW"})

	pair, err := m.Login(context.Background(), "Amina@afripay.test", "s3cret-pass", testDevice)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.SessionID == "" {
		t.Fatalf("incomplete token pair: %+v", pair)
	}

	principal, err := m.Authenticate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.UserID != "u1" || principal.SessionID != pair.SessionID {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if !principal.HasPermission("FIN-REPORTS-VIEW") {
		t.Fatalf("permission snapshot missing from token")
	}
	if principal.HasPermission("FIN-REPORTS-EXPORT") {
		t.Fatalf("unexpected permission in snapshot")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	m, _, _ := testManager(t, false, nil)

	if _, err := m.Login(context.Background(), "amina@afripay.test", "wrong", testDevice); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := m.Login(context.Background(), "nobody@afripay.test", "s3cret-pass", testDevice); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginWithTwoFactor(t *testing.T) {
	m, _, cache := testManager(t, true, nil)
	ctx := context.Background()

	_, err := m.Login(ctx, "amina@afripay.test", "s3cret-pass", testDevice)
	if !errors.Is(err, ErrOTPRequired) {
		t.Fatalf("expected ErrOTPRequired, got %v", err)
	}

	code, ok, err := cache.Get(ctx, otpKey("u1"))
	if err != nil || !ok || len(code) != 6 {
		t.Fatalf("expected stored 6-digit code, got %q ok=%v err=%v", code, ok, err)
	}

	wrong := code[1:] + "x"
	if _, err := m.VerifyOTPAndLogin(ctx, "u1", wrong, testDevice); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid for wrong code, got %v", err)
	}

	pair, err := m.VerifyOTPAndLogin(ctx, "u1", code, testDevice)
	if err != nil {
		t.Fatalf("VerifyOTPAndLogin: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatalf("expected token pair after OTP verification")
	}

	// The code is single use.
	if _, err := m.VerifyOTPAndLogin(ctx, "u1", code, testDevice); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected OTP replay to fail, got %v", err)
	}
}

func TestIssueOTPDispatchesCode(t *testing.T) {
	captured := &capturingNotifier{}
	m, _, cache := testManager(t, true, nil, WithNotifier(captured))

	if err := m.IssueOTP(context.Background(), "u1"); err != nil {
		t.Fatalf("IssueOTP: %v", err)
	}
	if len(captured.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(captured.sent))
	}
	msg := captured.sent[0]
	if msg.Channel != notify.ChannelSMS || msg.Recipient != "+221700000001" {
		t.Fatalf("unexpected delivery target: %+v", msg)
	}
	code, ok, err := cache.Get(context.Background(), otpKey("u1"))
	if err != nil || !ok {
		t.Fatalf("stored code: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(msg.Body, code) {
		t.Fatalf("notification body must carry the code: %q", msg.Body)
	}
}

func TestManagerDefaultsToLogNotifier(t *testing.T) {
	m, _, _ := testManager(t, true, nil)
	if m.notifier == nil {
		t.Fatalf("manager must not start without a notifier")
	}
	if _, ok := m.notifier.(notify.LogNotifier); !ok {
		t.Fatalf("expected the log notifier by default, got %T", m.notifier)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	m, _, _ := testManager(t, false, []string{"FIN-REPORTS-VIEW"})
	ctx := context.Background()

	pair, err := m.Login(ctx, "amina@afripay.test", "s3cret-pass", testDevice)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	r1 := pair.RefreshToken

	second, err := m.Refresh(ctx, r1)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == r1 {
		t.Fatalf("refresh token was not rotated")
	}
	if second.SessionID != pair.SessionID {
		t.Fatalf("rotation must keep the session")
	}

	// The consumed token is dead.
	if _, err := m.Refresh(ctx, r1); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected consumed refresh token to fail, got %v", err)
	}
	// Replay also killed the session, so the rotated token fails too.
	if _, err := m.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected session revoked after replay, got %v", err)
	}
}

func TestLogoutBlacklistsToken(t *testing.T) {
	m, _, _ := testManager(t, false, nil)
	ctx := context.Background()

	pair, err := m.Login(ctx, "amina@afripay.test", "s3cret-pass", testDevice)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := m.Logout(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	// The token is still cryptographically valid but must be rejected.
	_, err = m.Authenticate(ctx, pair.AccessToken)
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	if got := ReasonCode(err); got != "AUTH_004" {
		t.Fatalf("expected AUTH_004, got %s", got)
	}
}

func TestRevokeSession(t *testing.T) {
	m, _, _ := testManager(t, false, nil)
	ctx := context.Background()

	pair, err := m.Login(ctx, "amina@afripay.test", "s3cret-pass", testDevice)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := m.Revoke(ctx, pair.SessionID, audit.Actor{UserID: "u1", Role: user.RoleManager}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestRevokeAllKeepsCurrentSession(t *testing.T) {
	m, _, _ := testManager(t, false, nil)
	ctx := context.Background()

	first, err := m.Login(ctx, "amina@afripay.test", "s3cret-pass", testDevice)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	secondDevice := Device{ID: "dev-2", IP: "10.0.0.10", UserAgent: "go-test"}
	second, err := m.Login(ctx, "amina@afripay.test", "s3cret-pass", secondDevice)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if err := m.RevokeAll(ctx, "u1", second.SessionID, audit.Actor{UserID: "u1", Role: user.RoleManager}); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	if _, err := m.Authenticate(ctx, first.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected first session revoked, got %v", err)
	}
	if _, err := m.Authenticate(ctx, second.AccessToken); err != nil {
		t.Fatalf("current session should survive: %v", err)
	}

	active, err := m.ListUserSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListUserSessions: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.SessionID {
		t.Fatalf("expected only the current session to remain, got %+v", active)
	}
}

func TestAuthenticateGarbageToken(t *testing.T) {
	m, _, _ := testManager(t, false, nil)

	_, err := m.Authenticate(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if got := ReasonCode(err); got != "AUTH_003" {
		t.Fatalf("expected AUTH_003, got %s", got)
	}
}

func TestBlacklistExpiry(t *testing.T) {
	m, _, _ := testManager(t, false, nil)
	ctx := context.Background()

	pair, err := m.Login(ctx, "amina@afripay.test", "s3cret-pass", testDevice)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := m.Blacklist(ctx, pair.AccessToken, 50*time.Millisecond); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	if _, err := m.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := m.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("blacklist entry should have lapsed: %v", err)
	}
}

func TestGenerateOTPFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := generateOTP()
		if err != nil {
			t.Fatalf("generateOTP: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
		seen[code] = true
	}
	// 200 draws from a million-code space collapsing to a handful would
	// mean the generator is broken.
	if len(seen) < 50 {
		t.Fatalf("suspiciously few distinct codes: %d", len(seen))
	}
}

func TestRefreshTokenFormat(t *testing.T) {
	token, hash, err := newRefreshToken("sess-1")
	if err != nil {
		t.Fatalf("newRefreshToken: %v", err)
	}
	sessionID, secret, err := splitRefreshToken(token)
	if err != nil {
		t.Fatalf("splitRefreshToken: %v", err)
	}
	if sessionID != "sess-1" || secret == "" {
		t.Fatalf("unexpected parts: %q %q", sessionID, secret)
	}
	if !matchRefreshSecret(hash, secret) {
		t.Fatalf("hash must match its own secret")
	}
	if matchRefreshSecret(hash, "tampered") {
		t.Fatalf("hash must reject a different secret")
	}
}
