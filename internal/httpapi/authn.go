package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"afripay.org/internal/session"
	"afripay.org/internal/user"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/otp/verify",
	"/v1/auth/otp/resend",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeErrorCode(w, r, http.StatusUnauthorized, session.ReasonCode(session.ErrNoToken), err.Error())
			return
		}

		principal, err := a.sessions.Authenticate(r.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if !knownAuthError(err) {
				status = http.StatusInternalServerError
			}
			writeErrorCode(w, r, status, session.ReasonCode(err), "authentication failed")
			return
		}

		ctx := session.ContextWithPrincipal(r.Context(), principal)
		ctx = session.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal extracts the authenticated caller or writes a 401.
func (a *API) principal(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	p, ok := session.PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, session.ReasonCode(session.ErrNoToken), "authentication required")
		return session.Principal{}, false
	}
	return p, true
}

// requireManagerial gates review endpoints on a managerial role.
func (a *API) requireManagerial(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	p, ok := a.principal(w, r)
	if !ok {
		return session.Principal{}, false
	}
	if !user.Managerial(p.Role) {
		writeError(w, r, http.StatusForbidden, "managerial role required")
		return session.Principal{}, false
	}
	return p, true
}

// requireAdmin gates catalog mutations on an administrative role.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	p, ok := a.principal(w, r)
	if !ok {
		return session.Principal{}, false
	}
	if p.Role != user.RoleAdmin && p.Role != user.RoleSuperuser {
		writeError(w, r, http.StatusForbidden, "administrative role required")
		return session.Principal{}, false
	}
	return p, true
}

func knownAuthError(err error) bool {
	for _, target := range []error{
		session.ErrNoToken, session.ErrInvalidToken, session.ErrTokenRevoked,
		session.ErrSessionRevoked, session.ErrSessionExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
