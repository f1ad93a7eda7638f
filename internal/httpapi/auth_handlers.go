package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"afripay.org/internal/session"
	"afripay.org/internal/user"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type otpVerifyRequest struct {
	UserID   string `json:"user_id"`
	Code     string `json:"code"`
	DeviceID string `json:"device_id"`
}

type otpResendRequest struct {
	UserID string `json:"user_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.sessions.Login(r.Context(), req.Email, req.Password, a.device(r, req.DeviceID))
	if errors.Is(err, session.ErrOTPRequired) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "otp_required",
		})
		return
	}
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.sessions.VerifyOTPAndLogin(r.Context(), req.UserID, req.Code, a.device(r, req.DeviceID))
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleOTPResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpResendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Do not leak whether the user exists.
	_ = a.sessions.IssueOTP(r.Context(), req.UserID)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "otp_sent"})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := session.TokenFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, session.ReasonCode(session.ErrNoToken), "authentication required")
		return
	}
	if err := a.sessions.Logout(r.Context(), token); err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		sessions, err := a.sessions.ListUserSessions(r.Context(), p.UserID)
		if err != nil {
			handleSessionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": sessions})
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if path == "revoke-all" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if err := a.sessions.RevokeAll(r.Context(), p.UserID, p.SessionID, p.Actor(clientIP(r), r.UserAgent())); err != nil {
			handleSessionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	// Users revoke their own sessions; admins may revoke any.
	if !a.ownsSession(r, p, path) {
		writeError(w, r, http.StatusForbidden, "cannot revoke another user's session")
		return
	}
	if err := a.sessions.Revoke(r.Context(), path, p.Actor(clientIP(r), r.UserAgent())); err != nil {
		handleSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ownsSession(r *http.Request, p session.Principal, sessionID string) bool {
	if p.Role == user.RoleSuperuser || p.Role == user.RoleAdmin {
		return true
	}
	sessions, err := a.sessions.ListUserSessions(r.Context(), p.UserID)
	if err != nil {
		return false
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return true
		}
	}
	return false
}

func (a *API) device(r *http.Request, deviceID string) session.Device {
	return session.Device{
		ID:        deviceID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrOTPInvalid),
		errors.Is(err, session.ErrNoToken),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrTokenRevoked),
		errors.Is(err, session.ErrSessionRevoked),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrRefreshExpired):
		writeErrorCode(w, r, http.StatusUnauthorized, session.ReasonCode(err), err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, session.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
